package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
)

// WriteCSV writes the header and rows of t as CSV.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// CSV renders t as CSV bytes.
func CSV(t Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON writes tables as an indented JSON array.
func WriteJSON(w io.Writer, tables ...Table) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tables)
}
