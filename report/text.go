package report

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// styleFor maps a report style onto a go-pretty table style. Headers keep
// their case; psql draws a pipe-bounded header rule and no row rules.
func styleFor(s Style) table.Style {
	style := table.StyleDefault
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	switch s {
	case StyleGrid:
		style.Name = "xsim-grid"
		style.Options.SeparateRows = true
	case StylePlain:
		style.Name = "xsim-plain"
		style.Box.PaddingLeft = ""
		style.Box.PaddingRight = "  "
		style.Options.DrawBorder = false
		style.Options.SeparateColumns = false
		style.Options.SeparateHeader = false
	default:
		style.Name = "xsim-psql"
		style.Box.LeftSeparator = "|"
		style.Box.RightSeparator = "|"
	}
	return style
}

func render(t Table) string {
	tw := table.NewWriter()
	tw.SetStyle(styleFor(t.Style))
	tw.AppendHeader(cells(t.Header))
	for _, r := range t.Rows {
		tw.AppendRow(cells(r))
	}
	out := tw.Render()
	if t.Style == StylePlain {
		lines := strings.Split(out, "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight(l, " ")
		}
		out = strings.Join(lines, "\n")
	}
	return out
}

func cells(in []string) table.Row {
	row := make(table.Row, len(in))
	for i, c := range in {
		row[i] = c
	}
	return row
}

// WriteText renders t in its style to w.
func WriteText(w io.Writer, t Table) error {
	_, err := io.WriteString(w, Text(t))
	return err
}

// Text renders t to a string. The title goes on its own line above the
// table and the footer below it after a blank line.
func Text(t Table) string {
	var b strings.Builder
	if t.Title != "" {
		b.WriteString(t.Title)
		b.WriteByte('\n')
	}
	b.WriteString(render(t))
	b.WriteByte('\n')
	if t.Footer != "" {
		b.WriteByte('\n')
		b.WriteString(t.Footer)
		b.WriteByte('\n')
	}
	return b.String()
}
