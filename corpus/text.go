package corpus

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const maxLineBytes = 1 << 20

// ReadLines returns every line of r without its line terminator. A leading
// UTF-8 BOM is dropped; nothing else is normalised.
func ReadLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(transform.NewReader(r, unicode.BOMOverride(transform.Nop)))
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimSuffix(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ReadLinesFile reads the lines of the file at path.
func ReadLinesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	defer f.Close()
	lines, err := ReadLines(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return lines, nil
}

// Combine writes the files at srcs, in order, to dst. Each source is
// terminated with a newline so its last line does not merge with the next
// file's first.
func Combine(dst string, srcs ...string) error {
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "combine into %s", dst)
	}
	w := bufio.NewWriter(out)
	for _, src := range srcs {
		if err := appendFile(w, src); err != nil {
			out.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return errors.Wrapf(err, "combine into %s", dst)
	}
	return errors.Wrapf(out.Close(), "combine into %s", dst)
}

func appendFile(w *bufio.Writer, src string) error {
	lines, err := ReadLinesFile(src)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			return errors.Wrapf(err, "append %s", src)
		}
	}
	return nil
}
