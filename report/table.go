// Package report turns evaluation results into tables and writes them as
// text, CSV or JSON.
package report

import (
	"fmt"
	"strconv"

	"github.com/klejdi94/xsim/evaluator"
)

// Style selects the text layout of a table.
type Style int

const (
	// StylePSQL draws a header separator only.
	StylePSQL Style = iota
	// StyleGrid separates every row.
	StyleGrid
	// StylePlain aligns columns without borders.
	StylePlain
)

// Table is a rendered-ready grid of cells.
type Table struct {
	Title  string     `json:"title,omitempty"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
	Style  Style      `json:"-"`
	// Footer is printed below the table in text output only.
	Footer string `json:"footer,omitempty"`
}

// PairwiseTable is the corpus table: one row per pair and a trailing average
// row whose example count totals the pairs that were not skipped.
func PairwiseTable(corpus string, res *evaluator.PairwiseResult) Table {
	score := "xsim"
	if len(res.AugmentedTargets) > 0 {
		score = "xsim(++)"
	}
	t := Table{Header: []string{"dataset", "src-tgt", score, "nbex"}, Style: StylePSQL}
	for _, p := range res.Pairs {
		t.Rows = append(t.Rows, []string{corpus, p.Pair.String(), p.Score(), strconv.Itoa(p.Report.Examples)})
	}
	t.Rows = append(t.Rows, []string{corpus, "average", res.AverageScore(), strconv.Itoa(res.Examples)})
	return t
}

// BreakdownTable is the absolute error count per source and perturbation
// label of one augmented target.
func BreakdownTable(bt *evaluator.BreakdownTable) Table {
	t := Table{
		Title:  "Absolute error under augmented transformations for: " + bt.Target,
		Header: append([]string{""}, bt.Labels...),
		Style:  StyleGrid,
	}
	for i, src := range bt.Sources {
		row := []string{src}
		for _, c := range bt.Counts[i] {
			row = append(row, fmt.Sprintf("%.2f", float64(c)))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// NWayTable is the square error matrix with a trailing "avg" row and the
// global average as footer.
func NWayTable(m *evaluator.ErrorMatrix) Table {
	t := Table{Header: append([]string{""}, m.Langs...), Style: StyleGrid}
	for i, lang := range m.Langs {
		row := []string{lang}
		for j := range m.Langs {
			if m.Skipped[i][j] {
				row = append(row, "skipped")
				continue
			}
			row = append(row, fmt.Sprintf("%.2f", m.Cells[i][j]))
		}
		t.Rows = append(t.Rows, row)
	}
	avg := []string{"avg"}
	for _, v := range m.Average {
		avg = append(avg, fmt.Sprintf("%.2f", v))
	}
	t.Rows = append(t.Rows, avg)
	t.Footer = fmt.Sprintf("Global average: %.2f", m.GlobalAverage())
	return t
}

// DistanceTable lists mean paired cosine distances with their plain mean.
func DistanceTable(corpus string, d *evaluator.DistanceTable) Table {
	t := Table{Header: []string{"dataset", "src-tgt", "cosdist", "nbex"}, Style: StylePSQL}
	for _, r := range d.Rows {
		t.Rows = append(t.Rows, []string{corpus, r.Pair.String(), strconv.FormatFloat(r.Distance, 'f', -1, 64), strconv.Itoa(r.Examples)})
	}
	t.Rows = append(t.Rows, []string{corpus, "average", fmt.Sprintf("%.2f", d.Average), strconv.Itoa(d.Pairs)})
	return t
}
