package evaluator

import (
	"sort"

	"github.com/klejdi94/xsim/core"
)

// ErrorReport is the error count of one language pair. It is not modified
// after Aggregate returns.
type ErrorReport struct {
	Errors   int
	Examples int
	// Breakdown counts mismatches per perturbation label. Nil unless an
	// annotation was supplied; labels without mismatches are absent.
	Breakdown map[string]int
}

// Rate returns the error rate in percent.
func (r ErrorReport) Rate() float64 {
	if r.Examples == 0 {
		return 0
	}
	return 100 * float64(r.Errors) / float64(r.Examples)
}

// Labels returns the breakdown labels in sorted order.
func (r ErrorReport) Labels() []string {
	out := make([]string, 0, len(r.Breakdown))
	for l := range r.Breakdown {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Aggregate counts the source rows whose retrieved target is not correct
// under alignment. With an annotation, each mismatch is attributed to the
// label of the retrieved row, or failing that the expected row; mismatches
// with neither are left out of the breakdown.
func Aggregate(best []int, sourceCount int, alignment Alignment, ann core.Annotation) ErrorReport {
	if alignment == nil {
		alignment = IndexAlignment{}
	}
	rep := ErrorReport{Examples: sourceCount}
	if ann != nil {
		rep.Breakdown = make(map[string]int)
	}
	n := min(sourceCount, len(best))
	for i := 0; i < n; i++ {
		if alignment.Correct(i, best[i]) {
			continue
		}
		rep.Errors++
		if ann == nil {
			continue
		}
		if l, ok := ann.Label(best[i]); ok {
			rep.Breakdown[l]++
		} else if l, ok := ann.Label(i); ok {
			rep.Breakdown[l]++
		}
	}
	// Rows without a retrieval count as misses.
	rep.Errors += sourceCount - n
	return rep
}
