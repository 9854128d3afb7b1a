package evaluator

import (
	"fmt"

	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/embedding"
)

// PairedCosineDistance returns the mean of 1 - cos(src_i, tgt_i) over the
// source rows. The target may carry extra rows (augmented sets); only the
// first src.Rows are compared.
func PairedCosineDistance(src, tgt *embedding.Matrix) (float64, error) {
	if src.Dim != tgt.Dim {
		return 0, fmt.Errorf("evaluator: source dim %d, target dim %d: %w", src.Dim, tgt.Dim, core.ErrDimensionMismatch)
	}
	if tgt.Rows < src.Rows {
		return 0, fmt.Errorf("evaluator: %d source rows, %d target rows: %w", src.Rows, tgt.Rows, core.ErrRowCountMismatch)
	}
	if src.Rows == 0 {
		return 0, nil
	}
	sn, tn := src.Normalized(), tgt.Normalized()
	var total float64
	for i := 0; i < src.Rows; i++ {
		a, b := sn.Row(i), tn.Row(i)
		var dot float64
		for d := range a {
			dot += float64(a[d]) * float64(b[d])
		}
		total += 1 - dot
	}
	return total / float64(src.Rows), nil
}
