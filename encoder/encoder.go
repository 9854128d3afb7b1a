// Package encoder turns sentence files into embedding files. The evaluation
// engine never encodes itself; it only requires that every embedding file
// exists, is non-empty and holds whole rows before scoring starts.
package encoder

import (
	"context"
	"fmt"
	"os"

	"github.com/klejdi94/xsim/core"
)

// Encoder writes the embeddings of the sentences in inPath to outPath.
type Encoder interface {
	Encode(ctx context.Context, inPath, outPath string) error
}

// Func adapts a function to Encoder.
type Func func(ctx context.Context, inPath, outPath string) error

// Encode implements Encoder.
func (f Func) Encode(ctx context.Context, inPath, outPath string) error {
	return f(ctx, inPath, outPath)
}

// Verify checks that path holds a non-empty whole number of rows of dim
// components at prec. Failures wrap core.ErrEncodingFailure.
func Verify(path string, dim int, prec core.Precision) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("encoder: %s: %v: %w", path, err, core.ErrEncodingFailure)
	}
	if st.Size() == 0 {
		return fmt.Errorf("encoder: %s is empty: %w", path, core.ErrEncodingFailure)
	}
	stride := int64(dim * prec.ElementSize())
	if stride <= 0 || st.Size()%stride != 0 {
		return fmt.Errorf("encoder: %s has %d bytes, not a multiple of row stride %d: %w",
			path, st.Size(), stride, core.ErrEncodingFailure)
	}
	return nil
}
