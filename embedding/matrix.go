// Package embedding loads fixed-dimension sentence embeddings into immutable
// row-major matrices and caches them per language for an evaluation run.
package embedding

import (
	"fmt"
	"math"
	"sync"

	"github.com/klejdi94/xsim/core"
)

// Matrix is a row-major matrix of embedding vectors. It must not be modified
// after construction; every matching call shares it read-only.
type Matrix struct {
	Rows      int
	Dim       int
	Precision core.Precision
	Data      []float32

	normOnce sync.Once
	norm     *Matrix
}

// NewMatrix wraps data as a rows x dim matrix.
func NewMatrix(rows, dim int, data []float32) (*Matrix, error) {
	if rows < 0 || dim <= 0 || len(data) != rows*dim {
		return nil, fmt.Errorf("embedding: %d values cannot form %dx%d: %w", len(data), rows, dim, core.ErrMalformedEmbeddingFile)
	}
	return &Matrix{Rows: rows, Dim: dim, Precision: core.PrecisionFP32, Data: data}, nil
}

// FromRows copies vectors into a new matrix. All rows must share one length.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("embedding: no rows: %w", core.ErrMalformedEmbeddingFile)
	}
	dim := len(rows[0])
	data := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, fmt.Errorf("embedding: row %d has %d values, want %d: %w", i, len(r), dim, core.ErrDimensionMismatch)
		}
		data = append(data, r...)
	}
	return NewMatrix(len(rows), dim, data)
}

// Row returns row i as a view into the matrix data.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim]
}

// Normalized returns the L2-normalised copy of m, computed on first use.
// Zero rows stay zero.
func (m *Matrix) Normalized() *Matrix {
	m.normOnce.Do(func() {
		data := make([]float32, len(m.Data))
		for i := 0; i < m.Rows; i++ {
			src := m.Row(i)
			var sum float64
			for _, v := range src {
				sum += float64(v) * float64(v)
			}
			dst := data[i*m.Dim : (i+1)*m.Dim]
			if sum == 0 {
				continue
			}
			inv := 1 / math.Sqrt(sum)
			for j, v := range src {
				dst[j] = float32(float64(v) * inv)
			}
		}
		m.norm = &Matrix{Rows: m.Rows, Dim: m.Dim, Precision: m.Precision, Data: data}
		m.norm.normOnce.Do(func() {})
		m.norm.norm = m.norm
	})
	return m.norm
}
