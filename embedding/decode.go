package embedding

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klejdi94/xsim/core"
	"github.com/x448/float16"
)

// Decode interprets buf as little-endian IEEE-754 rows of dim components with
// no header. Half-precision input is widened to float32. A buffer that is
// empty or not a whole number of rows is rejected without a partial load.
func Decode(buf []byte, dim int, prec core.Precision) (*Matrix, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding: dimension %d: %w", dim, core.ErrMalformedEmbeddingFile)
	}
	size := prec.ElementSize()
	stride := dim * size
	if len(buf) == 0 || len(buf)%stride != 0 {
		return nil, fmt.Errorf("embedding: %d bytes is not a multiple of row stride %d (dim=%d, %s): %w",
			len(buf), stride, dim, prec, core.ErrMalformedEmbeddingFile)
	}
	n := len(buf) / size
	data := make([]float32, n)
	if prec == core.PrecisionFP16 {
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
		}
	} else {
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	}
	return &Matrix{Rows: n / dim, Dim: dim, Precision: prec, Data: data}, nil
}

// Encode serialises m in the raw on-disk layout at the given precision.
func Encode(m *Matrix, prec core.Precision) []byte {
	size := prec.ElementSize()
	buf := make([]byte, len(m.Data)*size)
	for i, v := range m.Data {
		if prec == core.PrecisionFP16 {
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
		} else {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
	}
	return buf
}
