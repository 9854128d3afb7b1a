package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	o := DefaultOptions()
	o.K = 0
	err := o.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "k", ve.Field)

	o = DefaultOptions()
	o.MinSents = -1
	assert.ErrorIs(t, o.Validate(), ErrInvalidConfig)

	o = DefaultOptions()
	o.Margin = "cosine"
	assert.ErrorIs(t, o.Validate(), ErrInvalidConfig)

	o = DefaultOptions()
	o.Dimension = 0
	assert.ErrorIs(t, o.Validate(), ErrInvalidConfig)
}

func TestParse(t *testing.T) {
	m, err := ParseMarginMode("")
	require.NoError(t, err)
	assert.Equal(t, MarginAbsolute, m)
	m, err = ParseMarginMode("Ratio")
	require.NoError(t, err)
	assert.Equal(t, MarginRatio, m)

	p, err := ParsePrecision("fp16")
	require.NoError(t, err)
	assert.Equal(t, 2, p.ElementSize())
	assert.Equal(t, 4, PrecisionFP32.ElementSize())
	_, err = ParsePrecision("bf16")
	assert.Error(t, err)

	a, err := ParseAlignmentMode("index")
	require.NoError(t, err)
	assert.Equal(t, AlignIndex, a)
}

func TestPairError(t *testing.T) {
	err := &PairError{Source: "de", Target: "fr", File: "emb/fr.dev", Err: ErrDimensionMismatch}
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "de-fr")
	assert.Contains(t, err.Error(), "emb/fr.dev")

	wrapped := WithPair(fmt.Errorf("load: %w", &PairError{Lang: "fr", File: "x", Err: ErrMalformedEmbeddingFile}), Pair{"de", "fr"})
	var pe *PairError
	require.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, "de", pe.Source)
	assert.Equal(t, "fr", pe.Lang)
	assert.ErrorIs(t, wrapped, ErrMalformedEmbeddingFile)

	assert.Nil(t, WithPair(nil, Pair{"a", "b"}))
}

func TestAnnotation(t *testing.T) {
	a := Annotation{3: "typo", 5: "case", 7: "typo"}
	l, ok := a.Label(3)
	assert.True(t, ok)
	assert.Equal(t, "typo", l)
	_, ok = a.Label(4)
	assert.False(t, ok)
	assert.Equal(t, []string{"case", "typo"}, a.Labels())

	var none Annotation
	_, ok = none.Label(0)
	assert.False(t, ok)
}
