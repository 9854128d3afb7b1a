package xsim

import (
	"context"
	"testing"

	"github.com/klejdi94/xsim/core"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	b := New().
		WithMargin(MarginRatio).
		WithK(2).
		WithMinSents(0).
		WithPrecision(PrecisionFP16).
		WithAlignment(AlignIndex).
		WithDimension(3).
		WithLogger(logger)
	o := b.Options()
	assert.Equal(t, MarginRatio, o.Margin)
	assert.Equal(t, PrecisionFP16, o.Precision)

	ev, err := b.Build(nil)
	require.NoError(t, err)

	src, err := FromRows([][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	require.NoError(t, err)
	tgt, err := FromRows([][]float32{{0, 0, 1}, {0, 1, 0}, {1, 0, 0}})
	require.NoError(t, err)

	res, err := ev.EvaluatePair(context.Background(),
		Language{Name: "de", Embeddings: Loaded(src)},
		Language{Name: "fr", Embeddings: Loaded(tgt)},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Report.Errors)
	assert.Equal(t, 3, res.Report.Examples)
}

func TestBuilder_Invalid(t *testing.T) {
	_, err := New().WithK(0).Build(nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New().WithMargin("cosine").Build(nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
