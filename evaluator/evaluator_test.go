package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/embedding"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lang(t *testing.T, name string, rows [][]float32, text []string) Language {
	t.Helper()
	return Language{Name: name, Embeddings: embedding.Loaded(matrix(t, rows)), Text: text}
}

func newTestEvaluator(t *testing.T, opts core.Options, extra ...Option) *Evaluator {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e, err := New(opts, embedding.MemoryResolver{}, append([]Option{WithLogger(logger)}, extra...)...)
	require.NoError(t, err)
	return e
}

func testOptions(minSents int, align core.AlignmentMode) core.Options {
	o := core.DefaultOptions()
	o.Dimension = 8
	o.MinSents = minSents
	o.Alignment = align
	return o
}

type captureSink struct {
	mu      sync.Mutex
	results []PairResult
	err     error
}

func (c *captureSink) RecordPair(ctx context.Context, res PairResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
	return c.err
}

func TestNew_InvalidOptions(t *testing.T) {
	o := core.DefaultOptions()
	o.K = -1
	_, err := New(o, nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestEvaluatePair_StatesAndSink(t *testing.T) {
	type transition struct{ from, to State }
	var seen []transition
	sink := &captureSink{err: errors.New("unavailable")}
	e := newTestEvaluator(t, testOptions(0, core.AlignIndex),
		WithSink(sink),
		WithStateHook(func(p core.Pair, from, to State) {
			assert.Equal(t, "de-fr", p.String())
			seen = append(seen, transition{from, to})
		}))

	rows := basis(4, 8)
	res, err := e.EvaluatePair(context.Background(), lang(t, "de", rows, nil), lang(t, "fr", rows, nil))
	require.NoError(t, err)
	assert.Equal(t, "0.00", res.Score())
	assert.Equal(t, []transition{
		{StateIdle, StateLoadingEmbeddings},
		{StateLoadingEmbeddings, StateScoring},
		{StateScoring, StateAggregating},
		{StateAggregating, StateReporting},
		{StateReporting, StateIdle},
	}, seen)
	require.Len(t, sink.results, 1)
	assert.Equal(t, core.Pair{Source: "de", Target: "fr"}, sink.results[0].Pair)
	assert.Equal(t, "aggregating", StateAggregating.String())
}

func TestEvaluatePair_Errors(t *testing.T) {
	e := newTestEvaluator(t, testOptions(0, core.AlignIndex))
	ctx := context.Background()

	_, err := e.EvaluatePair(ctx, lang(t, "de", basis(3, 8), nil), lang(t, "fr", basis(4, 8), nil))
	assert.ErrorIs(t, err, core.ErrRowCountMismatch)
	var pe *core.PairError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "de", pe.Source)
	assert.Equal(t, "fr", pe.Target)

	_, err = e.EvaluatePair(ctx, lang(t, "de", basis(3, 8), []string{"a"}), lang(t, "fr", basis(3, 8), nil))
	assert.ErrorIs(t, err, core.ErrRowCountMismatch)

	_, err = e.EvaluatePair(ctx, lang(t, "de", basis(3, 8), nil), lang(t, "fr", basis(3, 4), nil))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "de-fr", core.Pair{Source: pe.Source, Target: pe.Target}.String())

	_, err = e.EvaluatePair(ctx, lang(t, "de", basis(3, 8), nil), Language{Name: "fr", Embeddings: embedding.OnDisk("emb/fr.dev")})
	require.Error(t, err)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "fr", pe.Lang)
	assert.Equal(t, "emb/fr.dev", pe.File)

	// A dimension mismatch is fatal even when the pair would be skipped.
	e = newTestEvaluator(t, testOptions(100, core.AlignIndex))
	res, err := e.EvaluatePair(ctx, lang(t, "de", basis(3, 8), nil), lang(t, "fr", basis(3, 4), nil))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "fr", pe.Lang)
	assert.False(t, res.Skipped)
}

func TestEvaluatePair_EmptyTargetSkipReason(t *testing.T) {
	empty := func() embedding.Handle {
		m, err := embedding.NewMatrix(0, 8, nil)
		require.NoError(t, err)
		return embedding.Loaded(m)
	}
	e := newTestEvaluator(t, testOptions(0, core.AlignIndex))
	res, err := e.EvaluatePair(context.Background(),
		Language{Name: "de", Embeddings: empty()}, Language{Name: "fr", Embeddings: empty()})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.ErrorIs(t, res.SkipReason, core.ErrInsufficientExamples)
	assert.Contains(t, res.SkipReason.Error(), "empty target set")
	assert.NotContains(t, res.SkipReason.Error(), "minimum")

	e = newTestEvaluator(t, testOptions(10, core.AlignIndex))
	res, err = e.EvaluatePair(context.Background(), lang(t, "de", basis(3, 8), nil), lang(t, "fr", basis(3, 8), nil))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Contains(t, res.SkipReason.Error(), "3 examples, minimum 10")
}

func TestEvaluatePair_TextAlignmentWithoutTargetText(t *testing.T) {
	logger, hook := test.NewNullLogger()
	e, err := New(testOptions(0, core.AlignText), embedding.MemoryResolver{}, WithLogger(logger))
	require.NoError(t, err)

	res, err := e.EvaluatePair(context.Background(), lang(t, "de", basis(3, 8), nil), lang(t, "fr", basis(3, 8), nil))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Report.Errors)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["target"] == "fr" {
			warned = true
			assert.Contains(t, entry.Message, "index alignment")
		}
	}
	assert.True(t, warned)

	hook.Reset()
	_, err = e.EvaluatePair(context.Background(),
		lang(t, "de", basis(3, 8), []string{"a", "b", "c"}), lang(t, "fr", basis(3, 8), []string{"a", "b", "c"}))
	require.NoError(t, err)
	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, entry.Level, entry.Message)
	}
}

func TestPairwise_ThresholdSkip(t *testing.T) {
	rows := randomRowsSeed(50, 8, 1)
	in := PairwiseInput{
		Sources: []Language{lang(t, "de", rows, nil), lang(t, "en", rows, nil)},
		Targets: []Language{lang(t, "fr", rows, nil), lang(t, "en", rows, nil)},
	}

	e := newTestEvaluator(t, testOptions(100, core.AlignIndex))
	res, err := e.Pairwise(context.Background(), in)
	require.NoError(t, err)
	// de-fr, de-en, en-fr; en-en is never evaluated.
	require.Len(t, res.Pairs, 3)
	for _, p := range res.Pairs {
		assert.True(t, p.Skipped, p.Pair.String())
		assert.Equal(t, "skipped", p.Score())
		assert.ErrorIs(t, p.SkipReason, core.ErrInsufficientExamples)
		assert.Equal(t, 50, p.Report.Examples)
	}
	assert.Equal(t, 0, res.Evaluated)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 0, res.Examples)

	e = newTestEvaluator(t, testOptions(50, core.AlignIndex))
	res, err = e.Pairwise(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Evaluated)
	assert.Equal(t, 150, res.Examples)
	assert.Equal(t, "0.00", res.AverageScore())
	assert.Equal(t, "0.00", res.Pairs[0].Score())
}

func TestPairwise_AllSkipped(t *testing.T) {
	e := newTestEvaluator(t, testOptions(100, core.AlignIndex))
	rows := basis(5, 8)
	res, err := e.Pairwise(context.Background(), PairwiseInput{
		Sources: []Language{lang(t, "de", rows, nil)},
		Targets: []Language{lang(t, "fr", rows, nil)},
	})
	require.NoError(t, err)
	_, ok := res.Average()
	assert.False(t, ok)
	assert.Equal(t, "skipped", res.AverageScore())
}

func TestPairwise_PartialResultOnFatalError(t *testing.T) {
	e := newTestEvaluator(t, testOptions(0, core.AlignIndex))
	res, err := e.Pairwise(context.Background(), PairwiseInput{
		Sources: []Language{lang(t, "de", basis(3, 8), nil), lang(t, "en", basis(3, 4), nil)},
		Targets: []Language{lang(t, "fr", basis(3, 8), nil)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	require.NotNil(t, res)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, "de-fr", res.Pairs[0].Pair.String())
}

// augmentedFixture builds a 5-row source and a 10-row augmented target whose
// first three source rows are closest to their perturbed copies.
func augmentedFixture(t *testing.T) (de, en, fr Language) {
	src := basis(5, 8)
	tgt := make([][]float32, 0, 10)
	for i, r := range src {
		row := append([]float32(nil), r...)
		if i < 3 {
			row[7] = 0.5
		}
		tgt = append(tgt, row)
	}
	tgt = append(tgt, src[0], src[1], src[2])
	extra := basis(7, 8)
	tgt = append(tgt, extra[5], extra[6])

	text := []string{"s0", "s1", "s2", "s3", "s4", "t0", "t1", "t2", "c5", "n6"}
	fr = lang(t, "fr", tgt, text)
	fr.Augmented = true
	fr.Annotation = core.Annotation{5: "typo", 6: "typo", 7: "typo", 8: "case", 9: "na"}

	de = lang(t, "de", src, nil)
	en = lang(t, "en", tgt[:5], nil)
	return de, en, fr
}

func TestPairwise_AugmentedBreakdown(t *testing.T) {
	de, en, fr := augmentedFixture(t)
	e := newTestEvaluator(t, testOptions(0, core.AlignText))

	res, err := e.Pairwise(context.Background(), PairwiseInput{
		Sources: []Language{de, en},
		Targets: []Language{fr},
	})
	require.NoError(t, err)
	require.Len(t, res.Pairs, 2)

	deFr := res.Pairs[0]
	assert.Equal(t, 3, deFr.Report.Errors)
	assert.Equal(t, 5, deFr.Report.Examples)
	assert.Equal(t, map[string]int{"typo": 3}, deFr.Report.Breakdown)
	assert.Equal(t, 0, res.Pairs[1].Report.Errors)

	assert.Equal(t, []string{"fr"}, res.AugmentedTargets)
	table, ok := res.BreakdownTable("fr")
	require.True(t, ok)
	assert.Equal(t, []string{"de", "en"}, table.Sources)
	assert.Equal(t, []string{"typo"}, table.Labels)
	assert.Equal(t, [][]int{{3}, {0}}, table.Counts)

	_, ok = res.BreakdownTable("de")
	assert.False(t, ok)
	assert.Equal(t, "30.00", res.AverageScore())
}

func TestPairwise_MissingAnnotationOnlyDisablesBreakdown(t *testing.T) {
	de, _, fr := augmentedFixture(t)
	fr.Annotation = nil
	e := newTestEvaluator(t, testOptions(0, core.AlignText))

	res, err := e.Pairwise(context.Background(), PairwiseInput{Sources: []Language{de}, Targets: []Language{fr}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pairs[0].Report.Errors)
	assert.Nil(t, res.Pairs[0].Report.Breakdown)
	assert.ErrorIs(t, res.BreakdownErrors["fr"], core.ErrMissingAnnotation)
	_, ok := res.BreakdownTable("fr")
	assert.False(t, ok)

	fr.AnnotationErr = fmt.Errorf("fr_errtype.dev.json: %w", core.ErrMissingAnnotation)
	res, err = e.Pairwise(context.Background(), PairwiseInput{Sources: []Language{de}, Targets: []Language{fr}})
	require.NoError(t, err)
	assert.Contains(t, res.BreakdownErrors["fr"].Error(), "fr_errtype")
}

func TestPairwise_AugmentedTargetTooSmall(t *testing.T) {
	e := newTestEvaluator(t, testOptions(0, core.AlignIndex))
	fr := lang(t, "fr", basis(2, 8), nil)
	fr.Augmented = true
	_, err := e.Pairwise(context.Background(), PairwiseInput{
		Sources: []Language{lang(t, "de", basis(3, 8), nil)},
		Targets: []Language{fr},
	})
	assert.ErrorIs(t, err, core.ErrRowCountMismatch)
}

func TestNWay_Diagonal(t *testing.T) {
	e := newTestEvaluator(t, testOptions(0, core.AlignIndex))
	rows := basis(4, 8)
	langs := []Language{lang(t, "A", rows, nil), lang(t, "B", rows, nil), lang(t, "C", reversed(rows), nil)}

	m, err := e.NWay(context.Background(), langs)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, m.Langs)
	for i := range langs {
		assert.Equal(t, 0.0, m.Cells[i][i])
	}
	assert.Equal(t, 0.0, m.Cells[0][1])
	assert.Equal(t, 100.0, m.Cells[0][2])
	assert.Equal(t, 100.0, m.Cells[2][1])
	assert.Equal(t, []float64{50, 50, 100}, m.Average)
	assert.InDelta(t, 200.0/3, m.GlobalAverage(), 1e-9)
}

func TestNWay_SkippedCellsLeaveAverage(t *testing.T) {
	e := newTestEvaluator(t, testOptions(5, core.AlignIndex))
	rows := basis(4, 8)
	m, err := e.NWay(context.Background(), []Language{lang(t, "A", rows, nil), lang(t, "B", rows, nil)})
	require.NoError(t, err)
	assert.True(t, m.Skipped[0][1])
	assert.True(t, m.Skipped[1][0])
	assert.Equal(t, []float64{0, 0}, m.Average)
}

func TestCosineDistances(t *testing.T) {
	e := newTestEvaluator(t, testOptions(0, core.AlignIndex))
	rows := basis(4, 8)
	table, err := e.CosineDistances(context.Background(), PairwiseInput{
		Sources: []Language{lang(t, "A", rows, nil), lang(t, "B", rows, nil)},
		Targets: []Language{lang(t, "A", rows, nil), lang(t, "C", reversed(rows), nil)},
	})
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "A-C", table.Rows[0].Pair.String())
	assert.InDelta(t, 1.0, table.Rows[0].Distance, 1e-6)
	assert.InDelta(t, 0.0, table.Rows[1].Distance, 1e-6)
	assert.Equal(t, 4, table.Pairs)
	assert.InDelta(t, 2.0/3, table.Average, 1e-6)
}
