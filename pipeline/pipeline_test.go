package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klejdi94/xsim/config"
	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/corpus"
	"github.com/klejdi94/xsim/embedding"
	"github.com/klejdi94/xsim/encoder"
	"github.com/klejdi94/xsim/report"
	"github.com/klejdi94/xsim/results"
	"github.com/klejdi94/xsim/storage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 8

// basisEncoder maps the line "<tag> <n> ..." to the n-th unit vector.
func basisEncoder() encoder.Encoder {
	return shiftedEncoder(0)
}

// shiftedEncoder maps the line "<tag> <n> ..." to unit vector n+shift.
func shiftedEncoder(shift int) encoder.Encoder {
	return encoder.Func(func(ctx context.Context, in, out string) error {
		lines, err := corpus.ReadLinesFile(in)
		if err != nil {
			return err
		}
		rows := make([][]float32, len(lines))
		for i, l := range lines {
			fields := strings.Fields(l)
			if len(fields) < 2 {
				return errors.New("bad line " + l)
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return err
			}
			rows[i] = make([]float32, dim)
			rows[i][(n+shift)%dim] = 1
		}
		m, err := embedding.FromRows(rows)
		if err != nil {
			return err
		}
		return os.WriteFile(out, embedding.Encode(m, core.PrecisionFP32), 0o644)
	})
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// fixture writes de and en sources and a fr target whose second original row
// has no match; its augmented twin does and is labelled "case".
func fixture(t *testing.T) config.Config {
	t.Helper()
	base := t.TempDir()
	l := corpus.Layout{BaseDir: base, Corpus: "flores", Split: "dev"}
	writeFile(t, l.TextPath("de"), "de 0\nde 1\nde 2\nde 3\n")
	writeFile(t, l.TextPath("en"), "en 0\nen 1\nen 2\nen 3\n")
	writeFile(t, l.TextPath("fr"), "fr 0\nfr 6\nfr 2\nfr 3\n")
	writeFile(t, l.AugmentedTextPath("fr"), "frx 7\nfrx 1\n")
	writeFile(t, l.AnnotationPath("fr"), `{"0": "typo", "1": {"errtype": "case"}}`)

	cfg := config.Default()
	cfg.BaseDir, cfg.Corpus, cfg.Split = base, "flores", "dev"
	cfg.EmbedDir = filepath.Join(base, "emb")
	cfg.SrcLangs = []string{"en", "de"}
	cfg.TgtLangs = []string{"fr"}
	cfg.Dimension = dim
	cfg.MinSents = 0
	cfg.Encoder.Retries = 0
	return cfg
}

func TestRun_Pairwise(t *testing.T) {
	cfg := fixture(t)
	logger, _ := test.NewNullLogger()
	var out bytes.Buffer
	reports := storage.NewMemoryStore()
	store := results.NewMemoryStore(0)
	cfg.Results.RunID = "run-1"

	sum, err := Run(context.Background(), cfg,
		WithLogger(logger),
		WithOutput(&out),
		WithEncoder(basisEncoder()),
		WithReportBlobs(reports),
		WithResults(store),
	)
	require.NoError(t, err)
	require.NotNil(t, sum.Pairwise)
	assert.EqualValues(t, 3, sum.Encoded)

	res := sum.Pairwise
	require.Len(t, res.Pairs, 2)
	assert.Equal(t, "de", res.Pairs[0].Pair.Source, "sources run in sorted order")
	assert.Equal(t, 1, res.Pairs[0].Report.Errors)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, 8, res.Examples)
	assert.Equal(t, "25.00", res.AverageScore())
	assert.Empty(t, res.AugmentedTargets)
	assert.Contains(t, out.String(), "25.00")

	_, err = reports.Get(context.Background(), report.PairwiseFile)
	assert.NoError(t, err)

	aggs, err := store.Query(context.Background(), results.Query{RunID: "run-1", GroupBy: results.GroupByTarget})
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.EqualValues(t, 2, aggs[0].Errors)
	assert.EqualValues(t, 8, aggs[0].Examples)
}

func TestRun_Augmented(t *testing.T) {
	cfg := fixture(t)
	cfg.TgtAugLangs = []string{"fr"}
	cfg.CosineDistances = true
	reports := storage.NewMemoryStore()

	sum, err := Run(context.Background(), cfg,
		WithOutput(nil),
		WithEncoder(basisEncoder()),
		WithReportBlobs(reports),
	)
	require.NoError(t, err)

	res := sum.Pairwise
	assert.Equal(t, []string{"fr"}, res.AugmentedTargets)
	for _, p := range res.Pairs {
		assert.Equal(t, 1, p.Report.Errors, p.Pair.String())
		assert.Equal(t, map[string]int{"case": 1}, p.Report.Breakdown)
	}
	bt, ok := res.BreakdownTable("fr")
	require.True(t, ok)
	assert.Equal(t, []string{"de", "en"}, bt.Sources)

	_, err = reports.Get(context.Background(), report.AugmentedPairwiseFile)
	assert.NoError(t, err)
	_, err = reports.Get(context.Background(), report.BreakdownFile("fr"))
	assert.NoError(t, err)
	_, err = reports.Get(context.Background(), report.DistanceFile)
	assert.NoError(t, err)

	require.NotNil(t, sum.Distances)
	assert.Len(t, sum.Distances.Rows, 2)

	combined, err := corpus.ReadLinesFile(cfg.Layout().CombinedTextPath("fr"))
	require.NoError(t, err)
	assert.Len(t, combined, 6)
}

func TestRun_BadAnnotationKeepsScores(t *testing.T) {
	cfg := fixture(t)
	cfg.TgtAugLangs = []string{"fr"}
	writeFile(t, cfg.Layout().AnnotationPath("fr"), `{"0": "typo"}`)

	sum, err := Run(context.Background(), cfg, WithOutput(nil), WithEncoder(basisEncoder()))
	require.NoError(t, err)
	res := sum.Pairwise
	assert.Equal(t, 2, res.Errors)
	assert.ErrorIs(t, res.BreakdownErrors["fr"], core.ErrMissingAnnotation)
	_, ok := res.BreakdownTable("fr")
	assert.False(t, ok)
}

func TestRun_NWay(t *testing.T) {
	cfg := fixture(t)
	cfg.NWay = true
	cfg.TgtLangs = nil
	cfg.SrcLangs = []string{"fr", "de", "en"}

	sum, err := Run(context.Background(), cfg, WithOutput(nil), WithEncoder(basisEncoder()))
	require.NoError(t, err)
	m := sum.NWay
	require.NotNil(t, m)
	assert.Equal(t, []string{"de", "en", "fr"}, m.Langs)
	assert.InDelta(t, 0, m.Cells[0][1], 1e-9)
	assert.InDelta(t, 25, m.Cells[0][2], 1e-9)
	assert.InDelta(t, 25, m.Cells[2][0], 1e-9)
}

func TestRun_ReusesEmbeddings(t *testing.T) {
	cfg := fixture(t)
	cfg.Encoder.Reuse = true
	_, err := Run(context.Background(), cfg, WithOutput(nil), WithEncoder(basisEncoder()))
	require.NoError(t, err)

	calls := 0
	counting := encoder.Func(func(ctx context.Context, in, out string) error {
		calls++
		return basisEncoder().Encode(ctx, in, out)
	})
	_, err = Run(context.Background(), cfg, WithOutput(nil), WithEncoder(counting))
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRun_SeparateTargetEncoder(t *testing.T) {
	cfg := fixture(t)
	var tgtInputs []string
	target := encoder.Func(func(ctx context.Context, in, out string) error {
		tgtInputs = append(tgtInputs, filepath.Base(in))
		return shiftedEncoder(1).Encode(ctx, in, out)
	})

	sum, err := Run(context.Background(), cfg,
		WithOutput(nil),
		WithEncoder(basisEncoder()),
		WithTargetEncoder(target),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 3, sum.Encoded)
	assert.Equal(t, []string{"fr.dev"}, tgtInputs)

	layout := cfg.Layout()
	assert.FileExists(t, filepath.Join(cfg.EmbedDir, layout.TargetEmbeddingKey("fr", false)))
	assert.FileExists(t, filepath.Join(cfg.EmbedDir, layout.EmbeddingKey("de")))
	assert.NoFileExists(t, filepath.Join(cfg.EmbedDir, layout.EmbeddingKey("fr")))

	// Shifted target vectors leave only row 0 right, through a tie on index 0.
	for _, p := range sum.Pairwise.Pairs {
		assert.Equal(t, 3, p.Report.Errors, p.Pair.String())
	}

	// A language on both sides gets one file per model.
	p, err := New(cfg, WithTargetEncoder(target))
	require.NoError(t, err)
	var keys []string
	for _, u := range p.units([]string{"fr"}, []string{"fr"}, nil) {
		keys = append(keys, u.key)
	}
	assert.Equal(t, []string{"fr.dev", "tgt_fr.dev"}, keys)

	p, err = New(cfg)
	require.NoError(t, err)
	assert.Len(t, p.units([]string{"fr"}, []string{"fr"}, nil), 1)
}

func TestRun_SeparateTargetEncoderAugmented(t *testing.T) {
	cfg := fixture(t)
	cfg.TgtAugLangs = []string{"fr"}
	sum, err := Run(context.Background(), cfg,
		WithOutput(nil),
		WithEncoder(basisEncoder()),
		WithTargetEncoder(basisEncoder()),
	)
	require.NoError(t, err)
	layout := cfg.Layout()
	assert.FileExists(t, filepath.Join(cfg.EmbedDir, layout.TargetEmbeddingKey("fr", true)))
	assert.NoFileExists(t, filepath.Join(cfg.EmbedDir, layout.AugmentedEmbeddingKey("fr")))
	for _, p := range sum.Pairwise.Pairs {
		assert.Equal(t, 1, p.Report.Errors, p.Pair.String())
	}
}

func TestRun_Failures(t *testing.T) {
	cfg := fixture(t)
	_, err := Run(context.Background(), cfg, WithOutput(nil))
	assert.ErrorIs(t, err, storage.ErrNotFound, "nothing encoded and no encoder")

	failing := encoder.Func(func(ctx context.Context, in, out string) error {
		return os.WriteFile(out, []byte{1, 2, 3}, 0o644)
	})
	_, err = Run(context.Background(), cfg, WithOutput(nil), WithEncoder(failing))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEncodingFailure)
	var pe *core.PairError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "de", pe.Lang)

	cfg.Dimension = 0
	_, err = Run(context.Background(), cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestRun_Canceled(t *testing.T) {
	cfg := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, cfg, WithOutput(nil), WithEncoder(basisEncoder()))
	assert.ErrorIs(t, err, context.Canceled)
}
