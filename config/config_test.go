package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klejdi94/xsim/core"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runFile = `
base_dir: /data
corpus: flores200
corpus_part: devtest
embed_dir: /tmp/emb
src_langs: [deu_Latn, eng_Latn]
tgt_langs: [fra_Latn]
tgt_aug_langs: [fra_Latn]
margin: ratio
k: 8
min_sents: 50
fp16: true
embedding_dimension: 768
index_comparison: true
encoder:
  url: http://localhost:8000/v1
  batch_size: 32
results:
  store: redis
  redis_addr: localhost:6379
log:
  level: debug
  format: json
`

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(write(t, "run.yaml", runFile))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "flores200", cfg.Corpus)
	assert.Equal(t, []string{"deu_Latn", "eng_Latn"}, cfg.SrcLangs)
	assert.True(t, cfg.Encoder.Enabled())
	assert.Equal(t, 3, cfg.Encoder.Retries, "defaults survive partial files")
	assert.Equal(t, "text", cfg.Output)

	o := cfg.Options()
	assert.Equal(t, core.MarginRatio, o.Margin)
	assert.Equal(t, 8, o.K)
	assert.Equal(t, 50, o.MinSents)
	assert.Equal(t, core.PrecisionFP16, o.Precision)
	assert.Equal(t, core.AlignIndex, o.Alignment)
	assert.Equal(t, 768, o.Dimension)

	l := cfg.Layout()
	assert.Equal(t, "devtest", l.Split)
	assert.Equal(t, "/tmp/emb", l.EmbedDir)

	logger, err := cfg.Log.Logger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(write(t, "run.yaml", "unknown_key: 1\n"))
	assert.Error(t, err)
	_, err = Load(write(t, "run.toml", ""))
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err := Load(write(t, "run.json", `{"corpus": "x", "k": 2}`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.K)
}

func TestValidate(t *testing.T) {
	base := Default()
	base.BaseDir, base.Corpus, base.Split = "/data", "flores", "dev"
	base.SrcLangs = []string{"de"}
	base.TgtLangs = []string{"fr"}
	base.EmbedDir = "/emb"
	require.NoError(t, base.Validate())

	c := base
	c.TgtLangs = nil
	assert.ErrorIs(t, c.Validate(), core.ErrInvalidConfig)
	c.NWay = true
	assert.NoError(t, c.Validate())

	c = base
	c.TgtAugLangs = []string{"it"}
	assert.ErrorIs(t, c.Validate(), core.ErrInvalidConfig)

	c = base
	c.Margin = "cosine"
	assert.ErrorIs(t, c.Validate(), core.ErrInvalidConfig)

	c = base
	c.Corpus = ""
	assert.ErrorIs(t, c.Validate(), core.ErrInvalidConfig)

	c = base
	c.Results.Store = "sqlite"
	assert.ErrorIs(t, c.Validate(), core.ErrInvalidConfig)

	c = base
	c.EmbedDir = ""
	assert.ErrorIs(t, c.Validate(), core.ErrInvalidConfig)
	c.Encoder.Command = "embed"
	assert.NoError(t, c.Validate())
	c.EmbedDir = "s3://bucket/emb"
	assert.ErrorIs(t, c.Validate(), core.ErrInvalidConfig)

	c = base
	c.Margin = ""
	assert.Equal(t, core.MarginAbsolute, c.Options().Margin)
}

func TestTargetEncoder(t *testing.T) {
	cfg, err := Load(write(t, "run.yaml", runFile))
	require.NoError(t, err)
	assert.False(t, cfg.SeparateTargetEncoder())
	assert.Equal(t, cfg.Encoder, cfg.TargetEncoder())

	cfg, err = Load(write(t, "run.yaml", runFile+"tgt_encoder:\n  command: ./embed-tgt\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.SeparateTargetEncoder())
	assert.Equal(t, "./embed-tgt", cfg.TargetEncoder().Command)
	assert.Equal(t, 3, cfg.TargetEncoder().Retries)

	cfg.TgtEncoder = cfg.Encoder
	cfg.TgtEncoder.Retries = 0
	assert.False(t, cfg.SeparateTargetEncoder(), "same model with other middleware settings")

	c := Default()
	c.BaseDir, c.Corpus, c.Split = "/data", "flores", "dev"
	c.SrcLangs, c.TgtLangs, c.EmbedDir = []string{"de"}, []string{"fr"}, "/emb"
	c.TgtEncoder.Command = "./embed-tgt"
	assert.ErrorIs(t, c.Validate(), core.ErrInvalidConfig)
}

func TestSplitLangs(t *testing.T) {
	assert.Equal(t, []string{"de", "en", "fr"}, SplitLangs("fr, de,,en,de"))
	assert.Empty(t, SplitLangs(""))
}

func TestLogConfig(t *testing.T) {
	_, err := LogConfig{Level: "loud"}.Logger()
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	_, err = LogConfig{Format: "xml"}.Logger()
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	l, err := LogConfig{}.Logger()
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}
