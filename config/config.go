// Package config holds the run configuration of the xsim command: a YAML or
// JSON run file whose values command-line flags override.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/corpus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config is one evaluation run.
type Config struct {
	BaseDir         string   `yaml:"base_dir" json:"base_dir"`
	Corpus          string   `yaml:"corpus" json:"corpus"`
	Split           string   `yaml:"corpus_part" json:"corpus_part"`
	EmbedDir        string   `yaml:"embed_dir" json:"embed_dir"`
	OutputDir       string   `yaml:"output_dir" json:"output_dir"`
	SrcLangs        []string `yaml:"src_langs" json:"src_langs"`
	TgtLangs        []string `yaml:"tgt_langs" json:"tgt_langs"`
	TgtAugLangs     []string `yaml:"tgt_aug_langs" json:"tgt_aug_langs"`
	NWay            bool     `yaml:"nway" json:"nway"`
	CosineDistances bool     `yaml:"cosine_distances" json:"cosine_distances"`
	IndexComparison bool     `yaml:"index_comparison" json:"index_comparison"`
	Margin          string   `yaml:"margin" json:"margin"`
	K               int      `yaml:"k" json:"k"`
	MinSents        int      `yaml:"min_sents" json:"min_sents"`
	FP16            bool     `yaml:"fp16" json:"fp16"`
	Dimension       int      `yaml:"embedding_dimension" json:"embedding_dimension"`
	Workers         int      `yaml:"workers" json:"workers"`
	Output          string   `yaml:"output_format" json:"output_format"`

	Encoder EncoderConfig `yaml:"encoder" json:"encoder"`
	// TgtEncoder encodes target languages. Unset, targets use Encoder.
	TgtEncoder EncoderConfig `yaml:"tgt_encoder" json:"tgt_encoder"`
	Results    ResultsConfig `yaml:"results" json:"results"`
	S3         S3Config      `yaml:"s3" json:"s3"`
	Log        LogConfig     `yaml:"log" json:"log"`
}

// S3Config applies to embed and output dirs given as s3://bucket/prefix.
type S3Config struct {
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// EncoderConfig selects how missing embedding files are produced. With
// neither Command nor URL set, every embedding must already be in EmbedDir.
type EncoderConfig struct {
	Command   string `yaml:"command" json:"command"`
	URL       string `yaml:"url" json:"url"`
	APIKey    string `yaml:"api_key" json:"api_key"`
	Model     string `yaml:"model" json:"model"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	Retries   int    `yaml:"retries" json:"retries"`
	// Reuse skips encoding when a valid embedding file already exists.
	Reuse bool `yaml:"reuse" json:"reuse"`
}

// Enabled reports whether an encoder is configured.
func (e EncoderConfig) Enabled() bool {
	return e.Command != "" || e.URL != ""
}

// sameModel reports whether both configs produce the same embeddings.
func (e EncoderConfig) sameModel(o EncoderConfig) bool {
	return e.Command == o.Command && e.URL == o.URL && e.Model == o.Model
}

// TargetEncoder is the encoder config used for target languages.
func (c Config) TargetEncoder() EncoderConfig {
	if c.TgtEncoder.Enabled() {
		return c.TgtEncoder
	}
	return c.Encoder
}

// SeparateTargetEncoder reports whether targets are encoded by a different
// model than sources, in which case their embeddings are stored apart.
func (c Config) SeparateTargetEncoder() bool {
	return c.TgtEncoder.Enabled() && !c.TgtEncoder.sameModel(c.Encoder)
}

// ResultsConfig selects where per-pair results are recorded.
type ResultsConfig struct {
	Store     string `yaml:"store" json:"store"` // "", memory, postgres, redis
	DSN       string `yaml:"dsn" json:"dsn"`
	Table     string `yaml:"table" json:"table"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	RedisKey  string `yaml:"redis_key" json:"redis_key"`
	RunID     string `yaml:"run_id" json:"run_id"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text or json
}

// Default returns the configuration the command starts from.
func Default() Config {
	o := core.DefaultOptions()
	return Config{
		Margin:     string(o.Margin),
		K:          o.K,
		MinSents:   o.MinSents,
		Dimension:  o.Dimension,
		Output:     "text",
		Encoder:    EncoderConfig{Retries: 3, Reuse: true},
		TgtEncoder: EncoderConfig{Retries: 3, Reuse: true},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a .yaml, .yml or .json run file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error unmarshalling the yaml config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error unmarshalling the json config file: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config file extension '%s', use .yaml or .json", filepath.Ext(path))
	}
	return cfg, nil
}

// Options converts the engine-relevant fields.
func (c Config) Options() core.Options {
	o := core.DefaultOptions()
	o.Margin = core.MarginMode(strings.ToLower(c.Margin))
	if c.Margin == "" {
		o.Margin = core.MarginAbsolute
	}
	o.K = c.K
	o.MinSents = c.MinSents
	o.Dimension = c.Dimension
	o.Precision = core.PrecisionFP32
	if c.FP16 {
		o.Precision = core.PrecisionFP16
	}
	o.Alignment = core.AlignText
	if c.IndexComparison {
		o.Alignment = core.AlignIndex
	}
	return o
}

// Layout returns the corpus layout.
func (c Config) Layout() corpus.Layout {
	return corpus.Layout{BaseDir: c.BaseDir, Corpus: c.Corpus, Split: c.Split, EmbedDir: c.EmbedDir}
}

// Validate checks the run before any work starts.
func (c Config) Validate() error {
	if err := c.Options().Validate(); err != nil {
		return err
	}
	if err := c.Layout().Validate(); err != nil {
		return &core.ValidationError{Field: "layout", Value: c.Layout(), Message: err.Error()}
	}
	if len(c.SrcLangs) == 0 {
		return &core.ValidationError{Field: "src_langs", Message: "at least one source language is required"}
	}
	if !c.NWay && len(c.TgtLangs) == 0 {
		return &core.ValidationError{Field: "tgt_langs", Message: "target languages are required unless running n-way"}
	}
	tgt := make(map[string]bool, len(c.TgtLangs))
	for _, l := range c.TgtLangs {
		tgt[l] = true
	}
	for _, l := range c.TgtAugLangs {
		if !tgt[l] {
			return &core.ValidationError{Field: "tgt_aug_langs", Value: l, Message: "augmented language must also be a target language"}
		}
	}
	if c.Encoder.Enabled() && strings.HasPrefix(c.EmbedDir, "s3://") {
		return &core.ValidationError{Field: "embed_dir", Value: c.EmbedDir, Message: "encoders write locally; use a directory, not an s3 uri"}
	}
	if c.TgtEncoder.Enabled() && !c.Encoder.Enabled() {
		return &core.ValidationError{Field: "tgt_encoder", Message: "a target encoder needs a source encoder"}
	}
	if !c.Encoder.Enabled() && c.EmbedDir == "" {
		return &core.ValidationError{Field: "embed_dir", Message: "required when no encoder is configured"}
	}
	switch c.Results.Store {
	case "", "memory", "redis", "postgres":
	default:
		return &core.ValidationError{Field: "results.store", Value: c.Results.Store, Message: "expected memory, postgres or redis"}
	}
	switch c.Output {
	case "", "text", "json", "csv":
	default:
		return &core.ValidationError{Field: "output_format", Value: c.Output, Message: "expected text, json or csv"}
	}
	return nil
}

// SplitLangs parses a comma-separated language list, dropping blanks and
// duplicates, in sorted order.
func SplitLangs(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range strings.Split(s, ",") {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Logger builds a logger for the log settings.
func (l LogConfig) Logger() (*logrus.Logger, error) {
	logger := logrus.New()
	level := l.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, &core.ValidationError{Field: "log.level", Value: l.Level, Message: err.Error()}
	}
	logger.SetLevel(lvl)
	switch l.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, &core.ValidationError{Field: "log.format", Value: l.Format, Message: "expected text or json"}
	}
	return logger, nil
}
