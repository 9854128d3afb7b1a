// Command xsim computes cross-lingual similarity search error rates for a
// corpus split: pairwise (optionally with augmented targets) or n-way.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/klejdi94/xsim/config"
	"github.com/klejdi94/xsim/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(run).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "xsim:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	sum, err := pipeline.Run(ctx, cfg, pipeline.WithLogger(logger), pipeline.WithOutput(os.Stdout))
	if sum != nil {
		logger.WithFields(logrus.Fields{
			"encoded": sum.Encoded,
			"took":    sum.Took.String(),
		}).Info("run finished")
	}
	return err
}

func newApp(runFn func(context.Context, config.Config) error) *cli.App {
	return &cli.App{
		Name:  "xsim",
		Usage: "margin-based cross-lingual similarity search error rates",
		Flags: flags(),
		Action: func(c *cli.Context) error {
			cfg, err := configFromContext(c)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runFn(ctx, cfg)
		},
	}
}

func flags() []cli.Flag {
	d := config.Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "YAML or JSON run file; flags override its values", EnvVars: []string{"XSIM_CONFIG"}},
		&cli.StringFlag{Name: "base-dir", Usage: "directory holding the corpora", EnvVars: []string{"XSIM_BASE_DIR"}},
		&cli.StringFlag{Name: "corpus", Usage: "corpus name, e.g. flores200", EnvVars: []string{"XSIM_CORPUS"}},
		&cli.StringFlag{Name: "corpus-part", Usage: "corpus split, e.g. devtest", EnvVars: []string{"XSIM_CORPUS_PART"}},
		&cli.StringFlag{Name: "src-langs", Usage: "comma-separated source languages", EnvVars: []string{"XSIM_SRC_LANGS"}},
		&cli.StringFlag{Name: "tgt-langs", Usage: "comma-separated target languages", EnvVars: []string{"XSIM_TGT_LANGS"}},
		&cli.StringFlag{Name: "tgt-aug-langs", Usage: "comma-separated target languages evaluated with their augmented sentences", EnvVars: []string{"XSIM_TGT_AUG_LANGS"}},
		&cli.BoolFlag{Name: "nway", Usage: "evaluate every ordered pair of the source languages", EnvVars: []string{"XSIM_NWAY"}},
		&cli.StringFlag{Name: "margin", Value: d.Margin, Usage: "absolute, ratio or distance", EnvVars: []string{"XSIM_MARGIN"}},
		&cli.IntFlag{Name: "k", Value: d.K, Usage: "neighbourhood size for ratio and distance margins", EnvVars: []string{"XSIM_K"}},
		&cli.IntFlag{Name: "min-sents", Value: d.MinSents, Usage: "skip pairs with fewer source sentences", EnvVars: []string{"XSIM_MIN_SENTS"}},
		&cli.IntFlag{Name: "embedding-dimension", Value: d.Dimension, Usage: "components per embedding", EnvVars: []string{"XSIM_EMBEDDING_DIMENSION"}},
		&cli.BoolFlag{Name: "fp16", Usage: "embedding files hold half-precision floats", EnvVars: []string{"XSIM_FP16"}},
		&cli.BoolFlag{Name: "index-comparison", Usage: "judge retrievals by row index instead of sentence text", EnvVars: []string{"XSIM_INDEX_COMPARISON"}},
		&cli.BoolFlag{Name: "cosine-distances", Usage: "also report mean paired cosine distances", EnvVars: []string{"XSIM_COSINE_DISTANCES"}},
		&cli.StringFlag{Name: "embed-dir", Usage: "embedding directory or s3://bucket/prefix; a temporary directory when unset", EnvVars: []string{"XSIM_EMBED_DIR"}},
		&cli.StringFlag{Name: "output-dir", Usage: "directory or s3://bucket/prefix receiving CSV tables", EnvVars: []string{"XSIM_OUTPUT_DIR"}},
		&cli.StringFlag{Name: "output-format", Value: d.Output, Usage: "console format: text, json or csv", EnvVars: []string{"XSIM_OUTPUT_FORMAT"}},
		&cli.IntFlag{Name: "workers", Usage: "goroutines for loading and scoring (0 = GOMAXPROCS)", EnvVars: []string{"XSIM_WORKERS"}},
		&cli.StringFlag{Name: "encoder-command", Usage: "program run as '<command> <in> <out>' to encode missing embeddings", EnvVars: []string{"XSIM_ENCODER_COMMAND"}},
		&cli.StringFlag{Name: "encoder-url", Usage: "OpenAI-compatible embeddings endpoint", EnvVars: []string{"XSIM_ENCODER_URL"}},
		&cli.StringFlag{Name: "encoder-api-key", Usage: "API key for --encoder-url", EnvVars: []string{"XSIM_ENCODER_API_KEY", "OPENAI_API_KEY"}},
		&cli.StringFlag{Name: "encoder-model", Usage: "embedding model for --encoder-url", EnvVars: []string{"XSIM_ENCODER_MODEL"}},
		&cli.StringFlag{Name: "tgt-encoder-command", Usage: "encoder command for target languages; defaults to the source encoder", EnvVars: []string{"XSIM_TGT_ENCODER_COMMAND"}},
		&cli.StringFlag{Name: "tgt-encoder-url", Usage: "embeddings endpoint for target languages", EnvVars: []string{"XSIM_TGT_ENCODER_URL"}},
		&cli.StringFlag{Name: "tgt-encoder-api-key", Usage: "API key for --tgt-encoder-url", EnvVars: []string{"XSIM_TGT_ENCODER_API_KEY"}},
		&cli.StringFlag{Name: "tgt-encoder-model", Usage: "embedding model for --tgt-encoder-url", EnvVars: []string{"XSIM_TGT_ENCODER_MODEL"}},
		&cli.IntFlag{Name: "encoder-retries", Value: d.Encoder.Retries, Usage: "retries per failed encode, for both encoders", EnvVars: []string{"XSIM_ENCODER_RETRIES"}},
		&cli.BoolFlag{Name: "encoder-reuse", Value: d.Encoder.Reuse, Usage: "reuse valid embedding files already in the embed dir", EnvVars: []string{"XSIM_ENCODER_REUSE"}},
		&cli.StringFlag{Name: "results-store", Usage: "record pair results in memory, postgres or redis", EnvVars: []string{"XSIM_RESULTS_STORE"}},
		&cli.StringFlag{Name: "results-dsn", Usage: "PostgreSQL DSN for --results-store postgres", EnvVars: []string{"XSIM_RESULTS_DSN"}},
		&cli.StringFlag{Name: "results-redis", Usage: "Redis address for --results-store redis", EnvVars: []string{"XSIM_RESULTS_REDIS"}},
		&cli.StringFlag{Name: "run-id", Usage: "identifier stamped on recorded results", EnvVars: []string{"XSIM_RUN_ID"}},
		&cli.StringFlag{Name: "s3-endpoint", Usage: "S3-compatible endpoint for s3:// dirs", EnvVars: []string{"XSIM_S3_ENDPOINT"}},
		&cli.StringFlag{Name: "log-level", Value: d.Log.Level, Usage: "panic, fatal, error, warn, info, debug or trace", EnvVars: []string{"XSIM_LOG_LEVEL"}},
		&cli.StringFlag{Name: "log-format", Value: d.Log.Format, Usage: "text or json", EnvVars: []string{"XSIM_LOG_FORMAT"}},
	}
}

// configFromContext loads the run file, if any, and applies every flag that
// was set explicitly. Unset flags keep the run file's values.
func configFromContext(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	str := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	num := func(name string, dst *int) {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	flag := func(name string, dst *bool) {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}
	langs := func(name string, dst *[]string) {
		if c.IsSet(name) {
			*dst = config.SplitLangs(c.String(name))
		}
	}

	str("base-dir", &cfg.BaseDir)
	str("corpus", &cfg.Corpus)
	str("corpus-part", &cfg.Split)
	langs("src-langs", &cfg.SrcLangs)
	langs("tgt-langs", &cfg.TgtLangs)
	langs("tgt-aug-langs", &cfg.TgtAugLangs)
	flag("nway", &cfg.NWay)
	str("margin", &cfg.Margin)
	num("k", &cfg.K)
	num("min-sents", &cfg.MinSents)
	num("embedding-dimension", &cfg.Dimension)
	flag("fp16", &cfg.FP16)
	flag("index-comparison", &cfg.IndexComparison)
	flag("cosine-distances", &cfg.CosineDistances)
	str("embed-dir", &cfg.EmbedDir)
	str("output-dir", &cfg.OutputDir)
	str("output-format", &cfg.Output)
	num("workers", &cfg.Workers)
	str("encoder-command", &cfg.Encoder.Command)
	str("encoder-url", &cfg.Encoder.URL)
	str("encoder-api-key", &cfg.Encoder.APIKey)
	str("encoder-model", &cfg.Encoder.Model)
	str("tgt-encoder-command", &cfg.TgtEncoder.Command)
	str("tgt-encoder-url", &cfg.TgtEncoder.URL)
	str("tgt-encoder-api-key", &cfg.TgtEncoder.APIKey)
	str("tgt-encoder-model", &cfg.TgtEncoder.Model)
	num("encoder-retries", &cfg.Encoder.Retries)
	num("encoder-retries", &cfg.TgtEncoder.Retries)
	flag("encoder-reuse", &cfg.Encoder.Reuse)
	flag("encoder-reuse", &cfg.TgtEncoder.Reuse)
	str("results-store", &cfg.Results.Store)
	str("results-dsn", &cfg.Results.DSN)
	str("results-redis", &cfg.Results.RedisAddr)
	str("run-id", &cfg.Results.RunID)
	str("s3-endpoint", &cfg.S3.Endpoint)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	return cfg, nil
}
