// Package pipeline runs a complete evaluation: it encodes every language of
// a corpus split once, preloads the embeddings, evaluates the requested pairs
// and hands the tables to the report sink.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klejdi94/xsim/config"
	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/corpus"
	"github.com/klejdi94/xsim/embedding"
	"github.com/klejdi94/xsim/encoder"
	"github.com/klejdi94/xsim/evaluator"
	"github.com/klejdi94/xsim/report"
	"github.com/klejdi94/xsim/results"
	"github.com/klejdi94/xsim/storage"
	"github.com/klejdi94/xsim/storage/s3blob"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Pipeline is one configured run.
type Pipeline struct {
	cfg    config.Config
	opts   core.Options
	layout corpus.Layout
	logger logrus.FieldLogger
	out    io.Writer

	encoder     encoder.Encoder
	tgtEncoder  encoder.Encoder
	embedBlobs  storage.BlobStore
	reportBlobs storage.BlobStore
	results     results.Store
	closers     []func() error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOutput sets where tables are printed. Nil disables printing.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// WithEncoder replaces the encoder built from the configuration. It is still
// wrapped with the configured middleware.
func WithEncoder(e encoder.Encoder) Option {
	return func(p *Pipeline) { p.encoder = e }
}

// WithTargetEncoder sets a separate encoder for target languages. Their
// embeddings are then stored under their own keys.
func WithTargetEncoder(e encoder.Encoder) Option {
	return func(p *Pipeline) { p.tgtEncoder = e }
}

// WithEmbeddingBlobs replaces the store embeddings are read from.
func WithEmbeddingBlobs(b storage.BlobStore) Option {
	return func(p *Pipeline) { p.embedBlobs = b }
}

// WithReportBlobs replaces the store tables are persisted to.
func WithReportBlobs(b storage.BlobStore) Option {
	return func(p *Pipeline) { p.reportBlobs = b }
}

// WithResults replaces the results store built from the configuration.
func WithResults(s results.Store) Option {
	return func(p *Pipeline) { p.results = s }
}

// Summary is what a run produced.
type Summary struct {
	Pairwise  *evaluator.PairwiseResult
	NWay      *evaluator.ErrorMatrix
	Distances *evaluator.DistanceTable
	// Encoded counts the files the encoder produced. Reused files are not counted.
	Encoded uint64
	Took    time.Duration
}

// New validates cfg and creates a pipeline.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p := &Pipeline{
		cfg:    cfg,
		opts:   cfg.Options(),
		layout: cfg.Layout(),
		logger: logger,
		out:    os.Stdout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run executes cfg with default collaborators.
func Run(ctx context.Context, cfg config.Config, opts ...Option) (*Summary, error) {
	p, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

// Run executes the pipeline. A failed run still returns the tables it
// completed.
func (p *Pipeline) Run(ctx context.Context) (sum *Summary, err error) {
	start := time.Now()
	sum = &Summary{}
	defer func() {
		sum.Took = time.Since(start)
		for i := len(p.closers) - 1; i >= 0; i-- {
			if cerr := p.closers[i](); cerr != nil {
				p.logger.WithError(cerr).Warn("close")
			}
		}
		p.closers = nil
	}()

	srcs, tgts, aug := p.languages()
	if err := p.prepareEmbedDir(); err != nil {
		return sum, err
	}
	units := p.units(srcs, tgts, aug)
	if p.cfg.Encoder.Enabled() || p.encoder != nil || p.tgtEncoder != nil {
		n, err := p.encodeAll(ctx, units)
		sum.Encoded = n
		if err != nil {
			return sum, err
		}
	}

	store, err := p.embeddingStore(ctx, len(units))
	if err != nil {
		return sum, err
	}
	keys := make([]string, 0, len(units))
	for _, u := range units {
		keys = append(keys, u.key)
	}
	if err := store.LoadAll(ctx, keys); err != nil {
		return sum, err
	}

	evalOpts := []evaluator.Option{evaluator.WithLogger(p.logger), evaluator.WithWorkers(p.cfg.Workers)}
	if err := p.openResults(ctx); err != nil {
		return sum, err
	}
	if p.results != nil {
		evalOpts = append(evalOpts, evaluator.WithSink(results.NewRecorder(p.results, p.runID(),
			p.cfg.Corpus, p.cfg.Split, string(p.opts.Margin))))
	}
	ev, err := evaluator.New(p.opts, store, evalOpts...)
	if err != nil {
		return sum, err
	}
	sink, err := p.reportSink(ctx)
	if err != nil {
		return sum, err
	}

	if p.cfg.NWay {
		langs, err := p.buildLanguages(srcs, nil, false)
		if err != nil {
			return sum, err
		}
		sum.NWay, err = ev.NWay(ctx, langs)
		if err != nil {
			return sum, err
		}
		return sum, sink.NWay(ctx, sum.NWay)
	}

	in, err := p.pairwiseInput(srcs, tgts, aug)
	if err != nil {
		return sum, err
	}
	sum.Pairwise, err = ev.Pairwise(ctx, in)
	if err != nil {
		return sum, err
	}
	if err := sink.Pairwise(ctx, p.cfg.Corpus, sum.Pairwise); err != nil {
		return sum, err
	}
	if !p.cfg.CosineDistances {
		return sum, nil
	}
	sum.Distances, err = ev.CosineDistances(ctx, in)
	if err != nil {
		return sum, err
	}
	return sum, sink.Distances(ctx, p.cfg.Corpus, sum.Distances)
}

// languages returns the sorted source and target lists and the augmented set.
func (p *Pipeline) languages() (srcs, tgts []string, aug map[string]bool) {
	srcs = sortedCopy(p.cfg.SrcLangs)
	if !p.cfg.NWay {
		tgts = sortedCopy(p.cfg.TgtLangs)
	}
	aug = make(map[string]bool, len(p.cfg.TgtAugLangs))
	for _, l := range p.cfg.TgtAugLangs {
		aug[l] = true
	}
	return srcs, tgts, aug
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// prepareEmbedDir creates the local embed dir, or a scratch one when none
// was configured.
func (p *Pipeline) prepareEmbedDir() error {
	if p.layout.EmbedDir != "" {
		if _, _, remote := s3blob.ParseURI(p.layout.EmbedDir); remote {
			return nil
		}
		if err := os.MkdirAll(p.layout.EmbedDir, 0o755); err != nil {
			return fmt.Errorf("pipeline: embed dir: %w", err)
		}
		return nil
	}
	if p.embedBlobs != nil {
		return nil
	}
	dir, err := os.MkdirTemp("", "xsim-embed-")
	if err != nil {
		return fmt.Errorf("pipeline: embed dir: %w", err)
	}
	p.layout.EmbedDir = dir
	p.closers = append(p.closers, func() error { return os.RemoveAll(dir) })
	p.logger.WithField("dir", dir).Debug("using temporary embed dir")
	return nil
}

func (p *Pipeline) openBlobs(ctx context.Context, uri string) (storage.BlobStore, error) {
	if bucket, prefix, ok := s3blob.ParseURI(uri); ok {
		return s3blob.NewFromConfig(ctx, bucket, prefix, s3blob.Options{
			Region:   p.cfg.S3.Region,
			Endpoint: p.cfg.S3.Endpoint,
		})
	}
	return storage.NewFileStore(uri)
}

func (p *Pipeline) embeddingStore(ctx context.Context, files int) (*embedding.Store, error) {
	blobs := p.embedBlobs
	if blobs == nil {
		var err error
		if blobs, err = p.openBlobs(ctx, p.layout.EmbedDir); err != nil {
			return nil, err
		}
	}
	return embedding.NewStore(blobs, p.opts.Dimension, p.opts.Precision,
		embedding.WithLogger(p.logger),
		embedding.WithLoadWorkers(p.cfg.Workers),
		embedding.WithCacheSize(files),
	)
}

func (p *Pipeline) reportSink(ctx context.Context) (*report.Sink, error) {
	s := &report.Sink{Out: p.out, Format: report.Format(p.cfg.Output), Store: p.reportBlobs, Logger: p.logger}
	if s.Store == nil && p.cfg.OutputDir != "" {
		blobs, err := p.openBlobs(ctx, p.cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		s.Store = blobs
	}
	return s, nil
}

func (p *Pipeline) openResults(ctx context.Context) error {
	if p.results != nil {
		return nil
	}
	rc := p.cfg.Results
	switch rc.Store {
	case "":
	case "memory":
		p.results = results.NewMemoryStore(0)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: rc.RedisAddr})
		p.closers = append(p.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("pipeline: redis %s: %w", rc.RedisAddr, err)
		}
		p.results = results.NewRedisStore(client, rc.RedisKey)
	case "postgres":
		db, err := sql.Open("postgres", rc.DSN)
		if err != nil {
			return fmt.Errorf("pipeline: postgres: %w", err)
		}
		p.closers = append(p.closers, db.Close)
		store, err := results.NewPostgresStore(ctx, db, rc.Table)
		if err != nil {
			return err
		}
		p.results = store
	}
	return nil
}

func (p *Pipeline) runID() string {
	if p.cfg.Results.RunID != "" {
		return p.cfg.Results.RunID
	}
	return time.Now().UTC().Format("20060102T150405Z")
}

// separateTargets reports whether targets are encoded by their own model.
func (p *Pipeline) separateTargets() bool {
	return p.tgtEncoder != nil || p.cfg.SeparateTargetEncoder()
}

// baseEncoder builds the encoder described by ec.
func (p *Pipeline) baseEncoder(ec config.EncoderConfig) (encoder.Encoder, error) {
	if ec.Command != "" {
		return encoder.NewCommandEncoder(ec.Command)
	}
	h := encoder.NewHTTPEncoder(ec.URL, ec.APIKey, p.opts.Dimension, p.opts.Precision)
	if ec.Model != "" {
		h.Model = ec.Model
	}
	if ec.BatchSize > 0 {
		h.BatchSize = ec.BatchSize
	}
	return h, nil
}

// buildEncoder wraps base with the standard middleware configured by ec.
// A nil base is built from ec.
func (p *Pipeline) buildEncoder(base encoder.Encoder, ec config.EncoderConfig, metrics encoder.Middleware) (encoder.Encoder, error) {
	if base == nil {
		var err error
		if base, err = p.baseEncoder(ec); err != nil {
			return nil, err
		}
	}
	mws := []encoder.Middleware{encoder.Logging(p.logger)}
	if ec.Reuse {
		mws = append(mws, encoder.SkipExisting(p.opts.Dimension, p.opts.Precision, p.logger))
	}
	mws = append(mws, metrics)
	if ec.Retries > 0 {
		retries := uint64(ec.Retries)
		mws = append(mws, encoder.Retry(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries)
		}))
	}
	mws = append(mws, encoder.Verified(p.opts.Dimension, p.opts.Precision))
	return encoder.Chain(base, mws...), nil
}

// encoders builds the source and target chains, both counting into one set
// of counters. The target chain is the source chain unless targets have their
// own model. The source chain is nil when no source encoder is configured.
func (p *Pipeline) encoders() (src, tgt encoder.Encoder, counters *encoder.Counters, err error) {
	metrics, counters := encoder.Metrics()
	if p.encoder != nil || p.cfg.Encoder.Enabled() {
		if src, err = p.buildEncoder(p.encoder, p.cfg.Encoder, metrics); err != nil {
			return nil, nil, nil, err
		}
	}
	if !p.separateTargets() {
		return src, src, counters, nil
	}
	if tgt, err = p.buildEncoder(p.tgtEncoder, p.cfg.TargetEncoder(), metrics); err != nil {
		return nil, nil, nil, err
	}
	return src, tgt, counters, nil
}

// unit is one embedding file the run needs.
type unit struct {
	lang      string
	augmented bool
	// target units are encoded by the target chain.
	target bool
	key    string
}

// embeddingKey is the embed-dir key of one side of lang.
func (p *Pipeline) embeddingKey(lang string, augmented, target bool) string {
	switch {
	case target && p.separateTargets():
		return p.layout.TargetEmbeddingKey(lang, augmented)
	case augmented:
		return p.layout.AugmentedEmbeddingKey(lang)
	}
	return p.layout.EmbeddingKey(lang)
}

// units lists every embedding file once. With a shared encoder, sources and
// plain targets share their language's file and augmented targets get their
// own. A separate target encoder gives every target its own file.
func (p *Pipeline) units(srcs, tgts []string, aug map[string]bool) []unit {
	seen := make(map[string]bool)
	var out []unit
	add := func(lang string, augmented, target bool) {
		u := unit{lang: lang, augmented: augmented, target: target && p.separateTargets(),
			key: p.embeddingKey(lang, augmented, target)}
		if !seen[u.key] {
			seen[u.key] = true
			out = append(out, u)
		}
	}
	for _, l := range srcs {
		add(l, false, false)
	}
	for _, l := range tgts {
		add(l, aug[l], true)
	}
	return out
}

func (p *Pipeline) encodeAll(ctx context.Context, units []unit) (uint64, error) {
	srcEnc, tgtEnc, counters, err := p.encoders()
	if err != nil {
		return 0, err
	}
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return counters.Calls(), err
		}
		enc := srcEnc
		if u.target {
			enc = tgtEnc
		}
		if enc == nil {
			// no source encoder: the file must already be in the embed dir
			continue
		}
		in := p.layout.TextPath(u.lang)
		if u.augmented {
			in = p.layout.CombinedTextPath(u.lang)
			if err := corpus.Combine(in, p.layout.TextPath(u.lang), p.layout.AugmentedTextPath(u.lang)); err != nil {
				return counters.Calls(), &core.PairError{Lang: u.lang, File: in, Err: err}
			}
		}
		out := filepath.Join(p.layout.EmbedDir, u.key)
		if err := enc.Encode(ctx, in, out); err != nil {
			return counters.Calls(), &core.PairError{Lang: u.lang, File: out, Err: err}
		}
	}
	return counters.Calls(), nil
}

func (p *Pipeline) pairwiseInput(srcs, tgts []string, aug map[string]bool) (evaluator.PairwiseInput, error) {
	sources, err := p.buildLanguages(srcs, nil, false)
	if err != nil {
		return evaluator.PairwiseInput{}, err
	}
	targets, err := p.buildLanguages(tgts, aug, true)
	if err != nil {
		return evaluator.PairwiseInput{}, err
	}
	return evaluator.PairwiseInput{Sources: sources, Targets: targets}, nil
}

// buildLanguages reads text and annotations for langs. Text is only read for
// text alignment; annotation failures disable the breakdown of that target.
func (p *Pipeline) buildLanguages(langs []string, aug map[string]bool, target bool) ([]evaluator.Language, error) {
	out := make([]evaluator.Language, 0, len(langs))
	for _, name := range langs {
		lang := evaluator.Language{Name: name, Augmented: aug[name]}
		lang.Embeddings = embedding.OnDisk(p.embeddingKey(name, lang.Augmented, target))
		if p.opts.Alignment == core.AlignText || lang.Augmented {
			text, augText, err := p.readText(name, lang.Augmented)
			if err != nil {
				return nil, err
			}
			if p.opts.Alignment == core.AlignText {
				lang.Text = append(text, augText...)
			}
			if lang.Augmented {
				lang.Annotation, lang.AnnotationErr = corpus.LoadAnnotationFile(p.layout.AnnotationPath(name), augText, len(text))
				if lang.AnnotationErr != nil {
					p.logger.WithField("lang", name).WithError(lang.AnnotationErr).Warn("perturbation annotation unavailable")
				}
			}
		}
		out = append(out, lang)
	}
	return out, nil
}

func (p *Pipeline) readText(lang string, augmented bool) (text, augText []string, err error) {
	path := p.layout.TextPath(lang)
	if text, err = corpus.ReadLinesFile(path); err != nil {
		return nil, nil, &core.PairError{Lang: lang, File: path, Err: err}
	}
	if !augmented {
		return text, nil, nil
	}
	path = p.layout.AugmentedTextPath(lang)
	if augText, err = corpus.ReadLinesFile(path); err != nil {
		return nil, nil, &core.PairError{Lang: lang, File: path, Err: err}
	}
	return text, augText, nil
}
