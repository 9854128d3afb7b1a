// Package evaluator implements margin-based cross-lingual similarity search
// error rates (xSIM): nearest-neighbour retrieval between embedding sets,
// error aggregation against a ground-truth alignment, and the pairwise and
// n-way evaluation drivers.
package evaluator

import (
	"context"
	"fmt"

	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/embedding"
	"github.com/sirupsen/logrus"
)

// Language is one side of a pair: its embeddings plus the optional text and
// perturbation annotation read alongside them.
type Language struct {
	Name       string
	Embeddings embedding.Handle
	// Text holds one line per embedding row. Required for text alignment.
	Text []string
	// Augmented targets carry original rows followed by perturbed rows.
	Augmented bool
	// Annotation labels perturbed rows by target-row index.
	Annotation core.Annotation
	// AnnotationErr is set when the annotation could not be loaded. It
	// disables the breakdown only.
	AnnotationErr error
}

// PairResult is the outcome of one ordered pair.
type PairResult struct {
	Pair   core.Pair
	Report ErrorReport
	// Skipped pairs had fewer examples than the configured minimum.
	Skipped    bool
	SkipReason error
	Augmented  bool
	// BreakdownErr is set when a breakdown was wanted but unavailable.
	BreakdownErr error
}

// Score renders the error rate with two decimals, or "skipped".
func (r PairResult) Score() string {
	if r.Skipped {
		return "skipped"
	}
	return fmt.Sprintf("%.2f", r.Report.Rate())
}

// Sink receives every evaluated pair, e.g. to persist run history.
type Sink interface {
	RecordPair(ctx context.Context, res PairResult) error
}

// Evaluator scores language pairs. It is built once per run and read-only
// afterwards, so one value may be shared by concurrent callers.
type Evaluator struct {
	opts     core.Options
	resolver embedding.Resolver
	matcher  *Matcher
	logger   logrus.FieldLogger
	hook     StateHook
	sink     Sink
	workers  int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStateHook registers a callback for per-pair state transitions.
func WithStateHook(h StateHook) Option {
	return func(e *Evaluator) {
		e.hook = h
	}
}

// WithSink forwards every pair result to s.
func WithSink(s Sink) Option {
	return func(e *Evaluator) {
		e.sink = s
	}
}

// WithWorkers bounds the goroutines used for the similarity product.
func WithWorkers(n int) Option {
	return func(e *Evaluator) {
		e.workers = n
	}
}

// New creates an evaluator for opts. resolver turns language handles into
// matrices; embedding.Store is the usual choice.
func New(opts core.Options, resolver embedding.Resolver, options ...Option) (*Evaluator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		resolver = embedding.MemoryResolver{}
	}
	margin, err := MarginFor(opts.Margin)
	if err != nil {
		return nil, err
	}
	e := &Evaluator{
		opts:     opts,
		resolver: resolver,
		logger:   logrus.StandardLogger(),
	}
	for _, o := range options {
		o(e)
	}
	e.matcher = NewMatcher(margin, opts.K, e.workers)
	return e, nil
}

// Options returns the run configuration.
func (e *Evaluator) Options() core.Options { return e.opts }

// EvaluatePair retrieves the best target row for every source row and counts
// the mismatches. Fatal errors come back as *core.PairError.
func (e *Evaluator) EvaluatePair(ctx context.Context, src, tgt Language) (PairResult, error) {
	pair := core.Pair{Source: src.Name, Target: tgt.Name}
	res := PairResult{Pair: pair, Augmented: tgt.Augmented}
	logger := e.logger.WithFields(logrus.Fields{"source": src.Name, "target": tgt.Name})

	t := e.track(pair)
	defer t.done()

	t.to(StateLoadingEmbeddings)
	sm, err := e.resolve(ctx, pair, src)
	if err != nil {
		return res, err
	}
	tm, err := e.resolve(ctx, pair, tgt)
	if err != nil {
		return res, err
	}
	if err := checkRows(pair, src, sm, tgt, tm); err != nil {
		return res, err
	}

	res.Report.Examples = sm.Rows
	if reason := e.skipReason(sm, tm); reason != nil {
		res.Skipped = true
		res.SkipReason = reason
		logger.WithField("examples", sm.Rows).WithError(reason).Info("pair skipped")
		e.report(ctx, t, res)
		return res, nil
	}

	t.to(StateScoring)
	ret, err := e.matcher.Retrieve(ctx, sm, tm)
	if err != nil {
		return res, &core.PairError{Source: pair.Source, Target: pair.Target, File: tgt.Embeddings.Key(), Err: err}
	}

	t.to(StateAggregating)
	if e.opts.Alignment == core.AlignText && tgt.Text == nil {
		logger.Warn("text alignment requested but target has no text, falling back to index alignment")
	}
	alignment := AlignmentFor(e.opts.Alignment, tgt.Text)
	if ta, ok := alignment.(TextAlignment); ok {
		if d := ta.Duplicates(); d > 0 {
			logger.WithField("duplicates", d).Warn("target text has duplicate lines, text alignment accepts any of them")
		}
	}
	var ann core.Annotation
	if tgt.Augmented {
		switch {
		case tgt.AnnotationErr != nil:
			res.BreakdownErr = tgt.AnnotationErr
		case tgt.Annotation == nil:
			res.BreakdownErr = fmt.Errorf("target %s: %w", tgt.Name, core.ErrMissingAnnotation)
		default:
			ann = tgt.Annotation
		}
		if res.BreakdownErr != nil {
			logger.WithError(res.BreakdownErr).Warn("perturbation breakdown disabled")
		}
	}
	res.Report = Aggregate(ret.Best, sm.Rows, alignment, ann)
	logger.WithFields(logrus.Fields{
		"errors":   res.Report.Errors,
		"examples": res.Report.Examples,
		"margin":   e.matcher.Margin().Mode(),
	}).Debug("pair scored")

	e.report(ctx, t, res)
	return res, nil
}

// report hands res to the sink. Sink failures are logged, never fatal.
func (e *Evaluator) report(ctx context.Context, t *tracker, res PairResult) {
	if e.sink == nil {
		return
	}
	t.to(StateReporting)
	if err := e.sink.RecordPair(ctx, res); err != nil {
		e.logger.WithError(err).WithField("pair", res.Pair.String()).Warn("recording pair result failed")
	}
}

func (e *Evaluator) resolve(ctx context.Context, pair core.Pair, lang Language) (*embedding.Matrix, error) {
	m, err := e.resolver.Resolve(ctx, lang.Embeddings)
	if err != nil {
		err = core.WithPair(err, pair)
		if pe, ok := err.(*core.PairError); ok {
			if pe.Lang == "" {
				pe.Lang = lang.Name
			}
			if pe.File == "" {
				pe.File = lang.Embeddings.Key()
			}
		}
		return nil, err
	}
	return m, nil
}

// checkRows enforces line/row agreement. Plain targets are line-aligned with
// the source; augmented targets hold at least the source's rows.
func (e *Evaluator) skipReason(sm, tm *embedding.Matrix) error {
	switch {
	case tm.Rows == 0:
		return fmt.Errorf("empty target set: %w", core.ErrInsufficientExamples)
	case sm.Rows < e.opts.MinSents:
		return fmt.Errorf("%d examples, minimum %d: %w", sm.Rows, e.opts.MinSents, core.ErrInsufficientExamples)
	}
	return nil
}

func checkRows(pair core.Pair, src Language, sm *embedding.Matrix, tgt Language, tm *embedding.Matrix) error {
	if sm.Dim != tm.Dim {
		return &core.PairError{
			Source: pair.Source, Target: pair.Target, Lang: tgt.Name, File: tgt.Embeddings.Key(),
			Err: fmt.Errorf("source dim %d, target dim %d: %w", sm.Dim, tm.Dim, core.ErrDimensionMismatch),
		}
	}
	fail := func(lang Language, format string, args ...interface{}) error {
		return &core.PairError{
			Source: pair.Source, Target: pair.Target, Lang: lang.Name, File: lang.Embeddings.Key(),
			Err: fmt.Errorf(format+": %w", append(args, core.ErrRowCountMismatch)...),
		}
	}
	if src.Text != nil && len(src.Text) != sm.Rows {
		return fail(src, "%d text lines, %d embeddings", len(src.Text), sm.Rows)
	}
	if tgt.Text != nil && len(tgt.Text) != tm.Rows {
		return fail(tgt, "%d text lines, %d embeddings", len(tgt.Text), tm.Rows)
	}
	if tgt.Augmented {
		if tm.Rows < sm.Rows {
			return fail(tgt, "augmented target has %d rows, source %d", tm.Rows, sm.Rows)
		}
		return nil
	}
	if sm.Rows != tm.Rows {
		return fail(tgt, "target has %d rows, source %d", tm.Rows, sm.Rows)
	}
	return nil
}
