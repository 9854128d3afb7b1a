// Package xsim computes margin-based cross-lingual similarity search error
// rates between sets of sentence embeddings.
//
// Quick start:
//
//	ev, err := xsim.New().
//		WithMargin(xsim.MarginRatio).
//		WithK(4).
//		WithMinSents(100).
//		WithDimension(1024).
//		Build(nil)
//
//	res, err := ev.EvaluatePair(ctx,
//		xsim.Language{Name: "de", Embeddings: xsim.Loaded(de)},
//		xsim.Language{Name: "fr", Embeddings: xsim.Loaded(fr), Text: frLines},
//	)
package xsim

import (
	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/embedding"
	"github.com/klejdi94/xsim/evaluator"
	"github.com/sirupsen/logrus"
)

// Builder constructs an Evaluator via a fluent API.
type Builder struct {
	opts    core.Options
	logger  logrus.FieldLogger
	hook    evaluator.StateHook
	sink    evaluator.Sink
	workers int
}

// New starts a builder from the default options.
func New() *Builder {
	return &Builder{opts: core.DefaultOptions()}
}

// WithMargin sets the margin function.
func (b *Builder) WithMargin(m MarginMode) *Builder {
	b.opts.Margin = m
	return b
}

// WithK sets the neighbourhood size of the ratio and distance margins.
func (b *Builder) WithK(k int) *Builder {
	b.opts.K = k
	return b
}

// WithMinSents sets the minimum number of source rows a pair needs.
func (b *Builder) WithMinSents(n int) *Builder {
	b.opts.MinSents = n
	return b
}

// WithPrecision sets the on-disk precision of embedding files.
func (b *Builder) WithPrecision(p Precision) *Builder {
	b.opts.Precision = p
	return b
}

// WithAlignment sets how retrievals are judged correct.
func (b *Builder) WithAlignment(a AlignmentMode) *Builder {
	b.opts.Alignment = a
	return b
}

// WithDimension sets the embedding dimension.
func (b *Builder) WithDimension(d int) *Builder {
	b.opts.Dimension = d
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l logrus.FieldLogger) *Builder {
	b.logger = l
	return b
}

// WithStateHook observes per-pair state transitions.
func (b *Builder) WithStateHook(h evaluator.StateHook) *Builder {
	b.hook = h
	return b
}

// WithSink receives every pair result.
func (b *Builder) WithSink(s evaluator.Sink) *Builder {
	b.sink = s
	return b
}

// WithWorkers bounds the goroutines of the similarity product.
func (b *Builder) WithWorkers(n int) *Builder {
	b.workers = n
	return b
}

// Options returns the options built so far.
func (b *Builder) Options() Options {
	return b.opts
}

// Build validates the options and creates the evaluator. A nil resolver
// accepts only loaded embeddings.
func (b *Builder) Build(resolver embedding.Resolver) (*evaluator.Evaluator, error) {
	opts := []evaluator.Option{evaluator.WithWorkers(b.workers)}
	if b.logger != nil {
		opts = append(opts, evaluator.WithLogger(b.logger))
	}
	if b.hook != nil {
		opts = append(opts, evaluator.WithStateHook(b.hook))
	}
	if b.sink != nil {
		opts = append(opts, evaluator.WithSink(b.sink))
	}
	return evaluator.New(b.opts, resolver, opts...)
}

// Re-export core types for convenience.
type (
	Options       = core.Options
	MarginMode    = core.MarginMode
	Precision     = core.Precision
	AlignmentMode = core.AlignmentMode
	Pair          = core.Pair
	Annotation    = core.Annotation
	// Language is one side of an evaluated pair.
	Language = evaluator.Language
	// Matrix is a dense row-major embedding matrix.
	Matrix = embedding.Matrix
)

const (
	MarginAbsolute = core.MarginAbsolute
	MarginRatio    = core.MarginRatio
	MarginDistance = core.MarginDistance
	PrecisionFP16  = core.PrecisionFP16
	PrecisionFP32  = core.PrecisionFP32
	AlignIndex     = core.AlignIndex
	AlignText      = core.AlignText
)

// Embedding constructors (re-export from embedding).
var (
	FromRows = embedding.FromRows
	Loaded   = embedding.Loaded
	OnDisk   = embedding.OnDisk
)
