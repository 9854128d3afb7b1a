package results

import (
	"context"
	"time"

	"github.com/klejdi94/xsim/evaluator"
)

// Recorder adapts a Store into an evaluator sink, stamping every pair with
// the run's identity.
type Recorder struct {
	Store  Store
	RunID  string
	Corpus string
	Split  string
	Margin string
	now    func() time.Time
}

// NewRecorder creates a recorder for one run.
func NewRecorder(store Store, runID, corpus, split, margin string) *Recorder {
	return &Recorder{Store: store, RunID: runID, Corpus: corpus, Split: split, Margin: margin, now: time.Now}
}

// RecordPair implements evaluator.Sink.
func (r *Recorder) RecordPair(ctx context.Context, res evaluator.PairResult) error {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	return r.Store.Record(ctx, PairRecord{
		RunID:    r.RunID,
		Corpus:   r.Corpus,
		Split:    r.Split,
		Source:   res.Pair.Source,
		Target:   res.Pair.Target,
		Margin:   r.Margin,
		Errors:   res.Report.Errors,
		Examples: res.Report.Examples,
		Skipped:  res.Skipped,
		At:       now(),
	})
}

var _ evaluator.Sink = (*Recorder)(nil)
