package evaluator

import (
	"context"
	"fmt"
	"sort"

	"github.com/klejdi94/xsim/core"
	"github.com/sirupsen/logrus"
)

// PairwiseInput lists the languages of a one-vs-one run. Every source is
// paired with every target of a different name, in input order.
type PairwiseInput struct {
	Sources []Language
	Targets []Language
}

// PairwiseResult is the corpus-level table of a pairwise run.
type PairwiseResult struct {
	Pairs []PairResult
	// Errors and Examples total the pairs that were not skipped.
	Errors   int
	Examples int
	// Evaluated counts the pairs that were not skipped.
	Evaluated int
	// Breakdowns maps target -> source -> label -> mismatch count for
	// augmented targets. The inner maps are sparse.
	Breakdowns map[string]map[string]map[string]int
	// BreakdownErrors holds, per augmented target, why its breakdown is
	// unavailable.
	BreakdownErrors map[string]error
	// AugmentedTargets lists the augmented targets in input order.
	AugmentedTargets []string

	sources map[string][]string
}

func newPairwiseResult() *PairwiseResult {
	return &PairwiseResult{
		Breakdowns:      make(map[string]map[string]map[string]int),
		BreakdownErrors: make(map[string]error),
		sources:         make(map[string][]string),
	}
}

func (r *PairwiseResult) add(res PairResult) {
	r.Pairs = append(r.Pairs, res)
	if !res.Skipped {
		r.Errors += res.Report.Errors
		r.Examples += res.Report.Examples
		r.Evaluated++
	}
	if !res.Augmented {
		return
	}
	tgt := res.Pair.Target
	if res.BreakdownErr != nil {
		if _, ok := r.BreakdownErrors[tgt]; !ok {
			r.BreakdownErrors[tgt] = res.BreakdownErr
		}
		return
	}
	if res.Report.Breakdown == nil {
		return
	}
	bySource, ok := r.Breakdowns[tgt]
	if !ok {
		bySource = make(map[string]map[string]int)
		r.Breakdowns[tgt] = bySource
	}
	if _, seen := bySource[res.Pair.Source]; !seen {
		r.sources[tgt] = append(r.sources[tgt], res.Pair.Source)
	}
	bySource[res.Pair.Source] = res.Report.Breakdown
}

// Average returns the error-weighted mean rate over pairs that were not
// skipped. ok is false when every pair was skipped.
func (r *PairwiseResult) Average() (rate float64, ok bool) {
	if r.Examples == 0 {
		return 0, false
	}
	return 100 * float64(r.Errors) / float64(r.Examples), true
}

// AverageScore renders Average with two decimals, or "skipped".
func (r *PairwiseResult) AverageScore() string {
	rate, ok := r.Average()
	if !ok {
		return "skipped"
	}
	return fmt.Sprintf("%.2f", rate)
}

// BreakdownTable is the dense rendering of one augmented target's
// breakdown: rows are sources, columns are labels, missing entries are 0.
type BreakdownTable struct {
	Target  string
	Sources []string
	Labels  []string
	Counts  [][]int
}

// BreakdownTable materialises the breakdown of target. ok is false when the
// target is not augmented or its breakdown is unavailable.
func (r *PairwiseResult) BreakdownTable(target string) (*BreakdownTable, bool) {
	bySource, found := r.Breakdowns[target]
	if !found {
		return nil, false
	}
	labelSet := make(map[string]struct{})
	for _, counts := range bySource {
		for l := range counts {
			labelSet[l] = struct{}{}
		}
	}
	t := &BreakdownTable{Target: target, Sources: append([]string(nil), r.sources[target]...)}
	for l := range labelSet {
		t.Labels = append(t.Labels, l)
	}
	sort.Strings(t.Labels)
	t.Counts = make([][]int, len(t.Sources))
	for i, src := range t.Sources {
		row := make([]int, len(t.Labels))
		for j, l := range t.Labels {
			row[j] = bySource[src][l]
		}
		t.Counts[i] = row
	}
	return t, true
}

// Pairwise evaluates every (source, target) pair with distinct names. On a
// fatal error the pairs completed so far are returned with the error.
func (e *Evaluator) Pairwise(ctx context.Context, in PairwiseInput) (*PairwiseResult, error) {
	out := newPairwiseResult()
	for _, tgt := range in.Targets {
		if tgt.Augmented {
			out.AugmentedTargets = append(out.AugmentedTargets, tgt.Name)
		}
	}
	for _, src := range in.Sources {
		for _, tgt := range in.Targets {
			if src.Name == tgt.Name {
				continue
			}
			if err := ctx.Err(); err != nil {
				return out, err
			}
			res, err := e.EvaluatePair(ctx, src, tgt)
			if err != nil {
				return out, err
			}
			out.add(res)
		}
	}
	e.logger.WithFields(logrus.Fields{
		"pairs":    len(out.Pairs),
		"skipped":  len(out.Pairs) - out.Evaluated,
		"average":  out.AverageScore(),
		"examples": out.Examples,
	}).Info("pairwise evaluation finished")
	return out, nil
}

// DistanceRow is the mean paired cosine distance of one pair.
type DistanceRow struct {
	Pair     core.Pair
	Distance float64
	Examples int
}

// DistanceTable lists per-pair cosine distances and their plain mean.
type DistanceTable struct {
	Rows    []DistanceRow
	Average float64
	// Pairs is the number of source/target combinations, diagonal included.
	Pairs int
}

// CosineDistances computes the mean paired cosine distance of every pair in
// in. Rows are compared by index; augmented targets contribute their first
// source-count rows.
func (e *Evaluator) CosineDistances(ctx context.Context, in PairwiseInput) (*DistanceTable, error) {
	out := &DistanceTable{Pairs: len(in.Sources) * len(in.Targets)}
	var sum float64
	for _, src := range in.Sources {
		for _, tgt := range in.Targets {
			if src.Name == tgt.Name {
				continue
			}
			pair := core.Pair{Source: src.Name, Target: tgt.Name}
			sm, err := e.resolve(ctx, pair, src)
			if err != nil {
				return out, err
			}
			tm, err := e.resolve(ctx, pair, tgt)
			if err != nil {
				return out, err
			}
			d, err := PairedCosineDistance(sm, tm)
			if err != nil {
				return out, &core.PairError{Source: pair.Source, Target: pair.Target, File: tgt.Embeddings.Key(), Err: err}
			}
			out.Rows = append(out.Rows, DistanceRow{Pair: pair, Distance: d, Examples: sm.Rows})
			sum += d
		}
	}
	if len(out.Rows) > 0 {
		out.Average = sum / float64(len(out.Rows))
	}
	return out, nil
}
