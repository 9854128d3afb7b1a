// Package results records per-pair evaluation outcomes across runs and
// answers aggregate queries over that history.
package results

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PairRecord is the outcome of one language pair in one run.
type PairRecord struct {
	RunID    string    `json:"run_id"`
	Corpus   string    `json:"corpus"`
	Split    string    `json:"split"`
	Source   string    `json:"source"`
	Target   string    `json:"target"`
	Margin   string    `json:"margin"`
	Errors   int       `json:"errors"`
	Examples int       `json:"examples"`
	Skipped  bool      `json:"skipped"`
	At       time.Time `json:"at"`
}

// Store is the interface for recording and querying pair records.
type Store interface {
	Record(ctx context.Context, r PairRecord) error
	Query(ctx context.Context, q Query) ([]Aggregate, error)
}

// Grouping keys for Query.GroupBy.
const (
	GroupBySource = "source"
	GroupByTarget = "target"
	GroupByPair   = "pair"
	GroupByRun    = "run"
)

// Query filters and groups records for aggregation.
type Query struct {
	Corpus  string
	Source  string
	Target  string
	RunID   string
	From    time.Time
	To      time.Time
	GroupBy string // "source", "target", "pair", "run"; anything else groups everything
	Limit   int
}

// Aggregate totals the non-skipped records of one group.
type Aggregate struct {
	Key      string `json:"key"`
	Pairs    int64  `json:"pairs"`
	Skipped  int64  `json:"skipped"`
	Errors   int64  `json:"errors"`
	Examples int64  `json:"examples"`
}

// Rate is the error-weighted error rate in percent.
func (a Aggregate) Rate() float64 {
	if a.Examples == 0 {
		return 0
	}
	return 100 * float64(a.Errors) / float64(a.Examples)
}

const defaultLimit = 100

func (q Query) matches(r PairRecord) bool {
	switch {
	case q.Corpus != "" && r.Corpus != q.Corpus,
		q.Source != "" && r.Source != q.Source,
		q.Target != "" && r.Target != q.Target,
		q.RunID != "" && r.RunID != q.RunID,
		!q.From.IsZero() && r.At.Before(q.From),
		!q.To.IsZero() && r.At.After(q.To):
		return false
	}
	return true
}

func (q Query) key(r PairRecord) string {
	switch q.GroupBy {
	case GroupBySource:
		return r.Source
	case GroupByTarget:
		return r.Target
	case GroupByPair:
		return r.Source + "-" + r.Target
	case GroupByRun:
		return r.RunID
	}
	return "all"
}

// aggregate groups records in memory; the memory and Redis stores share it.
// Results are ordered by key.
func aggregate(records []PairRecord, q Query) []Aggregate {
	agg := make(map[string]*Aggregate)
	for _, r := range records {
		if !q.matches(r) {
			continue
		}
		k := q.key(r)
		if agg[k] == nil {
			agg[k] = &Aggregate{Key: k}
		}
		a := agg[k]
		a.Pairs++
		if r.Skipped {
			a.Skipped++
			continue
		}
		a.Errors += int64(r.Errors)
		a.Examples += int64(r.Examples)
	}
	out := make([]Aggregate, 0, len(agg))
	for _, a := range agg {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MemoryStore is an in-memory implementation (bounded slice, no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	records []PairRecord
}

// NewMemoryStore creates an in-memory store that keeps at most max records (0 = unbounded).
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max, records: make([]PairRecord, 0, 256)}
}

// Record implements Store.
func (m *MemoryStore) Record(ctx context.Context, r PairRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	if m.max > 0 && len(m.records) > m.max {
		m.records = m.records[len(m.records)-m.max:]
	}
	return nil
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return aggregate(m.records, q), nil
}

var _ Store = (*MemoryStore)(nil)
