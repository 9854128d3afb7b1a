package evaluator

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/embedding"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// blockRows is the number of source rows per GEMM call. It is fixed so the
// similarity matrix does not depend on how many workers run.
const blockRows = 256

// Retrieval is the outcome of matching one source set against one target set.
type Retrieval struct {
	// Best[i] is the target row ranked first for source row i.
	Best []int
	// Scores[i] is the margin score of Best[i].
	Scores []float32
	// SrcKNN and TgtKNN are the mean top-k similarities per source and target
	// row. Nil for the absolute margin.
	SrcKNN []float32
	TgtKNN []float32
}

// Matcher finds, for every source row, the target row with the highest margin
// score.
type Matcher struct {
	margin  Margin
	k       int
	workers int
}

// NewMatcher creates a matcher. workers <= 0 uses GOMAXPROCS.
func NewMatcher(margin Margin, k, workers int) *Matcher {
	if margin == nil {
		margin = AbsoluteMargin{}
	}
	if k <= 0 {
		k = core.DefaultK
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Matcher{margin: margin, k: k, workers: workers}
}

// Margin returns the matcher's strategy.
func (m *Matcher) Margin() Margin { return m.margin }

// Retrieve ranks every target row for every source row and returns the argmax.
func (m *Matcher) Retrieve(ctx context.Context, src, tgt *embedding.Matrix) (*Retrieval, error) {
	if src.Dim != tgt.Dim {
		return nil, fmt.Errorf("evaluator: source dim %d, target dim %d: %w", src.Dim, tgt.Dim, core.ErrDimensionMismatch)
	}
	if tgt.Rows == 0 {
		return nil, fmt.Errorf("evaluator: empty target set: %w", core.ErrInsufficientExamples)
	}
	out := &Retrieval{Best: make([]int, src.Rows), Scores: make([]float32, src.Rows)}
	if src.Rows == 0 {
		return out, nil
	}
	sim, err := m.similarities(ctx, src.Normalized(), tgt.Normalized())
	if err != nil {
		return nil, err
	}
	ns, nt := src.Rows, tgt.Rows
	if m.margin.NeedsNeighbourhood() {
		out.SrcKNN = make([]float32, ns)
		out.TgtKNN = make([]float32, nt)
		kf := clampK(m.k, nt)
		for i := 0; i < ns; i++ {
			out.SrcKNN[i] = topKMean(sim[i*nt:(i+1)*nt], kf)
		}
		kb := clampK(m.k, ns)
		col := make([]float32, ns)
		for j := 0; j < nt; j++ {
			for i := 0; i < ns; i++ {
				col[i] = sim[i*nt+j]
			}
			out.TgtKNN[j] = topKMean(col, kb)
		}
	}
	err = m.forBlocks(ctx, ns, func(r0, r1 int) error {
		for i := r0; i < r1; i++ {
			out.Best[i], out.Scores[i] = m.argmax(sim[i*nt:(i+1)*nt], i, out.SrcKNN, out.TgtKNN)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Matcher) argmax(row []float32, i int, srcKNN, tgtKNN []float32) (int, float32) {
	score := func(j int) float32 {
		if srcKNN == nil {
			return m.margin.Score(row[j], 0, 0)
		}
		return m.margin.Score(row[j], srcKNN[i], tgtKNN[j])
	}
	best, bestScore := 0, score(0)
	for j := 1; j < len(row); j++ {
		s := score(j)
		if s > bestScore || (isNaN(bestScore) && !isNaN(s)) {
			best, bestScore = j, s
		}
	}
	return best, bestScore
}

// similarities returns the row-major ns x nt cosine matrix of two normalised
// sets, clamped to [-1, 1].
func (m *Matcher) similarities(ctx context.Context, src, tgt *embedding.Matrix) ([]float32, error) {
	ns, nt, dim := src.Rows, tgt.Rows, src.Dim
	sim := make([]float32, ns*nt)
	b := blas32.General{Rows: nt, Cols: dim, Stride: dim, Data: tgt.Data}
	err := m.forBlocks(ctx, ns, func(r0, r1 int) error {
		a := blas32.General{Rows: r1 - r0, Cols: dim, Stride: dim, Data: src.Data[r0*dim : r1*dim]}
		c := blas32.General{Rows: r1 - r0, Cols: nt, Stride: nt, Data: sim[r0*nt : r1*nt]}
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, a, b, 0, c)
		for i, v := range c.Data {
			if v > 1 {
				c.Data[i] = 1
			} else if v < -1 {
				c.Data[i] = -1
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sim, nil
}

// forBlocks runs fn over [0, n) in blockRows-sized chunks on the worker pool.
func (m *Matcher) forBlocks(ctx context.Context, n int, fn func(r0, r1 int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for r0 := 0; r0 < n; r0 += blockRows {
		r0, r1 := r0, min(r0+blockRows, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(r0, r1)
		})
	}
	return g.Wait()
}

func clampK(k, n int) int {
	if k > n {
		return n
	}
	return k
}

// topKMean returns the mean of the k largest values. vals is not modified.
func topKMean(vals []float32, k int) float32 {
	if k <= 0 || len(vals) == 0 {
		return 0
	}
	top := make([]float32, 0, k)
	for _, v := range vals {
		if len(top) < k {
			top = append(top, v)
			sort.Slice(top, func(a, b int) bool { return top[a] > top[b] })
			continue
		}
		if v <= top[k-1] {
			continue
		}
		pos := k - 1
		for pos > 0 && top[pos-1] < v {
			top[pos] = top[pos-1]
			pos--
		}
		top[pos] = v
	}
	var sum float32
	for _, v := range top {
		sum += v
	}
	return sum / float32(len(top))
}

func isNaN(v float32) bool {
	return math.IsNaN(float64(v))
}
