package evaluator

import (
	"fmt"

	"github.com/klejdi94/xsim/core"
)

// Margin normalises a raw cosine similarity against the neighbourhood density
// of the two points before ranking. fwd is the mean similarity of the source
// row to its k nearest targets and bwd the mean similarity of the candidate
// target to its k nearest sources.
type Margin interface {
	Mode() core.MarginMode
	NeedsNeighbourhood() bool
	Score(sim, fwd, bwd float32) float32
}

// AbsoluteMargin ranks by raw cosine similarity.
type AbsoluteMargin struct{}

func (AbsoluteMargin) Mode() core.MarginMode { return core.MarginAbsolute }
func (AbsoluteMargin) NeedsNeighbourhood() bool { return false }
func (AbsoluteMargin) Score(sim, _, _ float32) float32 { return sim }

// RatioMargin divides the similarity by the mean neighbourhood similarity.
type RatioMargin struct{}

func (RatioMargin) Mode() core.MarginMode { return core.MarginRatio }
func (RatioMargin) NeedsNeighbourhood() bool { return true }

func (RatioMargin) Score(sim, fwd, bwd float32) float32 {
	return sim / ((fwd + bwd) / 2)
}

// DistanceMargin subtracts the mean neighbourhood similarity.
type DistanceMargin struct{}

func (DistanceMargin) Mode() core.MarginMode { return core.MarginDistance }
func (DistanceMargin) NeedsNeighbourhood() bool { return true }

func (DistanceMargin) Score(sim, fwd, bwd float32) float32 {
	return sim - (fwd+bwd)/2
}

// MarginFor returns the strategy for mode.
func MarginFor(mode core.MarginMode) (Margin, error) {
	switch mode {
	case core.MarginAbsolute, "":
		return AbsoluteMargin{}, nil
	case core.MarginRatio:
		return RatioMargin{}, nil
	case core.MarginDistance:
		return DistanceMargin{}, nil
	}
	return nil, fmt.Errorf("evaluator: margin %q: %w", mode, core.ErrInvalidConfig)
}
