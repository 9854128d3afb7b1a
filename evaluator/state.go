package evaluator

import "github.com/klejdi94/xsim/core"

// State is the phase of the pair currently being evaluated.
type State int

const (
	StateIdle State = iota
	StateLoadingEmbeddings
	StateScoring
	StateAggregating
	StateReporting
)

var stateNames = [...]string{"idle", "loading_embeddings", "scoring", "aggregating", "reporting"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StateHook observes per-pair state transitions.
type StateHook func(pair core.Pair, from, to State)

// tracker walks one pair through the state machine. Every pair starts and
// ends in StateIdle, including on error.
type tracker struct {
	e     *Evaluator
	pair  core.Pair
	state State
}

func (e *Evaluator) track(pair core.Pair) *tracker {
	return &tracker{e: e, pair: pair, state: StateIdle}
}

func (t *tracker) to(next State) {
	if next == t.state {
		return
	}
	t.e.logger.WithField("pair", t.pair.String()).
		WithField("from", t.state.String()).
		WithField("to", next.String()).
		Debug("pair state")
	if t.e.hook != nil {
		t.e.hook(t.pair, t.state, next)
	}
	t.state = next
}

func (t *tracker) done() {
	t.to(StateIdle)
}
