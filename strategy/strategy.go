package strategy

import "github.com/evdnx/gotick/types"

// State is what the engine shares with a signal besides the tick window.
type State struct {
	ConsecutiveLosses int
}

// Signal decides what to trade next. ok == false means "no trade yet":
// not enough history or no qualifying setup. It is not an error.
type Signal interface {
	Name() string
	Decide(w *Window, st State) (d types.Decision, ok bool)
}

// TickObserver is implemented by signals that keep their own per-tick
// state on top of the shared window.
type TickObserver interface {
	Observe(o Observation)
}

// Factory builds a fresh signal for every run so no state leaks from one
// run into the next.
type Factory func() (Signal, error)

// Fixed always returns the same decision.
type Fixed struct {
	name     string
	decision types.Decision
}

// NewFixed returns a constant signal.
func NewFixed(name string, d types.Decision) *Fixed {
	if d.Label == "" {
		d.Label = labelFor(d)
	}
	return &Fixed{name: name, decision: d}
}

func (f *Fixed) Name() string { return f.name }

func (f *Fixed) Decide(*Window, State) (types.Decision, bool) {
	return f.decision, true
}

func labelFor(d types.Decision) string {
	switch d.ContractType {
	case types.DigitEven:
		return "EVEN"
	case types.DigitOdd:
		return "ODD"
	case types.DigitOver:
		return "OVER " + d.Barrier
	case types.DigitUnder:
		return "UNDER " + d.Barrier
	case types.DigitDiff:
		return "DIFF " + d.Barrier
	case types.DigitMatch:
		return "MATCH " + d.Barrier
	}
	return string(d.ContractType)
}
