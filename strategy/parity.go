package strategy

import (
	"math"

	"github.com/evdnx/gotick/types"
)

// Parity trades even/odd from the digit balance of the window. When one
// side has dominated it bets on the other; otherwise it follows the recent
// pattern. With a previous trade it repeats the side after a win and flips
// it once the losing streak reaches FlipAfter.
type Parity struct {
	WindowSize  int
	Recent      int
	TrendCutoff float64
	FlipAfter   int

	last types.ContractType
}

// NewParity returns the even/odd bot's signal.
func NewParity() *Parity {
	return &Parity{WindowSize: 10, Recent: 5, TrendCutoff: 0.3, FlipAfter: 2}
}

func (p *Parity) Name() string { return "parity" }

func (p *Parity) Decide(w *Window, st State) (types.Decision, bool) {
	if w.Len() < p.Recent {
		return types.Decision{}, false
	}
	digits := w.Digits(p.WindowSize)
	evenProb := evenFraction(digits)
	strength := math.Abs(evenProb-0.5) * 2

	var tradeEven bool
	if strength > p.TrendCutoff {
		tradeEven = evenProb <= 0.5
	} else {
		tradeEven = evenFraction(digits[:p.Recent]) < 0.5
	}

	ct := types.DigitOdd
	if tradeEven {
		ct = types.DigitEven
	}
	if p.last != "" {
		switch {
		case st.ConsecutiveLosses == 0:
			ct = p.last
		case st.ConsecutiveLosses >= p.FlipAfter:
			ct = opposite(p.last)
		}
	}
	p.last = ct

	d := types.Decision{ContractType: ct}
	d.Label = labelFor(d)
	return d, true
}

func evenFraction(digits []int) float64 {
	if len(digits) == 0 {
		return 0
	}
	even := 0
	for _, d := range digits {
		if d%2 == 0 {
			even++
		}
	}
	return float64(even) / float64(len(digits))
}

func opposite(ct types.ContractType) types.ContractType {
	if ct == types.DigitEven {
		return types.DigitOdd
	}
	return types.DigitEven
}
