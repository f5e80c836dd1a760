package strategy

import (
	"github.com/evdnx/gotick/types"
)

// TrendVotes collects directional votes from moving-average alignment, RSI,
// the last two moves, momentum and the size of the last move. A direction
// is traded only when it reaches Quorum and the market is moving at all.
type TrendVotes struct {
	name        string
	WindowSize  int
	Short       int
	Medium      int
	Long        int
	RSIPeriod   int
	RSIUpper    float64
	RSILower    float64
	MomentumCut float64
	ChangeCut   float64
	Quorum      int
	VolFloor    float64

	// Touch selects ONETOUCH (barrier in the trend direction) or NOTOUCH
	// (barrier against it).
	Contract types.ContractType
	Offset   string // unsigned barrier distance, e.g. "0.63"
}

// NewTouchVotes returns the touch/no-touch signal with the stock thresholds.
func NewTouchVotes(name string, ct types.ContractType) *TrendVotes {
	return &TrendVotes{
		name:        name,
		WindowSize:  15,
		Short:       5,
		Medium:      10,
		Long:        15,
		RSIPeriod:   5,
		RSIUpper:    60,
		RSILower:    40,
		MomentumCut: 0.1,
		ChangeCut:   0.002,
		Quorum:      4,
		VolFloor:    0.001,
		Contract:    ct,
		Offset:      "0.63",
	}
}

func (s *TrendVotes) Name() string { return s.name }

// Votes returns the up and down vote counts, the short-window volatility
// and whether enough data was present.
func (s *TrendVotes) Votes(w *Window) (up, down int, vol float64, ok bool) {
	if w.Len() < s.WindowSize {
		return 0, 0, 0, false
	}
	prices := w.Prices(s.WindowSize)
	short, ok1 := SMA(prices, s.Short)
	medium, ok2 := SMA(prices, s.Medium)
	long, ok3 := SMA(prices, s.Long)
	rsi, ok4 := RSI(prices, s.RSIPeriod)
	// an RSI of exactly zero is treated as missing
	if !ok1 || !ok2 || !ok3 || !ok4 || short == 0 || medium == 0 || long == 0 || rsi == 0 {
		return 0, 0, 0, false
	}
	vol = StdDev(prices[:min(5, len(prices))])
	trend := ShortTrend(prices)
	momentum, _ := Momentum(prices, 5)

	if short > medium && medium > long {
		up++
	}
	if short < medium && medium < long {
		down++
	}
	if rsi > s.RSIUpper {
		up++
	}
	if rsi < s.RSILower {
		down++
	}
	if trend > 0 {
		up++
	}
	if trend < 0 {
		down++
	}
	if momentum > s.MomentumCut {
		up++
	}
	if momentum < -s.MomentumCut {
		down++
	}
	if change := prices[0] - prices[1]; change > s.ChangeCut {
		up++
	} else if -change > s.ChangeCut {
		down++
	}
	return up, down, vol, true
}

func (s *TrendVotes) Decide(w *Window, _ State) (types.Decision, bool) {
	up, down, vol, ok := s.Votes(w)
	if !ok || vol < s.VolFloor {
		return types.Decision{}, false
	}
	var rising bool
	switch {
	case up >= s.Quorum:
		rising = true
	case down >= s.Quorum:
		rising = false
	default:
		return types.Decision{}, false
	}

	// ONETOUCH puts the barrier where the market is heading, NOTOUCH
	// on the side it is leaving.
	aboveEntry := rising
	if s.Contract == types.NoTouch {
		aboveEntry = !rising
	}
	barrier := "-" + s.Offset
	side := "DOWN"
	if aboveEntry {
		barrier = "+" + s.Offset
		side = "UP"
	}
	label := "TOUCH " + side
	if s.Contract == types.NoTouch {
		label = "NOTOUCH " + side
	}
	return types.Decision{ContractType: s.Contract, Barrier: barrier, Label: label}, true
}

// Crossover trades CALL/PUT when the short average and momentum agree and
// the market is calm enough.
type Crossover struct {
	WindowSize int
	Short      int
	Long       int
	MomentumAt int     // momentum = p[0] - p[MomentumAt]
	MaxStdDev  float64 // no trade at or above this volatility
	Offset     string
}

// NewCrossover returns the higher/lower signal with the stock settings.
func NewCrossover() *Crossover {
	return &Crossover{WindowSize: 10, Short: 5, Long: 10, MomentumAt: 5, MaxStdDev: 0.5, Offset: "0.1"}
}

func (s *Crossover) Name() string { return "crossover" }

func (s *Crossover) Decide(w *Window, _ State) (types.Decision, bool) {
	if w.Len() < s.WindowSize || w.Len() <= s.MomentumAt {
		return types.Decision{}, false
	}
	prices := w.Prices(s.WindowSize)
	short, ok1 := SMA(prices, s.Short)
	long, ok2 := SMA(prices, s.Long)
	if !ok1 || !ok2 {
		return types.Decision{}, false
	}
	momentum := prices[0] - prices[s.MomentumAt]
	if StdDev(prices) >= s.MaxStdDev {
		return types.Decision{}, false
	}
	switch {
	case short > long && momentum > 0:
		return types.Decision{ContractType: types.Call, Barrier: "+" + s.Offset, Label: "HIGHER"}, true
	case short < long && momentum < 0:
		return types.Decision{ContractType: types.Put, Barrier: "-" + s.Offset, Label: "LOWER"}, true
	}
	return types.Decision{}, false
}
