package strategy

import (
	"github.com/evdnx/goti"
	"github.com/evdnx/gotick/logger"
	"github.com/evdnx/gotick/types"
)

// crossSource reports fresh moving-average crossovers.
type crossSource interface {
	Add(price float64) error
	Bullish() (bool, error)
	Bearish() (bool, error)
}

// gotiCross feeds ticks into a goti indicator suite and reads the HMA
// crossover from it. Ticks have no range or volume, so high = low = close
// and volume is a constant 1.
type gotiCross struct {
	suite *goti.IndicatorSuite
}

func newGotiCross() (*gotiCross, error) {
	ic := goti.DefaultConfig()
	ic.RSIOverbought = 70
	ic.RSIOversold = 30
	ic.MFIOverbought = 80
	ic.MFIOversold = 20
	suite, err := goti.NewIndicatorSuiteWithConfig(ic)
	if err != nil {
		return nil, err
	}
	return &gotiCross{suite: suite}, nil
}

func (g *gotiCross) Add(price float64) error { return g.suite.Add(price, price, price, 1) }

func (g *gotiCross) Bullish() (bool, error) { return g.suite.GetHMA().IsBullishCrossover() }

func (g *gotiCross) Bearish() (bool, error) { return g.suite.GetHMA().IsBearishCrossover() }

// RiseFall trades CALL/PUT on a Hull moving-average crossover, falling back
// to the window's own trend and slope when the indicator has no answer.
// RSI vetoes entries into an exhausted move.
type RiseFall struct {
	MinHistory int
	RSIPeriod  int
	Overbought float64
	Oversold   float64

	cross crossSource
	log   logger.Logger
}

// NewRiseFall builds the signal on a fresh goti suite.
func NewRiseFall(log logger.Logger) (*RiseFall, error) {
	g, err := newGotiCross()
	if err != nil {
		return nil, err
	}
	return newRiseFall(g, log), nil
}

func newRiseFall(c crossSource, log logger.Logger) *RiseFall {
	return &RiseFall{MinHistory: 15, RSIPeriod: 5, Overbought: 70, Oversold: 30, cross: c, log: log}
}

func (s *RiseFall) Name() string { return "risefall" }

// Observe feeds the indicator suite.
func (s *RiseFall) Observe(o Observation) {
	if err := s.cross.Add(o.Price); err != nil {
		s.log.Warn("suite_add_error", logger.Err(err))
	}
}

func (s *RiseFall) Decide(w *Window, _ State) (types.Decision, bool) {
	if w.Len() < s.MinHistory {
		return types.Decision{}, false
	}
	bull := bullishFallback(w)
	if ok, err := s.cross.Bullish(); err == nil {
		bull = bull || ok
	}
	bear := bearishFallback(w)
	if ok, err := s.cross.Bearish(); err == nil {
		bear = bear || ok
	}
	if bull == bear {
		return types.Decision{}, false
	}

	rsi, ok := RSI(w.Prices(0), s.RSIPeriod)
	if !ok {
		return types.Decision{}, false
	}
	switch {
	case bull && rsi < s.Overbought:
		return types.Decision{ContractType: types.Call, Label: "RISE"}, true
	case bear && rsi > s.Oversold:
		return types.Decision{ContractType: types.Put, Label: "FALL"}, true
	}
	return types.Decision{}, false
}

func bullishFallback(w *Window) bool {
	if w.Len() < 3 {
		return false
	}
	return w.Trend() > 0 && w.Slope() > 0
}

func bearishFallback(w *Window) bool {
	if w.Len() < 3 {
		return false
	}
	return w.Trend() < 0 && w.Slope() < 0
}
