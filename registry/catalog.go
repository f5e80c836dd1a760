package registry

import (
	"sync"
	"time"

	"github.com/evdnx/gotick/config"
	"github.com/evdnx/gotick/logger"
	"github.com/evdnx/gotick/strategy"
	"github.com/evdnx/gotick/types"
)

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the shared registry holding the full catalog.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New()
		for _, e := range Catalog() {
			if err := defaultReg.Register(e); err != nil {
				panic(err)
			}
		}
	})
	return defaultReg
}

func fixed(name string, d types.Decision) func(logger.Logger) strategy.Factory {
	return func(logger.Logger) strategy.Factory {
		return func() (strategy.Signal, error) { return strategy.NewFixed(name, d), nil }
	}
}

func signal(build func() strategy.Signal) func(logger.Logger) strategy.Factory {
	return func(logger.Logger) strategy.Factory {
		return func() (strategy.Signal, error) { return build(), nil }
	}
}

func ticks(symbol string, duration int) config.StrategyParams {
	p := config.DefaultParams(symbol)
	p.Duration = duration
	return p
}

// Catalog returns a fresh copy of every bot definition.
func Catalog() []Entry {
	touch := ticks("R_100", 5)
	touch.WindowSize = 15
	touch.RetryDelay = 100 * time.Millisecond
	touch.SettleDelay = 100 * time.Millisecond
	touch.MinTradeInterval = time.Second

	parity := ticks("R_75", 1)
	parity.EscalateAfter = 2
	parity.EscalationStep = 0.1

	risefall := ticks("R_10", 5)
	risefall.WindowSize = 50

	return []Entry{
		{
			ID:          "evenbot",
			Description: "always buys DIGITEVEN",
			Params:      ticks("R_10", 1),
			Signal:      fixed("even", types.Decision{ContractType: types.DigitEven}),
		},
		{
			ID:          "oddbot",
			Description: "always buys DIGITODD",
			Params:      ticks("R_25", 1),
			Signal:      fixed("odd", types.Decision{ContractType: types.DigitOdd}),
		},
		{
			ID:          "evenoddbot",
			Description: "even/odd on digit frequency, repeats winners and flips after two losses",
			Params:      parity,
			Signal:      signal(func() strategy.Signal { return strategy.NewParity() }),
		},
		{
			ID:          "overunderbot",
			Description: "best over/under barrier between 3 and 6",
			Params:      ticks("R_50", 1),
			Signal: signal(func() strategy.Signal {
				return strategy.NewDigitBarrier("overunder", 10, []int{3, 4, 5, 6},
					[]types.ContractType{types.DigitUnder, types.DigitOver}, 0.6,
					types.Decision{ContractType: types.DigitOver, Barrier: "4"})
			}),
		},
		{
			ID:          "overbot",
			Description: "DIGITOVER on barrier 4 or 5",
			Params:      ticks("R_10", 1),
			Signal: signal(func() strategy.Signal {
				return strategy.NewDigitBarrier("over", 10, []int{4, 5},
					[]types.ContractType{types.DigitOver}, 0.6,
					types.Decision{ContractType: types.DigitOver, Barrier: "4"})
			}),
		},
		{
			ID:          "underbot",
			Description: "DIGITUNDER on barrier 5 or 6",
			Params:      ticks("R_100", 1),
			Signal: signal(func() strategy.Signal {
				return strategy.NewDigitBarrier("under", 10, []int{5, 6},
					[]types.ContractType{types.DigitUnder}, 0.6,
					types.Decision{ContractType: types.DigitUnder, Barrier: "5"})
			}),
		},
		{
			ID:          "DIFFERbot",
			Description: "DIGITDIFF on the least frequent recent digit",
			Params:      ticks("R_25", 1),
			Signal:      signal(func() strategy.Signal { return strategy.NewDiffer(10) }),
		},
		{
			ID:          "touchbot",
			Description: "ONETOUCH in the direction of a trend quorum",
			Params:      touch,
			Signal:      signal(func() strategy.Signal { return strategy.NewTouchVotes("touch", types.OneTouch) }),
		},
		{
			ID:          "notouchbot",
			Description: "NOTOUCH against the direction of a trend quorum",
			Params:      touch,
			Signal:      signal(func() strategy.Signal { return strategy.NewTouchVotes("notouch", types.NoTouch) }),
		},
		{
			ID:          "higherlowerbot",
			Description: "CALL/PUT with barrier on aligned averages and momentum in calm markets",
			Params:      ticks("R_10", 5),
			Signal:      signal(func() strategy.Signal { return strategy.NewCrossover() }),
		},
		{
			ID:          "risefallbot",
			Description: "CALL/PUT on a Hull MA crossover gated by RSI",
			Params:      risefall,
			Signal: func(log logger.Logger) strategy.Factory {
				return func() (strategy.Signal, error) {
					s, err := strategy.NewRiseFall(log)
					if err != nil {
						return nil, err
					}
					return s, nil
				}
			},
		},
	}
}
