package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

var (
	// ErrMissingValue is returned when a required bot setting is empty.
	ErrMissingValue = errors.New("missing value")
	// ErrNotNumeric is returned when a bot setting cannot be parsed as a decimal.
	ErrNotNumeric = errors.New("not numeric")
)

// BotConfig holds the four user supplied money settings of a bot run.
// It is immutable once an engine has been built from it.
type BotConfig struct {
	InitialStake         float64 // stake of the first trade and after every win
	TakeProfit           float64 // absolute profit target
	StopLoss             float64 // absolute loss limit (positive number)
	MartingaleMultiplier float64 // applied to the stake after a loss, >= 1
}

// RawBotConfig is the textual form the settings arrive in (form fields,
// YAML, the settings store).
type RawBotConfig struct {
	InitialStake         string `yaml:"initial_stake"`
	TakeProfit           string `yaml:"take_profit"`
	StopLoss             string `yaml:"stop_loss"`
	MartingaleMultiplier string `yaml:"martingale_multiplier"`
}

// IsZero reports whether no field has been filled in.
func (r RawBotConfig) IsZero() bool {
	return r.InitialStake == "" && r.TakeProfit == "" && r.StopLoss == "" && r.MartingaleMultiplier == ""
}

// Merge fills every empty field of r from fallback.
func (r RawBotConfig) Merge(fallback RawBotConfig) RawBotConfig {
	pick := func(a, b string) string {
		if strings.TrimSpace(a) != "" {
			return a
		}
		return b
	}
	return RawBotConfig{
		InitialStake:         pick(r.InitialStake, fallback.InitialStake),
		TakeProfit:           pick(r.TakeProfit, fallback.TakeProfit),
		StopLoss:             pick(r.StopLoss, fallback.StopLoss),
		MartingaleMultiplier: pick(r.MartingaleMultiplier, fallback.MartingaleMultiplier),
	}
}

// ParseBotConfig converts the raw strings and validates the result. Every
// failing field is reported, not only the first one.
func ParseBotConfig(raw RawBotConfig) (BotConfig, error) {
	var errs error
	parse := func(name, v string) float64 {
		v = strings.TrimSpace(v)
		if v == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, ErrMissingValue))
			return 0
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			errs = multierr.Append(errs, fmt.Errorf("%s %q: %w", name, v, ErrNotNumeric))
			return 0
		}
		return f
	}
	cfg := BotConfig{
		InitialStake:         parse("initial_stake", raw.InitialStake),
		TakeProfit:           parse("take_profit", raw.TakeProfit),
		StopLoss:             parse("stop_loss", raw.StopLoss),
		MartingaleMultiplier: parse("martingale_multiplier", raw.MartingaleMultiplier),
	}
	if errs != nil {
		return BotConfig{}, errs
	}
	if err := cfg.Validate(); err != nil {
		return BotConfig{}, err
	}
	return cfg, nil
}

// Validate checks that all numeric fields are finite and within sensible
// bounds.
func (c BotConfig) Validate() error {
	var errs error
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"InitialStake", c.InitialStake},
		{"TakeProfit", c.TakeProfit},
		{"StopLoss", c.StopLoss},
		{"MartingaleMultiplier", c.MartingaleMultiplier},
	} {
		if math.IsInf(f.v, 0) || math.IsNaN(f.v) {
			errs = multierr.Append(errs, fmt.Errorf("%s (%v) must be a finite number", f.name, f.v))
		}
	}
	if errs != nil {
		return errs
	}
	if !(c.InitialStake > 0) {
		errs = multierr.Append(errs, fmt.Errorf("InitialStake (%v) must be >0", c.InitialStake))
	}
	if !(c.TakeProfit > 0) {
		errs = multierr.Append(errs, fmt.Errorf("TakeProfit (%v) must be >0", c.TakeProfit))
	}
	if !(c.StopLoss > 0) {
		errs = multierr.Append(errs, fmt.Errorf("StopLoss (%v) must be >0", c.StopLoss))
	}
	if !(c.MartingaleMultiplier >= 1) {
		errs = multierr.Append(errs, fmt.Errorf("MartingaleMultiplier (%v) must be >=1", c.MartingaleMultiplier))
	}
	return errs
}

// Raw renders the config back to its textual form.
func (c BotConfig) Raw() RawBotConfig {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return RawBotConfig{
		InitialStake:         f(c.InitialStake),
		TakeProfit:           f(c.TakeProfit),
		StopLoss:             f(c.StopLoss),
		MartingaleMultiplier: f(c.MartingaleMultiplier),
	}
}

// StrategyParams are the per-strategy constants that distinguish one bot
// from another on top of the shared engine.
type StrategyParams struct {
	Symbol       string
	Currency     string
	Duration     int
	DurationUnit string
	WindowSize   int // bound of the tick window

	RetryDelay       time.Duration // no signal yet, or a rejected quote
	SettleDelay      time.Duration // pause after every settlement
	MinTradeInterval time.Duration // 0 = unlimited

	// Past EscalateAfter consecutive losses the multiplier grows by
	// EscalationStep. EscalateAfter == 0 disables escalation.
	EscalateAfter  int
	EscalationStep float64
}

// Validate returns the first encountered error.
func (p StrategyParams) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return errors.New("Symbol must be set")
	}
	if p.Currency == "" {
		return errors.New("Currency must be set")
	}
	if p.Duration <= 0 {
		return fmt.Errorf("Duration (%d) must be positive", p.Duration)
	}
	switch p.DurationUnit {
	case "t", "s", "m", "h", "d":
	default:
		return fmt.Errorf("DurationUnit %q not supported", p.DurationUnit)
	}
	if p.WindowSize <= 0 {
		return fmt.Errorf("WindowSize (%d) must be positive", p.WindowSize)
	}
	if p.RetryDelay <= 0 {
		return errors.New("RetryDelay must be positive")
	}
	if p.SettleDelay < 0 || p.MinTradeInterval < 0 {
		return errors.New("delays cannot be negative")
	}
	if math.IsInf(p.EscalationStep, 0) || math.IsNaN(p.EscalationStep) {
		return fmt.Errorf("EscalationStep (%v) must be a finite number", p.EscalationStep)
	}
	if p.EscalateAfter < 0 || p.EscalationStep < 0 {
		return errors.New("escalation settings cannot be negative")
	}
	return nil
}

// DefaultParams returns the settings shared by most digit bots.
func DefaultParams(symbol string) StrategyParams {
	return StrategyParams{
		Symbol:       symbol,
		Currency:     "USD",
		Duration:     1,
		DurationUnit: "t",
		WindowSize:   10,
		RetryDelay:   time.Second,
		SettleDelay:  time.Second,
	}
}
