package risk

import (
	"github.com/evdnx/gotick/config"
	"github.com/evdnx/gotick/types"
	"github.com/shopspring/decimal"
)

// HistoryCap bounds the trade history kept for display.
const HistoryCap = 50

// Escalation grows the martingale multiplier by Step once the losing streak
// is longer than After. After == 0 disables it.
type Escalation struct {
	After int
	Step  float64
}

// Stats is a copy of the accumulated run statistics.
type Stats struct {
	CurrentStake      float64
	TotalProfit       float64
	TotalTrades       int
	Wins              int
	ConsecutiveLosses int
}

// WinRate returns the percentage of winning trades.
func (s Stats) WinRate() float64 { return WinRate(s.Wins, s.TotalTrades) }

// Controller sizes the next stake and keeps the P/L book of one run. It is
// not safe for concurrent use; the owning engine serializes access.
type Controller struct {
	cfg config.BotConfig
	esc Escalation

	stake       decimal.Decimal
	totalProfit decimal.Decimal
	trades      int
	wins        int
	lossStreak  int
	history     []types.TradeRecord
}

// NewController starts a fresh book at the initial stake.
func NewController(cfg config.BotConfig, esc Escalation) *Controller {
	return &Controller{
		cfg:   cfg,
		esc:   esc,
		stake: decimal.NewFromFloat(cfg.InitialStake).Round(2),
	}
}

// CurrentStake is the amount to propose next.
func (c *Controller) CurrentStake() float64 {
	f, _ := c.stake.Float64()
	return f
}

// ConsecutiveLosses is the current losing streak.
func (c *Controller) ConsecutiveLosses() int { return c.lossStreak }

// multiplier returns the factor for the loss just recorded.
func (c *Controller) multiplier() decimal.Decimal {
	m := decimal.NewFromFloat(c.cfg.MartingaleMultiplier)
	if c.esc.After > 0 && c.lossStreak > c.esc.After {
		m = m.Add(decimal.NewFromFloat(c.esc.Step))
	}
	return m
}

// Settle books one settled contract and returns the record it appended.
func (c *Controller) Settle(o types.Outcome) types.TradeRecord {
	rec := types.TradeRecord{
		Timestamp: o.At,
		Stake:     Round2(o.Stake),
		Profit:    Round2(o.Profit),
		Label:     o.Label,
	}
	if o.Win() {
		rec.Result = types.Win
		c.wins++
		c.lossStreak = 0
		c.stake = decimal.NewFromFloat(c.cfg.InitialStake).Round(2)
	} else {
		rec.Result = types.Loss
		c.lossStreak++
		c.stake = c.stake.Mul(c.multiplier()).Round(2)
	}
	c.trades++
	c.totalProfit = c.totalProfit.Add(decimal.NewFromFloat(o.Profit)).Round(2)

	c.history = append(c.history, types.TradeRecord{})
	copy(c.history[1:], c.history)
	c.history[0] = rec
	if len(c.history) > HistoryCap {
		c.history = c.history[:HistoryCap]
	}
	return rec
}

// Stats returns a copy of the book.
func (c *Controller) Stats() Stats {
	stake, _ := c.stake.Float64()
	profit, _ := c.totalProfit.Float64()
	return Stats{
		CurrentStake:      stake,
		TotalProfit:       profit,
		TotalTrades:       c.trades,
		Wins:              c.wins,
		ConsecutiveLosses: c.lossStreak,
	}
}

// History returns the most-recent-first trade history as a fresh slice.
func (c *Controller) History() []types.TradeRecord {
	out := make([]types.TradeRecord, len(c.history))
	copy(out, c.history)
	return out
}

// StopReason reports whether a threshold has been crossed.
func (c *Controller) StopReason() (types.StopReason, bool) {
	tp := decimal.NewFromFloat(c.cfg.TakeProfit)
	sl := decimal.NewFromFloat(c.cfg.StopLoss).Neg()
	switch {
	case c.totalProfit.GreaterThanOrEqual(tp):
		return types.StopTakeProfit, true
	case c.totalProfit.LessThanOrEqual(sl):
		return types.StopStopLoss, true
	default:
		return types.StopNone, false
	}
}

// Progress returns the two display percentages, formatted with 2 decimals:
// the simple ratio to the target and the position inside the stop/target band.
func (c *Controller) Progress() (toTarget, inRange string) {
	p, _ := c.totalProfit.Float64()
	return Fixed2(ProgressToTarget(p, c.cfg.TakeProfit)),
		Fixed2(RangeProgress(p, c.cfg.TakeProfit, c.cfg.StopLoss))
}
