package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/evdnx/gotick/config"
)

// ErrNotEntitled is returned by Check when a user may not run a bot.
var ErrNotEntitled = errors.New("not entitled")

// Tier is the subscription price of one bot.
type Tier struct {
	Weekly  decimal.Decimal
	Monthly decimal.Decimal
}

func (t Tier) String() string {
	return fmt.Sprintf("%s/week, %s/month", t.Weekly.StringFixed(2), t.Monthly.StringFixed(2))
}

// Gate decides which user may run which bot.
type Gate interface {
	IsEntitled(strategyID, userID string) bool
	Tier(strategyID string) (Tier, bool)
}

// Check returns ErrNotEntitled, wrapped with the ids, when g refuses.
func Check(g Gate, strategyID, userID string) error {
	if g.IsEntitled(strategyID, userID) {
		return nil
	}
	if t, ok := g.Tier(strategyID); ok {
		return fmt.Errorf("%w: user %q, bot %q (%s)", ErrNotEntitled, userID, strategyID, t)
	}
	return fmt.Errorf("%w: user %q, bot %q", ErrNotEntitled, userID, strategyID)
}

type grant struct {
	bot     string
	expires time.Time
}

// StaticGate is built once from configuration. Bots without a tier are
// free; priced bots need an unexpired grant for the bot or for "*".
type StaticGate struct {
	tiers  map[string]Tier
	grants map[string][]grant
	now    func() time.Time
}

// NewStaticGate indexes cfg.
func NewStaticGate(cfg config.BillingConfig) *StaticGate {
	g := &StaticGate{
		tiers:  make(map[string]Tier, len(cfg.Tiers)),
		grants: make(map[string][]grant),
		now:    time.Now,
	}
	for id, t := range cfg.Tiers {
		g.tiers[id] = Tier{
			Weekly:  decimal.NewFromFloat(t.WeeklyPrice),
			Monthly: decimal.NewFromFloat(t.MonthlyPrice),
		}
	}
	for _, gc := range cfg.Grants {
		g.grants[gc.User] = append(g.grants[gc.User], grant{bot: gc.Bot, expires: gc.Expires})
	}
	return g
}

func (g *StaticGate) Tier(strategyID string) (Tier, bool) {
	t, ok := g.tiers[strategyID]
	return t, ok
}

func (g *StaticGate) IsEntitled(strategyID, userID string) bool {
	if _, priced := g.tiers[strategyID]; !priced {
		return true
	}
	now := g.now()
	for _, gr := range g.grants[userID] {
		if gr.bot != strategyID && gr.bot != "*" {
			continue
		}
		if gr.expires.IsZero() || now.Before(gr.expires) {
			return true
		}
	}
	return false
}

type allowAll struct{}

// AllowAll entitles everyone to everything (paper trading).
func AllowAll() Gate { return allowAll{} }

func (allowAll) IsEntitled(string, string) bool { return true }

func (allowAll) Tier(string) (Tier, bool) { return Tier{}, false }
