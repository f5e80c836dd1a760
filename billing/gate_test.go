package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/evdnx/gotick/config"
)

func buildGate(now time.Time) *StaticGate {
	g := NewStaticGate(config.BillingConfig{
		Tiers: map[string]config.TierConfig{
			"touchbot":    {WeeklyPrice: 9.99, MonthlyPrice: 29.5},
			"risefallbot": {WeeklyPrice: 5, MonthlyPrice: 15},
		},
		Grants: []config.GrantConfig{
			{User: "alice", Bot: "touchbot", Expires: now.Add(time.Hour)},
			{User: "bob", Bot: "touchbot", Expires: now.Add(-time.Hour)},
			{User: "carol", Bot: "*"},
		},
	})
	g.now = func() time.Time { return now }
	return g
}

func TestStaticGate(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	g := buildGate(now)

	cases := []struct {
		bot, user string
		want      bool
	}{
		{"evenbot", "anyone", true},
		{"touchbot", "alice", true},
		{"risefallbot", "alice", false},
		{"touchbot", "bob", false},
		{"touchbot", "carol", true},
		{"risefallbot", "carol", true},
		{"touchbot", "", false},
	}
	for _, tc := range cases {
		if got := g.IsEntitled(tc.bot, tc.user); got != tc.want {
			t.Fatalf("IsEntitled(%s, %s) = %v, want %v", tc.bot, tc.user, got, tc.want)
		}
	}
}

func TestGrantExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	g := buildGate(now)
	g.now = func() time.Time { return now.Add(2 * time.Hour) }
	if g.IsEntitled("touchbot", "alice") {
		t.Fatalf("grant should have lapsed")
	}
}

func TestTier(t *testing.T) {
	g := buildGate(time.Now())
	tier, ok := g.Tier("touchbot")
	if !ok {
		t.Fatalf("touchbot should be priced")
	}
	if got := tier.String(); got != "9.99/week, 29.50/month" {
		t.Fatalf("tier = %s", got)
	}
	if _, ok := g.Tier("evenbot"); ok {
		t.Fatalf("evenbot should be free")
	}
}

func TestCheck(t *testing.T) {
	g := buildGate(time.Now())
	if err := Check(g, "touchbot", "bob"); !errors.Is(err, ErrNotEntitled) {
		t.Fatalf("expected ErrNotEntitled, got %v", err)
	}
	if err := Check(g, "evenbot", "bob"); err != nil {
		t.Fatalf("free bot refused: %v", err)
	}
	if err := Check(AllowAll(), "touchbot", "bob"); err != nil {
		t.Fatalf("AllowAll refused: %v", err)
	}
}
