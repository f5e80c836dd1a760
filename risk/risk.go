package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Fixed2 renders v with exactly two decimals ("12.50").
func Fixed2(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// WinRate is wins/trades*100; zero trades yields 0.
func WinRate(wins, trades int) float64 {
	if trades == 0 {
		return 0
	}
	return float64(wins) / float64(trades) * 100
}

// ProgressToTarget is the simple ratio of profit to the take-profit target,
// in percent.
func ProgressToTarget(totalProfit, takeProfit float64) float64 {
	if takeProfit == 0 {
		return 0
	}
	return totalProfit / takeProfit * 100
}

// RangeProgress places the profit inside the [-stopLoss, takeProfit] band:
// 0 at the stop loss, 100 at the target.
func RangeProgress(totalProfit, takeProfit, stopLoss float64) float64 {
	span := takeProfit + stopLoss
	if span == 0 {
		return 0
	}
	return (totalProfit + stopLoss) / span * 100
}

// FormatElapsed renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
