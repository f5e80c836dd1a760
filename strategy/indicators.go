package strategy

import "math"

// All helpers take prices newest first, the order the Window hands out.

// SMA is the mean of the first period values; ok is false when there are
// fewer values than the period.
func SMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	sum := 0.0
	for _, p := range prices[:period] {
		sum += p
	}
	return sum / float64(period), true
}

// RSI uses simple averages of the period most recent changes, where a change
// is prices[i]-prices[i+1]. An unchanged price counts as a zero gain.
func RSI(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}
	gains, losses := 0.0, 0.0
	for i := 0; i < period; i++ {
		d := prices[i] - prices[i+1]
		if d >= 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// Momentum is the percent change between the newest price and the one
// period-1 ticks before it.
func Momentum(prices []float64, period int) (float64, bool) {
	if period < 2 || len(prices) < period || prices[period-1] == 0 {
		return 0, false
	}
	base := prices[period-1]
	return (prices[0] - base) / base * 100, true
}

// StdDev is the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	sq := 0.0
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

// ShortTrend counts the direction of the last two moves: +1 per rise, -1
// per fall.
func ShortTrend(prices []float64) int {
	if len(prices) < 3 {
		return 0
	}
	trend := 0
	for i := 0; i < 2; i++ {
		switch {
		case prices[i] > prices[i+1]:
			trend++
		case prices[i] < prices[i+1]:
			trend--
		}
	}
	return trend
}

// digitCounts tallies how often each digit appears.
func digitCounts(digits []int) [10]int {
	var counts [10]int
	for _, d := range digits {
		if d >= 0 && d <= 9 {
			counts[d]++
		}
	}
	return counts
}
