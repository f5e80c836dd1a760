package strategy

import "math"

// Observation is one tick as the signals see it.
type Observation struct {
	Price float64
	Digit int
}

// Window keeps a bounded, most-recent-first history of observations and
// exposes lightweight statistics over it. It is never touched by trade
// outcomes.
type Window struct {
	max int
	buf []Observation // buf[0] is the newest
}

// NewWindow returns an empty window holding at most max entries.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = 16
	}
	return &Window{max: max, buf: make([]Observation, 0, max)}
}

// Add front-inserts o and drops the oldest entry beyond the bound.
func (w *Window) Add(o Observation) {
	if len(w.buf) < w.max {
		w.buf = append(w.buf, Observation{})
	}
	copy(w.buf[1:], w.buf[:len(w.buf)-1])
	w.buf[0] = o
}

func (w *Window) Len() int { return len(w.buf) }

func (w *Window) Cap() int { return w.max }

// Prices returns up to n newest prices, newest first. n <= 0 means all.
func (w *Window) Prices(n int) []float64 {
	if n <= 0 || n > len(w.buf) {
		n = len(w.buf)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = w.buf[i].Price
	}
	return out
}

// Digits returns up to n newest digits, newest first. n <= 0 means all.
func (w *Window) Digits(n int) []int {
	if n <= 0 || n > len(w.buf) {
		n = len(w.buf)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = w.buf[i].Digit
	}
	return out
}

func (w *Window) Last() float64 {
	if len(w.buf) == 0 {
		return 0
	}
	return w.buf[0].Price
}

func (w *Window) Prev() float64 {
	if len(w.buf) < 2 {
		return 0
	}
	return w.buf[1].Price
}

// chronological returns the prices oldest first.
func (w *Window) chronological() []float64 {
	n := len(w.buf)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = w.buf[n-1-i].Price
	}
	return out
}

// Trend scores the last few moves: +1 mostly up, -1 mostly down, else 0.
func (w *Window) Trend() int {
	vals := w.chronological()
	if len(vals) < 2 {
		return 0
	}
	lookback := 6
	if lookback >= len(vals) {
		lookback = len(vals) - 1
	}
	start := len(vals) - lookback - 1
	score := 0
	for i := start + 1; i < len(vals); i++ {
		switch {
		case vals[i] > vals[i-1]:
			score++
		case vals[i] < vals[i-1]:
			score--
		}
	}
	threshold := lookback / 3
	if threshold < 2 {
		threshold = 2
	}
	if score >= threshold {
		return 1
	}
	if score <= -threshold {
		return -1
	}
	return 0
}

// Slope is the least-squares slope of the last few prices per tick.
func (w *Window) Slope() float64 {
	vals := w.chronological()
	n := len(vals)
	if n < 2 {
		return 0
	}
	lookback := 8
	if lookback >= n {
		lookback = n - 1
	}
	start := n - lookback - 1
	sumX, sumY := 0.0, 0.0
	sumXY, sumXX := 0.0, 0.0
	idx := 0
	for i := start; i < n; i++ {
		x := float64(idx)
		y := vals[i]
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
		idx++
	}
	count := float64(idx)
	den := count*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (count*sumXY - sumX*sumY) / den
}

// Swing is the mean absolute tick-to-tick move over the last few prices.
func (w *Window) Swing() float64 {
	vals := w.chronological()
	n := len(vals)
	if n < 2 {
		return 0
	}
	lookback := 8
	if lookback >= n {
		lookback = n - 1
	}
	start := n - lookback - 1
	diffSum := 0.0
	for i := start + 1; i < n; i++ {
		diffSum += math.Abs(vals[i] - vals[i-1])
	}
	return diffSum / float64(lookback)
}
