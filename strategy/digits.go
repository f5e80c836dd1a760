package strategy

import (
	"sort"
	"strconv"

	"github.com/evdnx/gotick/types"
)

// DigitBarrier picks the over/under barrier with the highest historical hit
// rate. If nothing clears Confidence the previous choice is repeated.
type DigitBarrier struct {
	name       string
	WindowSize int
	Barriers   []int
	Types      []types.ContractType // DigitUnder and/or DigitOver, in candidate order
	Confidence float64

	current types.Decision
}

// NewDigitBarrier starts holding fallback until a candidate qualifies.
func NewDigitBarrier(name string, window int, barriers []int, cts []types.ContractType, confidence float64, fallback types.Decision) *DigitBarrier {
	if fallback.Label == "" {
		fallback.Label = labelFor(fallback)
	}
	return &DigitBarrier{
		name:       name,
		WindowSize: window,
		Barriers:   barriers,
		Types:      cts,
		Confidence: confidence,
		current:    fallback,
	}
}

func (s *DigitBarrier) Name() string { return s.name }

type barrierCandidate struct {
	ct      types.ContractType
	barrier int
	prob    float64
}

func (s *DigitBarrier) Decide(w *Window, _ State) (types.Decision, bool) {
	if w.Len() < s.WindowSize {
		return types.Decision{}, false
	}
	digits := w.Digits(s.WindowSize)
	counts := digitCounts(digits)
	n := float64(len(digits))

	var cands []barrierCandidate
	for _, ct := range s.Types {
		for _, b := range s.Barriers {
			under := 0
			for d := 0; d < b && d < 10; d++ {
				under += counts[d]
			}
			p := float64(under) / n
			if ct == types.DigitOver {
				p = 1 - p
			}
			cands = append(cands, barrierCandidate{ct: ct, barrier: b, prob: p})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].prob > cands[j].prob })

	if len(cands) > 0 && cands[0].prob > s.Confidence {
		best := types.Decision{ContractType: cands[0].ct, Barrier: strconv.Itoa(cands[0].barrier)}
		best.Label = labelFor(best)
		s.current = best
	}
	return s.current, true
}

// Differ bets that the next digit differs from the least frequent digit of
// the window. Ties go to the lowest digit.
type Differ struct {
	WindowSize int
}

func NewDiffer(window int) *Differ { return &Differ{WindowSize: window} }

func (s *Differ) Name() string { return "differ" }

func (s *Differ) Decide(w *Window, _ State) (types.Decision, bool) {
	if w.Len() < s.WindowSize {
		return types.Decision{}, false
	}
	counts := digitCounts(w.Digits(s.WindowSize))
	pick := 0
	for d := 1; d < 10; d++ {
		if counts[d] < counts[pick] {
			pick = d
		}
	}
	dec := types.Decision{ContractType: types.DigitDiff, Barrier: strconv.Itoa(pick)}
	dec.Label = labelFor(dec)
	return dec, true
}
