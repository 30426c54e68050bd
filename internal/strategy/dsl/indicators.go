package dsl

import (
	"math"

	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
)

// indicatorSet computes the indicator vocabulary over the bars observed so
// far in a run. Indicators return NaN until enough history exists, which
// makes comparison rules evaluate to false during warm-up.
type indicatorSet struct {
	closes []float64
	highs  []float64
	lows   []float64
}

func newIndicatorSet() *indicatorSet {
	return &indicatorSet{}
}

func (s *indicatorSet) push(bar kline.Kline) {
	s.closes = append(s.closes, bar.Close)
	s.highs = append(s.highs, bar.High)
	s.lows = append(s.lows, bar.Low)
}

func (s *indicatorSet) len() int {
	return len(s.closes)
}

// smaAt is the simple moving average of closes ending at index end (inclusive)
func (s *indicatorSet) smaAt(period, end int) float64 {
	n := period
	if n <= 0 || end < 0 || end+1 < n || end >= len(s.closes) {
		return math.NaN()
	}
	sum := 0.0
	for i := end - n + 1; i <= end; i++ {
		sum += s.closes[i]
	}
	return sum / float64(n)
}

// SMA is the simple moving average of the last period closes
func (s *indicatorSet) SMA(period float64) float64 {
	return s.smaAt(int(period), len(s.closes)-1)
}

// EMA is the exponential moving average of closes, seeded with an SMA
func (s *indicatorSet) EMA(period float64) float64 {
	n := int(period)
	if n <= 0 || len(s.closes) < n {
		return math.NaN()
	}
	alpha := 2.0 / (float64(n) + 1.0)
	ema := s.smaAt(n, n-1)
	for i := n; i < len(s.closes); i++ {
		ema = alpha*s.closes[i] + (1-alpha)*ema
	}
	return ema
}

// RSI is the relative strength index over the last period close changes
func (s *indicatorSet) RSI(period float64) float64 {
	n := int(period)
	if n <= 0 || len(s.closes) < n+1 {
		return math.NaN()
	}
	var gains, losses float64
	for i := len(s.closes) - n; i < len(s.closes); i++ {
		diff := s.closes[i] - s.closes[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// ATR is the average true range over the last period bars
func (s *indicatorSet) ATR(period float64) float64 {
	n := int(period)
	if n <= 0 || len(s.closes) < n+1 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(s.closes) - n; i < len(s.closes); i++ {
		tr := s.highs[i] - s.lows[i]
		if hc := math.Abs(s.highs[i] - s.closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(s.lows[i] - s.closes[i-1]); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(n)
}

// StdDev is the sample standard deviation of the last period closes
func (s *indicatorSet) StdDev(period float64) float64 {
	n := int(period)
	if n <= 1 || len(s.closes) < n {
		return math.NaN()
	}
	mean := s.smaAt(n, len(s.closes)-1)
	sum := 0.0
	for i := len(s.closes) - n; i < len(s.closes); i++ {
		d := s.closes[i] - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// Highest is the highest high over the last period bars
func (s *indicatorSet) Highest(period float64) float64 {
	n := int(period)
	if n <= 0 || len(s.highs) < n {
		return math.NaN()
	}
	out := s.highs[len(s.highs)-n]
	for _, h := range s.highs[len(s.highs)-n:] {
		if h > out {
			out = h
		}
	}
	return out
}

// Lowest is the lowest low over the last period bars
func (s *indicatorSet) Lowest(period float64) float64 {
	n := int(period)
	if n <= 0 || len(s.lows) < n {
		return math.NaN()
	}
	out := s.lows[len(s.lows)-n]
	for _, l := range s.lows[len(s.lows)-n:] {
		if l < out {
			out = l
		}
	}
	return out
}

// Change is the close-to-close change over the last period bars
func (s *indicatorSet) Change(period float64) float64 {
	n := int(period)
	if n <= 0 || len(s.closes) < n+1 {
		return math.NaN()
	}
	return s.closes[len(s.closes)-1] - s.closes[len(s.closes)-1-n]
}

// Crossover reports whether the fast-period SMA crossed above the
// slow-period SMA on the current bar.
func (s *indicatorSet) Crossover(fast, slow float64) bool {
	last := len(s.closes) - 1
	fNow, sNow := s.smaAt(int(fast), last), s.smaAt(int(slow), last)
	fPrev, sPrev := s.smaAt(int(fast), last-1), s.smaAt(int(slow), last-1)
	if math.IsNaN(fNow) || math.IsNaN(sNow) || math.IsNaN(fPrev) || math.IsNaN(sPrev) {
		return false
	}
	return fPrev <= sPrev && fNow > sNow
}

// Crossunder reports whether the fast-period SMA crossed below the
// slow-period SMA on the current bar.
func (s *indicatorSet) Crossunder(fast, slow float64) bool {
	last := len(s.closes) - 1
	fNow, sNow := s.smaAt(int(fast), last), s.smaAt(int(slow), last)
	fPrev, sPrev := s.smaAt(int(fast), last-1), s.smaAt(int(slow), last-1)
	if math.IsNaN(fNow) || math.IsNaN(sNow) || math.IsNaN(fPrev) || math.IsNaN(sPrev) {
		return false
	}
	return fPrev >= sPrev && fNow < sNow
}
