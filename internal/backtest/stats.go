package backtest

import (
	"math"
	"time"
)

const (
	stepsPerYear = 252
	riskFreeRate = 0.02
)

// Analyze computes summary statistics from a completed run. It is a pure
// function of its inputs and never mutates them.
func Analyze(initialCapital, finalValue float64, trades []TradeRecord, equity []EquityPoint) *PerformanceMetrics {
	m := &PerformanceMetrics{
		FinalValue: finalValue,
		TotalPnL:   finalValue - initialCapital,
	}
	if initialCapital > 0 {
		m.TotalReturn = (finalValue - initialCapital) / initialCapital * 100
	}

	var winSum, lossSum float64
	var holdingSum int
	for _, t := range trades {
		// Zero-pnl trades count toward totals but neither side of the split
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			winSum += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			lossSum += t.PnL
		}
		holdingSum += t.HoldingDays
	}
	m.TotalTrades = len(trades)

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.AvgHoldingDays = float64(holdingSum) / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = winSum / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = lossSum / float64(m.LosingTrades)
	}
	if m.AvgLoss != 0 {
		m.ProfitFactor = math.Abs(m.AvgWin / m.AvgLoss)
	}

	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(equity)
	m.SharpeRatio = sharpeRatio(stepReturns(equity))

	return m
}

// stepReturns computes per-step simple returns of the equity curve
func stepReturns(equity []EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Total
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (equity[i].Total-prev)/prev)
	}
	return returns
}

func maxDrawdown(equity []EquityPoint) (abs, pct float64) {
	peak := math.Inf(-1)
	for _, p := range equity {
		if p.Total > peak {
			peak = p.Total
		}
		dd := peak - p.Total
		if dd > abs {
			abs = dd
		}
		if peak > 0 {
			if ddPct := dd / peak * 100; ddPct > pct {
				pct = ddPct
			}
		}
	}
	return abs, pct
}

// sharpeRatio annualizes per-step returns assuming 252 steps per year
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	annMean := mean * stepsPerYear
	annStd := std * math.Sqrt(stepsPerYear)
	return (annMean - riskFreeRate) / annStd
}

// DerivedSeries holds visualization-only views of a run. Nothing in the
// headline metrics depends on these.
type DerivedSeries struct {
	MonthlyReturns []MonthlyReturn `json:"monthly_returns"`
	RollingSharpe  []SeriesPoint   `json:"rolling_sharpe"`
	DrawdownPct    []SeriesPoint   `json:"drawdown_pct"`
	HoldingBuckets []HoldingBucket `json:"holding_buckets"`
}

// MonthlyReturn represents the equity return over one calendar month
type MonthlyReturn struct {
	Month  string  `json:"month"`
	Return float64 `json:"return"`
}

// SeriesPoint represents one dated value of a derived series
type SeriesPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// HoldingBucket counts trades by pnl sign within a holding-day range
type HoldingBucket struct {
	Label  string `json:"label"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
}

const rollingSharpeWindow = 20

// Derive builds the visualization series for a completed run
func Derive(trades []TradeRecord, equity []EquityPoint) *DerivedSeries {
	return &DerivedSeries{
		MonthlyReturns: monthlyReturns(equity),
		RollingSharpe:  rollingSharpe(equity, rollingSharpeWindow),
		DrawdownPct:    drawdownSeries(equity),
		HoldingBuckets: holdingBuckets(trades),
	}
}

func monthlyReturns(equity []EquityPoint) []MonthlyReturn {
	if len(equity) == 0 {
		return nil
	}

	var out []MonthlyReturn
	monthOf := func(t time.Time) string { return t.Format("2006-01") }

	current := monthOf(equity[0].Time)
	open := equity[0].Total
	last := equity[0].Total
	for _, p := range equity[1:] {
		if m := monthOf(p.Time); m != current {
			if open != 0 {
				out = append(out, MonthlyReturn{Month: current, Return: (last - open) / open * 100})
			}
			current = m
			open = last
		}
		last = p.Total
	}
	if open != 0 {
		out = append(out, MonthlyReturn{Month: current, Return: (last - open) / open * 100})
	}
	return out
}

func rollingSharpe(equity []EquityPoint, window int) []SeriesPoint {
	returns := stepReturns(equity)
	if len(returns) < window {
		return nil
	}

	out := make([]SeriesPoint, 0, len(returns)-window+1)
	for i := window; i <= len(returns); i++ {
		out = append(out, SeriesPoint{
			Time:  equity[i].Time,
			Value: sharpeRatio(returns[i-window : i]),
		})
	}
	return out
}

func drawdownSeries(equity []EquityPoint) []SeriesPoint {
	if len(equity) == 0 {
		return nil
	}

	out := make([]SeriesPoint, 0, len(equity))
	peak := math.Inf(-1)
	for _, p := range equity {
		if p.Total > peak {
			peak = p.Total
		}
		pct := 0.0
		if peak > 0 {
			pct = (peak - p.Total) / peak * 100
		}
		out = append(out, SeriesPoint{Time: p.Time, Value: pct})
	}
	return out
}

var holdingRanges = []struct {
	label    string
	min, max int
}{
	{"0-1", 0, 1},
	{"2-5", 2, 5},
	{"6-10", 6, 10},
	{"11-20", 11, 20},
	{"21+", 21, math.MaxInt},
}

func holdingBuckets(trades []TradeRecord) []HoldingBucket {
	out := make([]HoldingBucket, len(holdingRanges))
	for i, r := range holdingRanges {
		out[i].Label = r.label
	}
	for _, t := range trades {
		for i, r := range holdingRanges {
			if t.HoldingDays >= r.min && t.HoldingDays <= r.max {
				switch {
				case t.PnL > 0:
					out[i].Wins++
				case t.PnL < 0:
					out[i].Losses++
				}
				break
			}
		}
	}
	return out
}
