package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func equityCurve(totals ...float64) []EquityPoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]EquityPoint, len(totals))
	for i, total := range totals {
		points[i] = EquityPoint{
			Time:  start.AddDate(0, 0, i),
			Total: total,
			Cash:  total,
		}
	}
	return points
}

func TestAnalyze_SingleWinningTrade(t *testing.T) {
	trades := []TradeRecord{{
		EntryTime:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EntryPrice:  100,
		ExitTime:    time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		ExitPrice:   110,
		Size:        1000,
		PnL:         10_000,
		PnLNet:      10_000,
		HoldingDays: 2,
	}}

	m := Analyze(1_000_000, 1_010_000, trades, equityCurve(1_000_000, 1_005_000, 1_010_000))

	assert.InDelta(t, 10_000.0, m.TotalPnL, 1e-9)
	assert.InDelta(t, 1.0, m.TotalReturn, 1e-9)
	assert.InDelta(t, 100.0, m.WinRate, 1e-9)
	assert.Equal(t, 1, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 0, m.LosingTrades)
	assert.InDelta(t, 10_000.0, m.AvgWin, 1e-9)
	assert.Equal(t, 0.0, m.AvgLoss)
	// No losing trades means no profit factor
	assert.Equal(t, 0.0, m.ProfitFactor)
	assert.InDelta(t, 2.0, m.AvgHoldingDays, 1e-9)
}

func TestAnalyze_ProfitFactor(t *testing.T) {
	trades := []TradeRecord{
		{PnL: 300}, {PnL: 100}, {PnL: -100},
	}
	m := Analyze(1000, 1300, trades, nil)

	assert.InDelta(t, 200.0, m.AvgWin, 1e-9)
	assert.InDelta(t, -100.0, m.AvgLoss, 1e-9)
	assert.InDelta(t, 2.0, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 100.0/1.5, m.WinRate, 1e-6)
}

func TestAnalyze_BreakEvenTradesStayOutOfBothSplits(t *testing.T) {
	trades := []TradeRecord{
		{PnL: 100}, {PnL: 0}, {PnL: -50},
	}
	m := Analyze(1000, 1050, trades, nil)

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 100.0, m.AvgWin, 1e-9)
	assert.InDelta(t, -50.0, m.AvgLoss, 1e-9)
	assert.InDelta(t, 100.0/3, m.WinRate, 1e-6)
}

func TestAnalyze_NoTrades(t *testing.T) {
	m := Analyze(1000, 1000, nil, equityCurve(1000, 1000))

	assert.Equal(t, 0.0, m.WinRate)
	assert.Equal(t, 0.0, m.ProfitFactor)
	assert.Equal(t, 0.0, m.AvgHoldingDays)
	assert.Equal(t, 0.0, m.TotalReturn)
}

func TestMaxDrawdown_MonotoneCurveIsZero(t *testing.T) {
	m := Analyze(100, 150, nil, equityCurve(100, 110, 120, 150))
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 0.0, m.MaxDrawdownPct)
}

func TestMaxDrawdown_PeakToTrough(t *testing.T) {
	m := Analyze(100, 120, nil, equityCurve(80, 100, 50, 120))
	assert.InDelta(t, 50.0, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 50.0, m.MaxDrawdownPct, 1e-9)
}

func TestSharpe_ZeroVariance(t *testing.T) {
	m := Analyze(100, 100, nil, equityCurve(100, 100, 100, 100))
	assert.Equal(t, 0.0, m.SharpeRatio)
}

func TestSharpe_TooFewPoints(t *testing.T) {
	m := Analyze(100, 101, nil, equityCurve(100, 101))
	// One return only, below the minimum
	assert.Equal(t, 0.0, m.SharpeRatio)
}

func TestSharpe_PositiveDrift(t *testing.T) {
	m := Analyze(100, 104, nil, equityCurve(100, 101, 101.5, 103, 104))
	assert.Greater(t, m.SharpeRatio, 0.0)
}

func TestDerive_MonthlyReturns(t *testing.T) {
	jan := time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)
	points := []EquityPoint{
		{Time: jan, Total: 100},
		{Time: jan.AddDate(0, 0, 1), Total: 110},
		{Time: jan.AddDate(0, 0, 2), Total: 105},
		{Time: jan.AddDate(0, 0, 3), Total: 121},
	}

	series := Derive(nil, points)
	require.Len(t, series.MonthlyReturns, 2)
	assert.Equal(t, "2024-01", series.MonthlyReturns[0].Month)
	assert.InDelta(t, 10.0, series.MonthlyReturns[0].Return, 1e-9)
	assert.Equal(t, "2024-02", series.MonthlyReturns[1].Month)
	assert.InDelta(t, 10.0, series.MonthlyReturns[1].Return, 1e-9)
}

func TestDerive_DrawdownSeries(t *testing.T) {
	series := Derive(nil, equityCurve(100, 50, 100))
	require.Len(t, series.DrawdownPct, 3)
	assert.Equal(t, 0.0, series.DrawdownPct[0].Value)
	assert.InDelta(t, 50.0, series.DrawdownPct[1].Value, 1e-9)
	assert.Equal(t, 0.0, series.DrawdownPct[2].Value)
}

func TestDerive_HoldingBuckets(t *testing.T) {
	trades := []TradeRecord{
		{PnL: 10, HoldingDays: 0},
		{PnL: -5, HoldingDays: 1},
		{PnL: 20, HoldingDays: 4},
		{PnL: 30, HoldingDays: 15},
		{PnL: -1, HoldingDays: 40},
	}

	series := Derive(trades, nil)
	require.Len(t, series.HoldingBuckets, 5)

	byLabel := map[string]HoldingBucket{}
	for _, b := range series.HoldingBuckets {
		byLabel[b.Label] = b
	}
	assert.Equal(t, 1, byLabel["0-1"].Wins)
	assert.Equal(t, 1, byLabel["0-1"].Losses)
	assert.Equal(t, 1, byLabel["2-5"].Wins)
	assert.Equal(t, 1, byLabel["11-20"].Wins)
	assert.Equal(t, 1, byLabel["21+"].Losses)
}

func TestDerive_RollingSharpeWindow(t *testing.T) {
	totals := make([]float64, 30)
	for i := range totals {
		totals[i] = 100 + float64(i)
	}
	series := Derive(nil, equityCurve(totals...))

	// 29 returns, window 20 gives 10 points
	assert.Len(t, series.RollingSharpe, 10)
}
