package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
	"github.com/RitaChen0/QuantLab-sub000/internal/strategy/sdk"
)

// funcStrategy adapts a bar callback into a strategy for tests
type funcStrategy struct {
	onBar func(ctx *sdk.Context, bar kline.Kline) error
	sctx  *sdk.Context
}

func (s *funcStrategy) Initialize(_ context.Context, sctx *sdk.Context) error {
	s.sctx = sctx
	return nil
}

func (s *funcStrategy) OnBar(_ context.Context, bar kline.Kline) error {
	return s.onBar(s.sctx, bar)
}

func (s *funcStrategy) Finish(context.Context) error { return nil }

func dayBars(closes ...float64) []kline.Kline {
	bars := make([]kline.Kline, len(closes))
	for i, c := range closes {
		bars[i] = dayBar(i+1, c)
	}
	return bars
}

func TestEngine_EmptySeries(t *testing.T) {
	engine := NewEngine(Config{Symbol: "600000", InitialCapital: 1000}, &funcStrategy{
		onBar: func(*sdk.Context, kline.Kline) error { return nil },
	})
	_, err := engine.Run(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDataUnavailable))
}

func TestEngine_RoundTripScenario(t *testing.T) {
	strategy := &funcStrategy{
		onBar: func(sctx *sdk.Context, bar kline.Kline) error {
			switch bar.Close {
			case 100:
				return sctx.Broker.Buy(0.1)
			case 110:
				return sctx.Broker.Sell()
			}
			return nil
		},
	}

	engine := NewEngine(Config{Symbol: "600000", InitialCapital: 1_000_000}, strategy)
	result, err := engine.Run(context.Background(), dayBars(100, 105, 110, 108), nil)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.InDelta(t, 10_000.0, result.Metrics.TotalPnL, 1e-9)
	assert.InDelta(t, 1.0, result.Metrics.TotalReturn, 1e-9)
	assert.InDelta(t, 100.0, result.Metrics.WinRate, 1e-9)
	assert.Len(t, result.Equity, 4)
}

func TestEngine_NOpensYieldNTrades(t *testing.T) {
	strategy := &funcStrategy{
		onBar: func(sctx *sdk.Context, bar kline.Kline) error {
			if sctx.Broker.Position() == 0 {
				return sctx.Broker.Buy(0.2)
			}
			return sctx.Broker.Sell()
		},
	}

	bars := dayBars(100, 101, 102, 103, 104, 105)
	engine := NewEngine(Config{Symbol: "600000", InitialCapital: 1_000_000}, strategy)
	result, err := engine.Run(context.Background(), bars, nil)
	require.NoError(t, err)

	require.Len(t, result.Trades, 3)
	for _, tr := range result.Trades {
		assert.GreaterOrEqual(t, tr.HoldingDays, 0)
		assert.InDelta(t, (tr.ExitPrice-tr.EntryPrice)*tr.Size, tr.PnL, 1e-9)
	}
}

func TestEngine_ForcedLiquidationOnLastBar(t *testing.T) {
	strategy := &funcStrategy{
		onBar: func(sctx *sdk.Context, bar kline.Kline) error {
			if bar.Close == 100 {
				return sctx.Broker.Buy(0.5)
			}
			return nil
		},
	}

	engine := NewEngine(Config{Symbol: "600000", InitialCapital: 1_000_000}, strategy)
	result, err := engine.Run(context.Background(), dayBars(100, 102, 104), nil)
	require.NoError(t, err)

	// Position opened on bar 1 never sold by the strategy, closed by the engine
	require.Len(t, result.Trades, 1)
	assert.Equal(t, 104.0, result.Trades[0].ExitPrice)
	assert.Equal(t, 0.0, result.Equity[len(result.Equity)-1].PositionValue)
}

func TestEngine_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seen := 0
	strategy := &funcStrategy{
		onBar: func(*sdk.Context, kline.Kline) error {
			seen++
			if seen == 2 {
				cancel()
			}
			return nil
		},
	}

	engine := NewEngine(Config{Symbol: "600000", InitialCapital: 1000}, strategy)
	_, err := engine.Run(ctx, dayBars(100, 101, 102, 103, 104), nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeExecution))
	// Cancellation lands at the next bar boundary
	assert.Equal(t, 2, seen)
}

func TestEngine_Progress(t *testing.T) {
	strategy := &funcStrategy{
		onBar: func(*sdk.Context, kline.Kline) error { return nil },
	}

	engine := NewEngine(Config{Symbol: "600000", InitialCapital: 1000}, strategy)
	var dones []int
	total := 0
	engine.OnProgress(func(d, t int) {
		dones = append(dones, d)
		total = t
	})

	_, err := engine.Run(context.Background(), dayBars(100, 101, 102), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, dones)
	assert.Equal(t, 3, total)
}

func TestEngine_StrategyErrorStopsRun(t *testing.T) {
	strategy := &funcStrategy{
		onBar: func(*sdk.Context, kline.Kline) error {
			return apperrors.New(apperrors.ErrCodeExecution, "division by zero", nil)
		},
	}

	engine := NewEngine(Config{Symbol: "600000", InitialCapital: 1000}, strategy)
	_, err := engine.Run(context.Background(), dayBars(100, 101), nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeExecution))
}
