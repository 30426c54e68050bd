package dsl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
	"github.com/RitaChen0/QuantLab-sub000/internal/strategy/sdk"
)

// fakeBroker records the order flow a strategy produces
type fakeBroker struct {
	buys     []float64
	sells    int
	position float64
	entry    float64
	barsHeld int
	price    float64
}

func (b *fakeBroker) Buy(fraction float64) error {
	b.buys = append(b.buys, fraction)
	b.position = 1
	b.entry = b.price
	return nil
}

func (b *fakeBroker) Sell() error {
	b.sells++
	b.position = 0
	b.entry = 0
	return nil
}

func (b *fakeBroker) Cash() float64       { return 1000 }
func (b *fakeBroker) Equity() float64     { return 1000 }
func (b *fakeBroker) Position() float64   { return b.position }
func (b *fakeBroker) EntryPrice() float64 { return b.entry }
func (b *fakeBroker) BarsHeld() int       { return b.barsHeld }

func bar(t time.Time, close float64) kline.Kline {
	return kline.Kline{
		Symbol:   "BTCUSDT",
		Interval: kline.Interval1m,
		OpenTime: t,
		Open:     close,
		High:     close + 1,
		Low:      close - 1,
		Close:    close,
		Volume:   1,
	}
}

func TestCompile_NoEligibleRule(t *testing.T) {
	_, err := Compile("size: 0.5", nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidStrategy))
}

func TestCompile_UnrecognizedRule(t *testing.T) {
	_, err := Compile("entry: close > 0\nmystery: close * 2", nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidStrategy))
}

func TestCompile_ImportGateHoldsWithoutValidation(t *testing.T) {
	// Straight to Compile, skipping Validate: the gate must still reject
	_, err := Compile("use os\nentry: close > 0", nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnsafeCode))
}

func TestScriptStrategy_EntryExitFlow(t *testing.T) {
	src := `
entry: close > 105
exit: close < 100
size: 0.5
`
	strategy, err := Compile(src, nil)
	require.NoError(t, err)

	broker := &fakeBroker{}
	require.NoError(t, strategy.Initialize(context.Background(), &sdk.Context{
		Symbol: "BTCUSDT",
		Broker: broker,
	}))

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	prices := []float64{101, 104, 106, 108, 99, 101}
	for i, p := range prices {
		broker.price = p
		require.NoError(t, strategy.OnBar(context.Background(), bar(start.Add(time.Duration(i)*time.Minute), p)))
	}

	// Entered at 106, exited at 99
	require.Len(t, broker.buys, 1)
	assert.Equal(t, 0.5, broker.buys[0])
	assert.Equal(t, 1, broker.sells)
}

func TestScriptStrategy_OnBarSignal(t *testing.T) {
	strategy, err := Compile("on_bar: close > 105 ? 1 : (close < 100 ? -1 : 0)", nil)
	require.NoError(t, err)

	broker := &fakeBroker{}
	require.NoError(t, strategy.Initialize(context.Background(), &sdk.Context{Broker: broker}))

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []float64{101, 106, 107, 98} {
		broker.price = p
		require.NoError(t, strategy.OnBar(context.Background(), bar(start.Add(time.Duration(i)*time.Minute), p)))
	}

	assert.Len(t, broker.buys, 1)
	assert.Equal(t, 1, broker.sells)
}

func TestScriptStrategy_ParamOverride(t *testing.T) {
	src := `
param threshold = 1000
entry: close > threshold
exit: bars_held > 100
`
	// Caller parameters override script defaults
	strategy, err := Compile(src, map[string]float64{"threshold": 105})
	require.NoError(t, err)

	broker := &fakeBroker{}
	require.NoError(t, strategy.Initialize(context.Background(), &sdk.Context{Broker: broker}))

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []float64{101, 106} {
		broker.price = p
		require.NoError(t, strategy.OnBar(context.Background(), bar(start.Add(time.Duration(i)*time.Minute), p)))
	}

	assert.Len(t, broker.buys, 1)
}

func TestScriptStrategy_IndicatorWarmupIsQuiet(t *testing.T) {
	// sma(50) has no value on early bars; comparisons against NaN are
	// false, so no fills happen during warm-up
	strategy, err := Compile("entry: close > sma(50)\nexit: close < sma(50)", nil)
	require.NoError(t, err)

	broker := &fakeBroker{}
	require.NoError(t, strategy.Initialize(context.Background(), &sdk.Context{Broker: broker}))

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		require.NoError(t, strategy.OnBar(context.Background(), bar(start.Add(time.Duration(i)*time.Minute), 100)))
	}

	assert.Empty(t, broker.buys)
	assert.Equal(t, 0, broker.sells)
}

func TestIndicators_SMACrossover(t *testing.T) {
	ind := newIndicatorSet()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Declining then sharply rising closes force a fast/slow cross
	prices := []float64{110, 108, 106, 104, 102, 100, 120, 140}
	crossed := false
	for i, p := range prices {
		ind.push(bar(start.Add(time.Duration(i)*time.Minute), p))
		if ind.Crossover(2, 4) {
			crossed = true
		}
	}
	assert.True(t, crossed)
}
