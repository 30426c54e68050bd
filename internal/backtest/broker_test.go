package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
)

func dayBar(day int, close float64) kline.Kline {
	return kline.Kline{
		Symbol:   "600000",
		Interval: kline.Interval1d,
		OpenTime: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Open:     close,
		High:     close,
		Low:      close,
		Close:    close,
		Volume:   1000,
	}
}

func TestBroker_RoundTrip(t *testing.T) {
	b := NewBroker(Config{Symbol: "600000", InitialCapital: 1_000_000})

	b.setBar(dayBar(1, 100))
	require.NoError(t, b.Buy(0.1))
	assert.Equal(t, 1000.0, b.Position())
	assert.Equal(t, 900_000.0, b.Cash())

	b.setBar(dayBar(3, 110))
	require.NoError(t, b.Sell())
	assert.Equal(t, 0.0, b.Position())
	assert.Equal(t, 1_010_000.0, b.Cash())

	trades := b.Trades()
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.Equal(t, 110.0, tr.ExitPrice)
	assert.Equal(t, 1000.0, tr.Size)
	assert.Equal(t, 10_000.0, tr.PnL)
	assert.Equal(t, 10_000.0, tr.PnLNet)
	assert.Equal(t, 2, tr.HoldingDays)
}

func TestBroker_CommissionAndTax(t *testing.T) {
	b := NewBroker(Config{
		Symbol:         "600000",
		InitialCapital: 1_000_000,
		CommissionRate: 0.001,
		MinCommission:  5,
		TaxRate:        0.001,
	})

	b.setBar(dayBar(1, 100))
	require.NoError(t, b.Buy(0.1))
	entryNotional := b.Position() * 100
	entryFee := entryNotional * 0.001

	b.setBar(dayBar(2, 110))
	require.NoError(t, b.Sell())

	tr := b.Trades()[0]
	exitNotional := tr.Size * 110
	wantCommission := entryFee + exitNotional*0.001 + exitNotional*0.001
	assert.InDelta(t, wantCommission, tr.Commission, 1e-9)
	assert.InDelta(t, tr.PnL-wantCommission, tr.PnLNet, 1e-9)
}

func TestBroker_MinCommissionFloor(t *testing.T) {
	b := NewBroker(Config{
		Symbol:         "600000",
		InitialCapital: 1000,
		CommissionRate: 0.0001,
		MinCommission:  5,
	})

	// Tiny notional, the floor applies
	b.setBar(dayBar(1, 100))
	require.NoError(t, b.Buy(0.1))
	b.setBar(dayBar(2, 100))
	require.NoError(t, b.Sell())

	assert.InDelta(t, 10.0, b.Trades()[0].Commission, 1e-9)
}

func TestBroker_Slippage(t *testing.T) {
	b := NewBroker(Config{Symbol: "600000", InitialCapital: 1_000_000, SlippageRate: 0.01})

	b.setBar(dayBar(1, 100))
	require.NoError(t, b.Buy(0.5))
	assert.InDelta(t, 101.0, b.EntryPrice(), 1e-9)

	b.setBar(dayBar(2, 100))
	require.NoError(t, b.Sell())
	assert.InDelta(t, 99.0, b.Trades()[0].ExitPrice, 1e-9)
}

func TestBroker_SingleOpenPosition(t *testing.T) {
	b := NewBroker(Config{Symbol: "600000", InitialCapital: 1_000_000})

	b.setBar(dayBar(1, 100))
	require.NoError(t, b.Buy(0.1))
	size := b.Position()

	// Second buy while holding is ignored
	require.NoError(t, b.Buy(0.5))
	assert.Equal(t, size, b.Position())

	// Sell while flat is ignored
	require.NoError(t, b.Sell())
	require.NoError(t, b.Sell())
	assert.Len(t, b.Trades(), 1)
}

func TestBroker_BuyFractionValidation(t *testing.T) {
	b := NewBroker(Config{Symbol: "600000", InitialCapital: 1_000_000})
	b.setBar(dayBar(1, 100))

	assert.Error(t, b.Buy(0))
	assert.Error(t, b.Buy(-0.5))
	assert.Error(t, b.Buy(1.5))
}

func TestBroker_LazyLedger(t *testing.T) {
	// A run with no fills still yields a valid empty ledger
	b := NewBroker(Config{Symbol: "600000", InitialCapital: 1_000_000})
	b.setBar(dayBar(1, 100))
	b.MarkToMarket()

	assert.Empty(t, b.Trades())
	require.Len(t, b.EquityCurve(), 1)
	assert.Equal(t, 1_000_000.0, b.EquityCurve()[0].Total)
}

func TestBroker_EquityPointPerBar(t *testing.T) {
	b := NewBroker(Config{Symbol: "600000", InitialCapital: 1_000_000})

	for day := 1; day <= 5; day++ {
		b.setBar(dayBar(day, 100+float64(day)))
		if day == 1 {
			require.NoError(t, b.Buy(0.5))
		}
		b.MarkToMarket()
	}

	curve := b.EquityCurve()
	require.Len(t, curve, 5)
	for i := 1; i < len(curve); i++ {
		assert.True(t, curve[i].Time.After(curve[i-1].Time))
		assert.InDelta(t, curve[i].Total, curve[i].Cash+curve[i].PositionValue, 1e-9)
	}
}

func TestBroker_BarsHeld(t *testing.T) {
	b := NewBroker(Config{Symbol: "600000", InitialCapital: 1_000_000})

	b.setBar(dayBar(1, 100))
	require.NoError(t, b.Buy(0.1))
	assert.Equal(t, 0, b.BarsHeld())

	b.setBar(dayBar(2, 100))
	assert.Equal(t, 1, b.BarsHeld())
	b.setBar(dayBar(3, 100))
	assert.Equal(t, 2, b.BarsHeld())

	require.NoError(t, b.Sell())
	assert.Equal(t, 0, b.BarsHeld())
}
