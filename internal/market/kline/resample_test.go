package kline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteBars(start time.Time, n int) []Kline {
	bars := make([]Kline, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		bars[i] = Kline{
			Symbol:   "BTCUSDT",
			Interval: Interval1m,
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     price,
			High:     price + 0.5,
			Low:      price - 0.5,
			Close:    price + 0.25,
			Volume:   10,
		}
	}
	return bars
}

func TestResample_Aggregation(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bars := minuteBars(start, 10)

	out := Resample(bars, Interval5m)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, start, first.OpenTime)
	assert.Equal(t, Interval5m, first.Interval)
	assert.Equal(t, 100.0, first.Open)       // first
	assert.Equal(t, 104.5, first.High)       // max
	assert.Equal(t, 99.5, first.Low)         // min
	assert.Equal(t, 104.25, first.Close)     // last
	assert.Equal(t, 50.0, first.Volume)      // sum

	second := out[1]
	assert.Equal(t, start.Add(5*time.Minute), second.OpenTime)
	assert.Equal(t, 105.0, second.Open)
	assert.Equal(t, 109.25, second.Close)
}

func TestResample_VolumeConserved(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := minuteBars(start, 120)

	var fineTotal float64
	for _, b := range bars {
		fineTotal += b.Volume
	}

	out := Resample(bars, Interval1h)
	var coarseTotal float64
	for _, b := range out {
		coarseTotal += b.Volume
	}
	assert.Equal(t, fineTotal, coarseTotal)
}

func TestResample_IdempotentOnCoarseInput(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	coarse := Resample(minuteBars(start, 60), Interval15m)

	again := Resample(coarse, Interval15m)
	assert.Equal(t, coarse, again)
}

func TestResample_DropsEmptyPeriods(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	// Two minute-bars separated by a 15 minute gap
	bars := []Kline{
		{Symbol: "X", Interval: Interval1m, OpenTime: start, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Symbol: "X", Interval: Interval1m, OpenTime: start.Add(15 * time.Minute), Open: 2, High: 2, Low: 2, Close: 2, Volume: 2},
	}

	out := Resample(bars, Interval5m)
	// The two empty 5m periods between them are absent, not zero-filled
	require.Len(t, out, 2)
	assert.Equal(t, start, out[0].OpenTime)
	assert.Equal(t, start.Add(15*time.Minute), out[1].OpenTime)
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("1h")
	require.NoError(t, err)
	assert.Equal(t, Interval1h, iv)
	assert.Equal(t, time.Hour, iv.Duration())

	_, err = ParseInterval("7m")
	assert.Error(t, err)
}
