package kline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
)

// fakeStore serves a fixed minute-bar series from memory
type fakeStore struct {
	bars []Kline
}

func (f *fakeStore) Bounds(ctx context.Context, symbol string, interval Interval) (time.Time, time.Time, bool, error) {
	if len(f.bars) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	return f.bars[0].OpenTime, f.bars[len(f.bars)-1].OpenTime, true, nil
}

func (f *fakeStore) Range(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Kline, error) {
	var out []Kline
	for _, b := range f.bars {
		if !b.OpenTime.Before(start) && b.OpenTime.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestLoader_ClipsToStoredRange(t *testing.T) {
	storedStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{bars: minuteBars(storedStart, 60)}
	loader := NewLoader(store, Interval1m)

	// Request extends an hour before and after the stored hour
	series, err := loader.Load(context.Background(), "BTCUSDT",
		storedStart.Add(-time.Hour), storedStart.Add(2*time.Hour), Interval1m)
	require.NoError(t, err)

	assert.True(t, series.Clipped)
	assert.Equal(t, storedStart, series.EffectiveStart)
	assert.Equal(t, storedStart.Add(time.Hour), series.EffectiveEnd)
	assert.Len(t, series.Bars, 60)
}

func TestLoader_ExactRangeNotClipped(t *testing.T) {
	storedStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{bars: minuteBars(storedStart, 60)}
	loader := NewLoader(store, Interval1m)

	series, err := loader.Load(context.Background(), "BTCUSDT",
		storedStart.Add(10*time.Minute), storedStart.Add(30*time.Minute), Interval1m)
	require.NoError(t, err)

	assert.False(t, series.Clipped)
	assert.Len(t, series.Bars, 20)
}

func TestLoader_NoOverlapFails(t *testing.T) {
	storedStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{bars: minuteBars(storedStart, 60)}
	loader := NewLoader(store, Interval1m)

	_, err := loader.Load(context.Background(), "BTCUSDT",
		storedStart.Add(24*time.Hour), storedStart.Add(25*time.Hour), Interval1m)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDataUnavailable))
}

func TestLoader_EmptyStoreFails(t *testing.T) {
	loader := NewLoader(&fakeStore{}, Interval1m)

	_, err := loader.Load(context.Background(), "GHOST",
		time.Now().Add(-time.Hour), time.Now(), Interval1m)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDataUnavailable))
}

func TestLoader_ResamplesToCoarserInterval(t *testing.T) {
	storedStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{bars: minuteBars(storedStart, 60)}
	loader := NewLoader(store, Interval1m)

	series, err := loader.Load(context.Background(), "BTCUSDT",
		storedStart, storedStart.Add(time.Hour), Interval15m)
	require.NoError(t, err)
	assert.Len(t, series.Bars, 4)
	assert.Equal(t, Interval15m, series.Bars[0].Interval)
}

func TestLoader_RejectsFinerThanBase(t *testing.T) {
	storedStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{bars: minuteBars(storedStart, 60)}
	loader := NewLoader(store, Interval5m)

	_, err := loader.Load(context.Background(), "BTCUSDT",
		storedStart, storedStart.Add(time.Hour), Interval1m)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}

func TestLoader_RejectsUnknownBaseInterval(t *testing.T) {
	storedStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{bars: minuteBars(storedStart, 60)}
	loader := NewLoader(store, Interval("2m"))

	_, err := loader.Load(context.Background(), "BTCUSDT",
		storedStart, storedStart.Add(time.Hour), Interval1h)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}
