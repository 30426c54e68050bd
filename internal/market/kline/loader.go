package kline

import (
	"context"
	"time"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
)

// RangeReader is the slice of Store the loader needs
type RangeReader interface {
	Bounds(ctx context.Context, symbol string, interval Interval) (start, end time.Time, ok bool, err error)
	Range(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Kline, error)
}

// Series is a loaded, aligned OHLCV series. When the requested range only
// partially overlaps the stored range, Clipped is set and the effective
// bounds record the adjustment for the caller to report.
type Series struct {
	Symbol         string
	Interval       Interval
	Bars           []Kline
	RequestedStart time.Time
	RequestedEnd   time.Time
	EffectiveStart time.Time
	EffectiveEnd   time.Time
	Clipped        bool
}

// Loader supplies aligned OHLCV rows for a symbol/range/granularity,
// resampling from the stored base interval when a coarser one is requested.
type Loader struct {
	store RangeReader
	base  Interval
}

// NewLoader creates a loader over a store whose canonical data lives at
// the given base interval.
func NewLoader(store RangeReader, base Interval) *Loader {
	return &Loader{store: store, base: base}
}

// Load fetches bars for [start, end) at the requested interval. The range
// is clipped to the intersection with the stored range; when the ranges do
// not overlap at all the load fails with DATA_UNAVAILABLE.
func (l *Loader) Load(ctx context.Context, symbol string, start, end time.Time, interval Interval) (*Series, error) {
	if !l.base.Valid() {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "unknown base interval %q", string(l.base))
	}
	if !interval.Valid() {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "unknown interval %q", string(interval))
	}
	if interval.Duration() < l.base.Duration() || interval.Duration()%l.base.Duration() != 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation,
			"interval %s is not a multiple of the stored base interval %s", interval, l.base)
	}

	storedStart, storedLast, ok, err := l.store.Bounds(ctx, symbol, l.base)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to read stored range")
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeDataUnavailable, "no price data stored for %s", symbol)
	}

	// The stored range covers [first open, last close)
	storedEnd := storedLast.Add(l.base.Duration())

	effStart, effEnd := start, end
	clipped := false
	if effStart.Before(storedStart) {
		effStart = storedStart
		clipped = true
	}
	if effEnd.After(storedEnd) {
		effEnd = storedEnd
		clipped = true
	}
	if !effStart.Before(effEnd) {
		return nil, apperrors.Newf(apperrors.ErrCodeDataUnavailable,
			"requested range [%s, %s) does not overlap stored range [%s, %s) for %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339),
			storedStart.Format(time.RFC3339), storedEnd.Format(time.RFC3339), symbol)
	}

	bars, err := l.store.Range(ctx, symbol, l.base, effStart, effEnd)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to load price series")
	}
	if len(bars) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeDataUnavailable,
			"no price rows for %s in [%s, %s)", symbol,
			effStart.Format(time.RFC3339), effEnd.Format(time.RFC3339))
	}

	if interval != l.base {
		bars = Resample(bars, interval)
	}

	return &Series{
		Symbol:         symbol,
		Interval:       interval,
		Bars:           bars,
		RequestedStart: start,
		RequestedEnd:   end,
		EffectiveStart: effStart,
		EffectiveEnd:   effEnd,
		Clipped:        clipped,
	}, nil
}
