package kline

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store reads price series from the relational store, keyed by
// (symbol, interval, open_time).
type Store struct {
	db *sql.DB
}

// NewStore creates a new kline store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Bounds returns the stored time range [first, last bar open] for a symbol
// and interval. ok is false when no rows exist at all.
func (s *Store) Bounds(ctx context.Context, symbol string, interval Interval) (start, end time.Time, ok bool, err error) {
	query := `
		SELECT MIN(open_time), MAX(open_time)
		FROM klines
		WHERE symbol = $1 AND interval = $2`

	var minTime, maxTime sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, symbol, string(interval)).Scan(&minTime, &maxTime); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to query kline bounds: %w", err)
	}
	if !minTime.Valid || !maxTime.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return minTime.Time, maxTime.Time, true, nil
}

// Range returns bars with open_time in [start, end), ordered by time
func (s *Store) Range(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Kline, error) {
	query := `
		SELECT symbol, interval, open_time, open, high, low, close, volume
		FROM klines
		WHERE symbol = $1 AND interval = $2 AND open_time >= $3 AND open_time < $4
		ORDER BY open_time`

	rows, err := s.db.QueryContext(ctx, query, symbol, string(interval), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query klines: %w", err)
	}
	defer rows.Close()

	var bars []Kline
	for rows.Next() {
		var k Kline
		var iv string
		if err := rows.Scan(&k.Symbol, &iv, &k.OpenTime, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan kline: %w", err)
		}
		k.Interval = Interval(iv)
		bars = append(bars, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate klines: %w", err)
	}
	return bars, nil
}
