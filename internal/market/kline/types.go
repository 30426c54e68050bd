package kline

import (
	"fmt"
	"time"
)

// Interval represents a candlestick interval
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// ParseInterval parses an interval string
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unknown interval: %q", s)
	}
	return iv, nil
}

// Duration returns the interval length
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Valid reports whether the interval is recognized
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Kline represents a candlestick
type Kline struct {
	Symbol   string    `json:"symbol"`
	Interval Interval  `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// CloseTime returns the exclusive end of the bar's period
func (k *Kline) CloseTime() time.Time {
	return k.OpenTime.Add(k.Interval.Duration())
}
