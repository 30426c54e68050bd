package kline

// Resample aggregates bars into the coarser target interval:
// open = first, high = max, low = min, close = last, volume = sum.
// Target periods with no source bars are dropped, not zero-filled.
// Input must be ordered by open time; output preserves that order.
// Resampling already-coarse input is the identity.
func Resample(bars []Kline, target Interval) []Kline {
	if len(bars) == 0 {
		return nil
	}
	if bars[0].Interval == target {
		return bars
	}

	period := target.Duration()
	var out []Kline
	var cur *Kline

	for _, b := range bars {
		bucket := b.OpenTime.Truncate(period)
		if cur == nil || !bucket.Equal(cur.OpenTime) {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &Kline{
				Symbol:   b.Symbol,
				Interval: target,
				OpenTime: bucket,
				Open:     b.Open,
				High:     b.High,
				Low:      b.Low,
				Close:    b.Close,
				Volume:   b.Volume,
			}
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	out = append(out, *cur)
	return out
}
