// Package resample aggregates base interval candles into derived interval
// candles with bucket boundaries aligned to absolute epoch time.
package resample

import (
	"sort"
	"time"

	"github.com/quantpulse-lab/pulse-trading/internal/types"
)

// BucketStart floors t onto the interval's absolute epoch grid.
func BucketStart(t time.Time, interval types.Interval) time.Time {
	width := interval.Duration().Milliseconds()
	ms := t.UnixMilli()

	return time.UnixMilli((ms / width) * width).UTC()
}

// Resample aggregates base candles into target interval candles. Open
// comes from the first contributor of a bucket, high/low are the
// extremes, close tracks the latest contributor, volume accumulates. A
// target bucket is closed only once the latest contributing base candle
// is itself closed and its bucket end reaches the target bucket end.
// Deterministic and idempotent; resampling at the base interval returns a
// copy of the input.
func Resample(base []types.Candle, target, baseInterval types.Interval) []types.Candle {
	if len(base) == 0 {
		return nil
	}

	if target == baseInterval {
		out := make([]types.Candle, len(base))
		copy(out, base)

		return out
	}

	baseWidth := baseInterval.Duration()
	targetWidth := target.Duration()

	buckets := make(map[int64]*types.Candle)

	for _, c := range base {
		start := BucketStart(c.Time, target)
		key := start.UnixMilli()

		current, ok := buckets[key]
		if !ok {
			bucket := types.Candle{
				Symbol: c.Symbol,
				Time:   start,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			}
			buckets[key] = &bucket
		} else {
			if c.High > current.High {
				current.High = c.High
			}

			if c.Low < current.Low {
				current.Low = c.Low
			}

			current.Close = c.Close
			current.Volume += c.Volume
		}

		current = buckets[key]

		baseEnd := c.Time.Add(baseWidth)
		targetEnd := start.Add(targetWidth)
		current.IsClosed = c.IsClosed && !baseEnd.Before(targetEnd)
	}

	out := make([]types.Candle, 0, len(buckets))
	for _, c := range buckets {
		out = append(out, *c)
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].Time.Before(out[b].Time)
	})

	return out
}
