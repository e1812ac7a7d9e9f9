package types

import (
	"sort"
	"time"

	"github.com/quantpulse-lab/pulse-trading/pkg/errors"
)

// Interval is a candlestick timeframe. Native intervals are served
// directly by the upstream exchange; derived intervals are resampled from
// the native interval returned by Base.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval2m  Interval = "2m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval6m  Interval = "6m"
	Interval10m Interval = "10m"
	Interval15m Interval = "15m"
	Interval20m Interval = "20m"
	Interval30m Interval = "30m"
	Interval45m Interval = "45m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval3h  Interval = "3h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval10h Interval = "10h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval2d  Interval = "2d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// Months use a fixed 30 day width for bucket alignment, matching the
// resampler's absolute epoch flooring.
var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval2m:  2 * time.Minute,
	Interval3m:  3 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval6m:  6 * time.Minute,
	Interval10m: 10 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval20m: 20 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval45m: 45 * time.Minute,
	Interval1h:  time.Hour,
	Interval2h:  2 * time.Hour,
	Interval3h:  3 * time.Hour,
	Interval4h:  4 * time.Hour,
	Interval6h:  6 * time.Hour,
	Interval8h:  8 * time.Hour,
	Interval10h: 10 * time.Hour,
	Interval12h: 12 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval2d:  48 * time.Hour,
	Interval3d:  72 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
	Interval1M:  30 * 24 * time.Hour,
}

// derivedBase maps intervals the upstream exchange does not serve to the
// native interval they are resampled from.
var derivedBase = map[Interval]Interval{
	Interval2m:  Interval1m,
	Interval6m:  Interval3m,
	Interval10m: Interval5m,
	Interval20m: Interval5m,
	Interval45m: Interval15m,
	Interval3h:  Interval1h,
	Interval10h: Interval2h,
	Interval2d:  Interval1d,
}

// Duration returns the bucket width of the interval.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// IsNative reports whether the upstream exchange serves this interval
// directly.
func (i Interval) IsNative() bool {
	_, derived := derivedBase[i]
	return !derived
}

// Base returns the native interval this interval is resampled from, or
// the interval itself when it is native.
func (i Interval) Base() Interval {
	if base, ok := derivedBase[i]; ok {
		return base
	}

	return i
}

// ParseInterval validates and converts an interval string.
func ParseInterval(s string) (Interval, error) {
	i := Interval(s)
	if _, ok := intervalDurations[i]; !ok {
		return "", errors.Newf(errors.ErrCodeInvalidInterval, "unsupported interval: %s", s)
	}

	return i, nil
}

// SupportedIntervals returns every supported target interval ordered by
// bucket width.
func SupportedIntervals() []Interval {
	intervals := make([]Interval, 0, len(intervalDurations))
	for i := range intervalDurations {
		intervals = append(intervals, i)
	}

	sort.Slice(intervals, func(a, b int) bool {
		return intervals[a].Duration() < intervals[b].Duration()
	})

	return intervals
}
