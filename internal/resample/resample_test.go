package resample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse-lab/pulse-trading/internal/types"
)

func makeMinuteCandles(t0 time.Time, n int, closed bool) []types.Candle {
	candles := make([]types.Candle, n)
	for i := range candles {
		price := 100 + float64(i)
		candles[i] = types.Candle{
			Symbol:   "BTCUSDT",
			Time:     t0.Add(time.Duration(i) * time.Minute),
			Open:     price,
			High:     price + 2,
			Low:      price - 2,
			Close:    price + 1,
			Volume:   10,
			IsClosed: true,
		}
	}

	if !closed {
		candles[n-1].IsClosed = false
	}

	return candles
}

func TestBucketStart(t *testing.T) {
	ts := time.Date(2026, 1, 2, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 5, 0, 0, time.UTC), BucketStart(ts, types.Interval5m))
	assert.Equal(t, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), BucketStart(ts, types.Interval1h))
}

func TestResampleAggregates(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	base := makeMinuteCandles(t0, 10, true)

	out := Resample(base, types.Interval5m, types.Interval1m)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, t0, first.Time)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 106.0, first.High)
	assert.Equal(t, 98.0, first.Low)
	assert.Equal(t, 105.0, first.Close)
	assert.Equal(t, 50.0, first.Volume)
	assert.True(t, first.IsClosed)
	assert.True(t, out[1].IsClosed)
}

func TestResampleOpenBucket(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	// 7 minutes into a 10 minute bucket: the target cannot be closed yet.
	base := makeMinuteCandles(t0, 7, true)
	out := Resample(base, types.Interval10m, types.Interval1m)

	require.Len(t, out, 1)
	assert.False(t, out[0].IsClosed)
}

func TestResampleOpenBaseCandleKeepsBucketOpen(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	// The final base candle reaches the bucket end but is still forming.
	base := makeMinuteCandles(t0, 5, false)
	out := Resample(base, types.Interval5m, types.Interval1m)

	require.Len(t, out, 1)
	assert.False(t, out[0].IsClosed)
}

func TestResampleIdempotent(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	base := makeMinuteCandles(t0, 30, true)

	a := Resample(base, types.Interval10m, types.Interval1m)
	b := Resample(base, types.Interval10m, types.Interval1m)
	assert.Equal(t, a, b)
}

func TestResampleBaseIntervalReturnsCopy(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	base := makeMinuteCandles(t0, 3, true)

	out := Resample(base, types.Interval1m, types.Interval1m)
	require.Equal(t, base, out)

	out[0].Close = 9999
	assert.NotEqual(t, out[0].Close, base[0].Close)
}

func TestResampleAbsoluteAlignment(t *testing.T) {
	// Starting mid-bucket must still align to the epoch grid, not to the
	// first candle.
	t0 := time.Date(2026, 1, 2, 10, 3, 0, 0, time.UTC)
	base := makeMinuteCandles(t0, 4, true)

	out := Resample(base, types.Interval5m, types.Interval1m)
	require.Len(t, out, 2)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), out[0].Time)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 5, 0, 0, time.UTC), out[1].Time)
}

func TestResampleEmpty(t *testing.T) {
	assert.Nil(t, Resample(nil, types.Interval5m, types.Interval1m))
}
