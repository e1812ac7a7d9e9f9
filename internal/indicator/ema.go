// Package indicator computes the EMA and MACD series used for signal
// detection. All functions are pure: they never mutate their input and
// mark entries with insufficient history as NaN (or None on enriched
// candles).
package indicator

import "math"

const (
	EMAShortPeriod  = 7
	EMAMediumPeriod = 25
	EMALongPeriod   = 99
)

// EMASeries computes an exponential moving average over values. The first
// period-1 entries are NaN, the seed at index period-1 is the simple
// average of the first period values, and every later entry follows
// v*k + prev*(1-k) with k = 2/(period+1).
func EMASeries(values []float64, period int) []float64 {
	return emaFrom(values, period)
}

// emaFrom tolerates a leading NaN run in values, seeding from the first
// defined index. This is what lets the signal line run over a MACD line
// that only becomes defined after the slow period.
func emaFrom(values []float64, period int) []float64 {
	result := make([]float64, len(values))
	for i := range result {
		result[i] = math.NaN()
	}

	if period <= 0 {
		return result
	}

	firstValid := -1

	for i, v := range values {
		if !math.IsNaN(v) {
			firstValid = i
			break
		}
	}

	if firstValid == -1 || len(values)-firstValid < period {
		return result
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[firstValid+i]
	}

	seedIdx := firstValid + period - 1
	result[seedIdx] = sum / float64(period)

	k := 2 / (float64(period) + 1)
	for i := seedIdx + 1; i < len(values); i++ {
		if math.IsNaN(values[i]) {
			continue
		}

		result[i] = values[i]*k + result[i-1]*(1-k)
	}

	return result
}
