package indicator

import "math"

// MACDSeries computes the MACD line, signal line, and histogram over
// values. The line is fastEMA-slowEMA where both are defined, the signal
// line is an EMA of the line seeded from its first defined index, and the
// histogram is line-signal. Undefined entries are NaN.
func MACDSeries(values []float64, fast, slow, signal int) (line, signalLine, hist []float64) {
	emaFast := EMASeries(values, fast)
	emaSlow := EMASeries(values, slow)

	line = make([]float64, len(values))
	for i := range values {
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaSlow[i]) {
			line[i] = math.NaN()
		} else {
			line[i] = emaFast[i] - emaSlow[i]
		}
	}

	signalLine = emaFrom(line, signal)

	hist = make([]float64, len(values))
	for i := range line {
		hist[i] = line[i] - signalLine[i]
	}

	return line, signalLine, hist
}
