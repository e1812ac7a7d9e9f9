package indicator

import (
	"math"

	"github.com/moznion/go-optional"

	"github.com/quantpulse-lab/pulse-trading/internal/types"
)

// Enrich returns a copy of candles with the EMA(7/25/99) and
// MACD(fast,slow,signal) fields populated wherever enough preceding
// candles exist.
func Enrich(candles []types.Candle, macdFast, macdSlow, macdSignal int) []types.Candle {
	if len(candles) == 0 {
		return nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ema7 := EMASeries(closes, EMAShortPeriod)
	ema25 := EMASeries(closes, EMAMediumPeriod)
	ema99 := EMASeries(closes, EMALongPeriod)
	macdLine, macdSignalLine, macdHist := MACDSeries(closes, macdFast, macdSlow, macdSignal)

	enriched := make([]types.Candle, len(candles))
	for i, c := range candles {
		c.EMA7 = asOption(ema7[i])
		c.EMA25 = asOption(ema25[i])
		c.EMA99 = asOption(ema99[i])
		c.MACDLine = asOption(macdLine[i])
		c.MACDSignal = asOption(macdSignalLine[i])
		c.MACDHist = asOption(macdHist[i])
		enriched[i] = c
	}

	return enriched
}

func asOption(v float64) optional.Option[float64] {
	if math.IsNaN(v) {
		return optional.None[float64]()
	}

	return optional.Some(v)
}
