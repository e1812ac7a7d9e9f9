package strategy

import (
	"github.com/quantpulse-lab/pulse-trading/internal/types"
)

// crossOver reports a strict upward flip of series A through series B
// between the previous and current sample.
func crossOver(currA, currB, prevA, prevB float64) bool {
	return prevA <= prevB && currA > currB
}

func crossUnder(currA, currB, prevA, prevB float64) bool {
	return prevA >= prevB && currA < currB
}

// signal is one qualifying cross found by the scan.
type signal struct {
	Combo     types.ComboKind
	Direction types.Direction
	Label     string
}

var entryLabels = map[types.ComboKind]map[types.Direction]string{
	types.ComboEMA7_25:   {types.DirectionLong: "EMA7/25金叉", types.DirectionShort: "EMA7/25死叉"},
	types.ComboEMA7_99:   {types.DirectionLong: "EMA7/99金叉", types.DirectionShort: "EMA7/99死叉"},
	types.ComboEMA25_99:  {types.DirectionLong: "EMA25/99金叉", types.DirectionShort: "EMA25/99死叉"},
	types.ComboEMADouble: {types.DirectionLong: "双EMA上穿过滤线", types.DirectionShort: "双EMA跌破过滤线"},
	types.ComboMACD:      {types.DirectionLong: "MACD金叉", types.DirectionShort: "MACD死叉"},
}

// exitLabels are keyed by the direction being closed.
var exitLabels = map[types.ComboKind]map[types.Direction]string{
	types.ComboEMA7_25:   {types.DirectionLong: "EMA7/25死叉平多", types.DirectionShort: "EMA7/25金叉平空"},
	types.ComboEMA7_99:   {types.DirectionLong: "EMA7/99死叉平多", types.DirectionShort: "EMA7/99金叉平空"},
	types.ComboEMA25_99:  {types.DirectionLong: "EMA25/99死叉平多", types.DirectionShort: "EMA25/99金叉平空"},
	types.ComboEMADouble: {types.DirectionLong: "双EMA跌破过滤线平多", types.DirectionShort: "双EMA上破过滤线平空"},
	types.ComboMACD:      {types.DirectionLong: "MACD死叉平多", types.DirectionShort: "MACD金叉平空"},
}

// comboCross evaluates one indicator combination between prev and last,
// returning the cross direction if one fired. Combinations whose inputs
// are still undefined report no cross.
func comboCross(kind types.ComboKind, last, prev types.Candle) (types.Direction, bool) {
	e7, e25, ok := emaPair(last)
	p7, p25, okPrev := emaPair(prev)

	if !ok || !okPrev {
		return types.DirectionFlat, false
	}

	switch kind {
	case types.ComboEMA7_25:
		if crossOver(e7, e25, p7, p25) {
			return types.DirectionLong, true
		}

		if crossUnder(e7, e25, p7, p25) {
			return types.DirectionShort, true
		}
	case types.ComboEMA7_99:
		e99, p99, ok99 := ema99Pair(last, prev)
		if !ok99 {
			return types.DirectionFlat, false
		}

		if crossOver(e7, e99, p7, p99) {
			return types.DirectionLong, true
		}

		if crossUnder(e7, e99, p7, p99) {
			return types.DirectionShort, true
		}
	case types.ComboEMA25_99:
		e99, p99, ok99 := ema99Pair(last, prev)
		if !ok99 {
			return types.DirectionFlat, false
		}

		if crossOver(e25, e99, p25, p99) {
			return types.DirectionLong, true
		}

		if crossUnder(e25, e99, p25, p99) {
			return types.DirectionShort, true
		}
	case types.ComboEMADouble:
		e99, p99, ok99 := ema99Pair(last, prev)
		if !ok99 {
			return types.DirectionFlat, false
		}

		bothAboveNow := e7 > e99 && e25 > e99
		bothAbovePrev := p7 > p99 && p25 > p99
		bothBelowNow := e7 < e99 && e25 < e99
		bothBelowPrev := p7 < p99 && p25 < p99

		if bothAboveNow && !bothAbovePrev {
			return types.DirectionLong, true
		}

		if bothBelowNow && !bothBelowPrev {
			return types.DirectionShort, true
		}
	case types.ComboMACD:
		line, sig, okMACD := macdPair(last)
		pLine, pSig, okPrevMACD := macdPair(prev)

		if !okMACD || !okPrevMACD {
			return types.DirectionFlat, false
		}

		if crossOver(line, sig, pLine, pSig) {
			return types.DirectionLong, true
		}

		if crossUnder(line, sig, pLine, pSig) {
			return types.DirectionShort, true
		}
	}

	return types.DirectionFlat, false
}

// scanEntrySignal walks the combinations in priority order and returns
// the first cross admitted by a combination's entry toggles.
func scanEntrySignal(cfg *types.StrategyConfig, last, prev types.Candle) (signal, bool) {
	for _, kind := range types.ComboPriority {
		combo := cfg.Combo(kind)
		if !combo.Enabled {
			continue
		}

		dir, fired := comboCross(kind, last, prev)
		if !fired {
			continue
		}

		if dir == types.DirectionLong && !combo.Long {
			continue
		}

		if dir == types.DirectionShort && !combo.Short {
			continue
		}

		return signal{Combo: kind, Direction: dir, Label: entryLabels[kind][dir]}, true
	}

	return signal{Direction: types.DirectionFlat}, false
}

// scanExitSignal returns the first opposing cross admitted by a
// combination's exit toggles for the held direction.
func scanExitSignal(cfg *types.StrategyConfig, last, prev types.Candle, held types.Direction) (signal, bool) {
	opposing := types.DirectionShort
	if held == types.DirectionShort {
		opposing = types.DirectionLong
	}

	for _, kind := range types.ComboPriority {
		combo := cfg.Combo(kind)
		if !combo.Enabled {
			continue
		}

		if held == types.DirectionLong && !combo.ExitLong {
			continue
		}

		if held == types.DirectionShort && !combo.ExitShort {
			continue
		}

		dir, fired := comboCross(kind, last, prev)
		if !fired || dir != opposing {
			continue
		}

		return signal{Combo: kind, Direction: dir, Label: exitLabels[kind][held]}, true
	}

	return signal{Direction: types.DirectionFlat}, false
}

func emaPair(c types.Candle) (ema7, ema25 float64, ok bool) {
	if c.EMA7.IsNone() || c.EMA25.IsNone() {
		return 0, 0, false
	}

	return c.EMA7.Unwrap(), c.EMA25.Unwrap(), true
}

func ema99Pair(last, prev types.Candle) (lastEMA99, prevEMA99 float64, ok bool) {
	if last.EMA99.IsNone() || prev.EMA99.IsNone() {
		return 0, 0, false
	}

	return last.EMA99.Unwrap(), prev.EMA99.Unwrap(), true
}

func macdPair(c types.Candle) (line, signalLine float64, ok bool) {
	if c.MACDLine.IsNone() || c.MACDSignal.IsNone() {
		return 0, 0, false
	}

	return c.MACDLine.Unwrap(), c.MACDSignal.Unwrap(), true
}
