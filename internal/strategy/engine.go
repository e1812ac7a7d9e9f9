// Package strategy implements the decision engine: a pure state
// transition from an enriched candle window, a strategy configuration,
// and the current position/trade bookkeeping to a new state plus zero or
// more outbound order actions. The engine never touches shared state; the
// caller owns persistence and dispatch.
package strategy

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantpulse-lab/pulse-trading/internal/types"
)

const (
	// MinCandles is the minimum enriched window before the engine acts.
	MinCandles = 50

	exchangeName = "BINANCE"
)

// Result is the outcome of one evaluation.
type Result struct {
	Position types.PositionState
	Stats    types.TradeStats
	Actions  []types.WebhookPayload
}

// Evaluate runs one state transition. It is a no-op when the window is
// too small, the strategy is inactive, the latest candle is still open
// under trigger-on-close, or the short EMAs are undefined. At most one
// exit reason acts per evaluation; a reverse entry is the only action
// allowed on the same candle as another action.
func Evaluate(candles []types.Candle, cfg *types.StrategyConfig, pos types.PositionState, stats types.TradeStats, now time.Time) Result {
	result := Result{Position: pos, Stats: stats}

	if len(candles) < MinCandles || !cfg.Active {
		return result
	}

	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	dateKey := now.UTC().Format("2006-01-02")
	if result.Stats.LastTradeDate != dateKey {
		result.Stats.DailyTradeCount = 0
		result.Stats.LastTradeDate = dateKey
	}

	// Track the running peak/trough for the trailing stop.
	switch result.Position.Direction {
	case types.DirectionLong:
		if result.Position.HighestPrice == 0 {
			result.Position.HighestPrice = last.Close
		}

		if last.High > result.Position.HighestPrice {
			result.Position.HighestPrice = last.High
		}
	case types.DirectionShort:
		if result.Position.LowestPrice == 0 {
			result.Position.LowestPrice = last.Low
		}

		if last.Low < result.Position.LowestPrice {
			result.Position.LowestPrice = last.Low
		}
	}

	if cfg.TriggerOnClose && !last.IsClosed {
		return result
	}

	if last.EMA7.IsNone() || last.EMA25.IsNone() || prev.EMA7.IsNone() || prev.EMA25.IsNone() {
		return result
	}

	sameCandle := result.Stats.LastActionCandleTime.Equal(last.Time)

	// Exit layer. Runs under manual takeover too; only automatic entries
	// are suppressed by takeover.
	forceReverse := false

	if result.Position.Direction != types.DirectionFlat && !sameCandle {
		exit, found := findExit(cfg, &result.Position, last, prev)
		if found {
			held := result.Position.Direction
			isLong := held == types.DirectionLong

			fullExit := exit.quantity == 0 || exit.quantity >= result.Position.RemainingQuantity

			actualQty := exit.quantity
			if fullExit {
				actualQty = result.Position.RemainingQuantity
			}

			action := types.ActionSell
			if !isLong {
				action = types.ActionBuy
			}

			position := types.PayloadPositionPartial
			if fullExit {
				position = types.PayloadPositionFlat
			}

			result.Actions = append(result.Actions,
				buildPayload(cfg, action, position, actualQty, last.Close, exit.label, now))

			if fullExit {
				result.Position = resetToFlat(result.Position)
				result.Stats.DailyTradeCount++

				if exit.fromCross && cfg.UseReverse {
					if (isLong && cfg.ReverseLongToShort) || (!isLong && cfg.ReverseShortToLong) {
						forceReverse = true
						result.Position.State = types.StateExitPending
					}
				}
			} else {
				result.Position.RemainingQuantity -= actualQty
			}

			result.Stats.LastActionCandleTime = last.Time
		}
	}

	// Signal layer.
	detected := signal{Direction: types.DirectionFlat}

	atTradeLimit := result.Stats.DailyTradeCount >= cfg.MaxDailyTrades
	canEntryNow := !result.Stats.LastActionCandleTime.Equal(last.Time) || forceReverse

	if result.Position.Direction == types.DirectionFlat && !atTradeLimit && !cfg.ManualTakeover && canEntryNow {
		if sig, found := scanEntrySignal(cfg, last, prev); found {
			detected = sig
			if forceReverse {
				detected.Label = fmt.Sprintf("[反手] %s", detected.Label)
			}
		}
	}

	// Trend filter gate.
	if detected.Direction == types.DirectionLong && cfg.TrendFilterBlockLong && !trendBullish(last) {
		detected = signal{Direction: types.DirectionFlat}
	}

	if detected.Direction == types.DirectionShort && cfg.TrendFilterBlockShort && !trendBearish(last) {
		detected = signal{Direction: types.DirectionFlat}
	}

	// Delayed entry gate: only the Nth qualifying cross after the
	// activation time opens, counting at most once per candle.
	if detected.Direction != types.DirectionFlat && cfg.UseDelayedEntry {
		matches := cfg.DelayedEntryDirection == types.DelayedBoth ||
			(cfg.DelayedEntryDirection == types.DelayedLong && detected.Direction == types.DirectionLong) ||
			(cfg.DelayedEntryDirection == types.DelayedShort && detected.Direction == types.DirectionShort)

		if matches && !last.Time.Before(cfg.DelayedEntryActivation) {
			if !result.Position.Pending.LastCountedAt.Equal(last.Time) {
				result.Position.Pending.Count++
				result.Position.Pending.LastCountedAt = last.Time
			}

			if result.Position.Pending.Count < cfg.DelayedEntryTarget {
				detected = signal{Direction: types.DirectionFlat}
			}
		} else {
			detected = signal{Direction: types.DirectionFlat}
		}
	}

	// Price-return arming: hold a fresh cross as pending until the close
	// reaches the configured band around EMA7.
	if detected.Direction != types.DirectionFlat && cfg.UsePriceReturnEMA7 {
		if !priceReturned(last.Close, last.EMA7.Unwrap(), cfg.PriceReturnDist) {
			result.Position.Pending.Direction = detected.Direction
			result.Position.Pending.Source = detected.Label
			result.Position.Pending.DetectedAt = last.Time
			detected = signal{Direction: types.DirectionFlat}
		}
	}

	// Pending confirmation or invalidation.
	if result.Position.Pending.Direction != types.DirectionFlat &&
		detected.Direction == types.DirectionFlat &&
		result.Position.Direction == types.DirectionFlat &&
		!cfg.ManualTakeover {
		if priceReturned(last.Close, last.EMA7.Unwrap(), cfg.PriceReturnDist) {
			detected = signal{
				Direction: result.Position.Pending.Direction,
				Label:     fmt.Sprintf("[回归确认] %s", result.Position.Pending.Source),
			}
			result.Position.Pending.Direction = types.DirectionFlat
			result.Position.Pending.Source = ""
			result.Position.Pending.DetectedAt = time.Time{}
		} else if pendingInvalidated(result.Position.Pending.Direction, last) {
			result.Position.Pending.Direction = types.DirectionFlat
			result.Position.Pending.Source = ""
			result.Position.Pending.DetectedAt = time.Time{}
		}
	}

	// Execution layer. Every entry mode shares these gates.
	if detected.Direction != types.DirectionFlat &&
		result.Position.Direction == types.DirectionFlat &&
		result.Stats.DailyTradeCount < cfg.MaxDailyTrades &&
		(!result.Stats.LastActionCandleTime.Equal(last.Time) || forceReverse) &&
		!cfg.ManualTakeover {
		qty := cfg.TradeAmount / last.Close
		if qty > 0 {
			action := types.ActionBuy
			position := types.PayloadPositionLong

			if detected.Direction == types.DirectionShort {
				action = types.ActionSell
				position = types.PayloadPositionShort
			}

			result.Actions = append(result.Actions,
				buildPayload(cfg, action, position, qty, last.Close, detected.Label, now))

			result.Position.Direction = detected.Direction
			result.Position.EntryPrice = last.Close
			result.Position.InitialQuantity = qty
			result.Position.RemainingQuantity = qty
			result.Position.HighestPrice = last.High
			result.Position.LowestPrice = last.Low
			result.Position.OpenTime = now.UTC()
			result.Position.TPLevelsHit = [4]bool{}
			result.Position.SLLevelsHit = [4]bool{}
			result.Position.Pending = types.PendingSignal{Direction: types.DirectionFlat}

			result.Stats.DailyTradeCount++
			result.Stats.LastActionCandleTime = last.Time
		}
	}

	result.Position.State = stateTag(result.Position, cfg.ManualTakeover)

	return result
}

// exitDecision is the single exit reason acting this evaluation. A zero
// quantity means a full close.
type exitDecision struct {
	label     string
	quantity  float64
	fromCross bool
}

// findExit checks the exit precedence: trailing stop, staged TP/SL,
// fixed TP/SL, opposing cross. Level reach uses the candle's high/low so
// an intrabar wick can trigger; retracement uses the close.
func findExit(cfg *types.StrategyConfig, pos *types.PositionState, last, prev types.Candle) (exitDecision, bool) {
	isLong := pos.Direction == types.DirectionLong

	favorablePct := pctMove(pos.EntryPrice, last.High)
	adversePct := -pctMove(pos.EntryPrice, last.Low)

	if !isLong {
		favorablePct = -pctMove(pos.EntryPrice, last.Low)
		adversePct = pctMove(pos.EntryPrice, last.High)
	}

	// 1. Trailing stop.
	if cfg.UseTrailingStop {
		activated := false
		retracement := 0.0

		if isLong {
			activated = pctMove(pos.EntryPrice, pos.HighestPrice) >= cfg.TrailActivation
			retracement = pctMove(pos.HighestPrice, last.Close) * -1
		} else {
			activated = -pctMove(pos.EntryPrice, pos.LowestPrice) >= cfg.TrailActivation
			retracement = pctMove(pos.LowestPrice, last.Close)
		}

		if activated && retracement >= cfg.TrailDistance {
			return exitDecision{label: fmt.Sprintf("追踪止盈(回撤%s%%)", fmtPct(cfg.TrailDistance))}, true
		}
	}

	// 2. Staged TP then SL, first unconsumed active level wins.
	if cfg.UseMultiTPSL {
		for i, level := range cfg.TPLevels {
			if !level.Active || pos.TPLevelsHit[i] {
				continue
			}

			if favorablePct >= level.Pct {
				pos.TPLevelsHit[i] = true

				return exitDecision{
					label:    fmt.Sprintf("多级止盈#%d(%s%%)", i+1, fmtPct(level.Pct)),
					quantity: pos.InitialQuantity * level.QtyPct / 100,
				}, true
			}
		}

		for i, level := range cfg.SLLevels {
			if !level.Active || pos.SLLevelsHit[i] {
				continue
			}

			if adversePct >= level.Pct {
				pos.SLLevelsHit[i] = true

				return exitDecision{
					label:    fmt.Sprintf("多级止损#%d(%s%%)", i+1, fmtPct(level.Pct)),
					quantity: pos.InitialQuantity * level.QtyPct / 100,
				}, true
			}
		}
	}

	// 3. Fixed whole-position TP/SL.
	if cfg.UseFixedTPSL {
		if favorablePct >= cfg.TakeProfitPct {
			return exitDecision{label: fmt.Sprintf("固定止盈(%s%%)", fmtPct(cfg.TakeProfitPct))}, true
		}

		if adversePct >= cfg.StopLossPct {
			return exitDecision{label: fmt.Sprintf("固定止损(-%s%%)", fmtPct(cfg.StopLossPct))}, true
		}
	}

	// 4. Opposing cross from the entry scan, gated by exit toggles.
	if sig, found := scanExitSignal(cfg, last, prev, pos.Direction); found {
		return exitDecision{label: sig.Label, fromCross: true}, true
	}

	return exitDecision{}, false
}

// pctMove is the signed percentage move from a reference price.
func pctMove(from, to float64) float64 {
	if from == 0 {
		return 0
	}

	return (to - from) / from * 100
}

// priceReturned reports whether the close reached the configured band
// around EMA7. A non-negative distance asks for a pullback to that far
// below EMA7; a negative distance asks for an extension above it.
func priceReturned(close, ema7, dist float64) bool {
	threshold := ema7 * (1 - dist/100)
	if dist >= 0 {
		return close <= threshold
	}

	return close >= threshold
}

// pendingInvalidated drops a pending signal once the originating trend
// relationship has reversed.
func pendingInvalidated(pending types.Direction, last types.Candle) bool {
	e7, e25, ok := emaPair(last)
	if !ok {
		return false
	}

	return (pending == types.DirectionLong && e7 < e25) ||
		(pending == types.DirectionShort && e7 > e25)
}

func trendBullish(c types.Candle) bool {
	e7, e25, ok := emaPair(c)
	if !ok || c.EMA99.IsNone() {
		return false
	}

	e99 := c.EMA99.Unwrap()

	return e7 > e25 && e25 > e99
}

func trendBearish(c types.Candle) bool {
	e7, e25, ok := emaPair(c)
	if !ok || c.EMA99.IsNone() {
		return false
	}

	e99 := c.EMA99.Unwrap()

	return e7 < e25 && e25 < e99
}

func stateTag(pos types.PositionState, manualTakeover bool) types.StrategyState {
	switch pos.Direction {
	case types.DirectionLong:
		if manualTakeover {
			return types.StateManualLong
		}

		return types.StateLong
	case types.DirectionShort:
		if manualTakeover {
			return types.StateManualShort
		}

		return types.StateShort
	default:
		if pos.Pending.Direction != types.DirectionFlat {
			return types.StateEntryArmed
		}

		return types.StateIdle
	}
}

func buildPayload(cfg *types.StrategyConfig, action, position string, qty, price float64, label string, now time.Time) types.WebhookPayload {
	return types.WebhookPayload{
		Secret:            cfg.Secret,
		Action:            action,
		Position:          position,
		Symbol:            cfg.Symbol,
		Quantity:          decimal.NewFromFloat(qty).StringFixed(8),
		TradeAmount:       qty * price,
		Leverage:          cfg.Leverage,
		Timestamp:         now.UTC().Format(time.RFC3339),
		Exchange:          exchangeName,
		StrategyName:      cfg.Name,
		TPLevel:           label,
		ExecutionPrice:    price,
		ExecutionQuantity: qty,
	}
}

func resetToFlat(pos types.PositionState) types.PositionState {
	pos.Direction = types.DirectionFlat
	pos.EntryPrice = 0
	pos.InitialQuantity = 0
	pos.RemainingQuantity = 0
	pos.HighestPrice = 0
	pos.LowestPrice = 0
	pos.OpenTime = time.Time{}
	pos.TPLevelsHit = [4]bool{}
	pos.SLLevelsHit = [4]bool{}
	pos.Pending.Direction = types.DirectionFlat
	pos.Pending.Source = ""
	pos.Pending.DetectedAt = time.Time{}
	pos.State = types.StateIdle

	return pos
}

func fmtPct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
