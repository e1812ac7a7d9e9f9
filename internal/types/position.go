package types

import "time"

// StrategyState is the decision engine's state tag.
type StrategyState string

const (
	StateIdle        StrategyState = "IDLE"
	StateEntryArmed  StrategyState = "ENTRY_ARMED"
	StateLong        StrategyState = "IN_POSITION_LONG"
	StateShort       StrategyState = "IN_POSITION_SHORT"
	StateExitPending StrategyState = "EXIT_PENDING"
	StateManualLong  StrategyState = "MANUAL_TAKEOVER_LONG"
	StateManualShort StrategyState = "MANUAL_TAKEOVER_SHORT"
)

// PendingSignal tracks a detected but not-yet-executed entry. Direction
// and Source hold a signal awaiting price-return confirmation; Count and
// LastCountedAt track delayed-entry confirmations.
type PendingSignal struct {
	Direction     Direction `json:"direction"`
	Source        string    `json:"source"`
	DetectedAt    time.Time `json:"detected_at"`
	Count         int       `json:"count"`
	LastCountedAt time.Time `json:"last_counted_at"`
}

// PositionState is the simulated position and signal bookkeeping for one
// strategy. It is mutated exclusively by the decision engine's transition
// function; everything else only reads, persists, or restores it.
type PositionState struct {
	State             StrategyState `json:"state"`
	Direction         Direction     `json:"direction"`
	EntryPrice        float64       `json:"entry_price"`
	InitialQuantity   float64       `json:"initial_quantity"`
	RemainingQuantity float64       `json:"remaining_quantity"`
	HighestPrice      float64       `json:"highest_price"`
	LowestPrice       float64       `json:"lowest_price"`
	OpenTime          time.Time     `json:"open_time"`
	TPLevelsHit       [4]bool       `json:"tp_levels_hit"`
	SLLevelsHit       [4]bool       `json:"sl_levels_hit"`
	Pending           PendingSignal `json:"pending"`
}

// NewPositionState returns a flat idle position.
func NewPositionState() PositionState {
	return PositionState{
		State:     StateIdle,
		Direction: DirectionFlat,
		Pending:   PendingSignal{Direction: DirectionFlat},
	}
}

// TradeStats tracks the daily trade cap and the same-candle action guard.
type TradeStats struct {
	DailyTradeCount      int       `json:"daily_trade_count"`
	LastTradeDate        string    `json:"last_trade_date"`
	LastActionCandleTime time.Time `json:"last_action_candle_time"`
}

// StrategyRuntime is the externally observable aggregate for one
// strategy, rebuilt and emitted after every update.
type StrategyRuntime struct {
	Config    StrategyConfig `json:"config"`
	Candles   []Candle       `json:"candles"`
	Position  PositionState  `json:"position_state"`
	Stats     TradeStats     `json:"trade_stats"`
	LastPrice float64        `json:"last_price"`
}
