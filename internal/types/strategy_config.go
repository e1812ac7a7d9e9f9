package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/quantpulse-lab/pulse-trading/pkg/errors"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"
)

// ComboKind identifies one indicator combination used for signal
// detection.
type ComboKind string

const (
	ComboEMA7_25   ComboKind = "EMA7_25"
	ComboEMA7_99   ComboKind = "EMA7_99"
	ComboEMA25_99  ComboKind = "EMA25_99"
	ComboEMADouble ComboKind = "EMA_DOUBLE_99"
	ComboMACD      ComboKind = "MACD"
)

// ComboPriority is the fixed scan order for signal detection. The first
// qualifying cross wins.
var ComboPriority = []ComboKind{
	ComboEMA7_25,
	ComboEMA7_99,
	ComboEMA25_99,
	ComboEMADouble,
	ComboMACD,
}

// ComboConfig carries the per-combination entry and exit toggles.
type ComboConfig struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	Long      bool `yaml:"long" json:"long"`
	Short     bool `yaml:"short" json:"short"`
	ExitLong  bool `yaml:"exit_long" json:"exit_long"`
	ExitShort bool `yaml:"exit_short" json:"exit_short"`
}

// Level is one staged take-profit or stop-loss rung. Pct is the price
// distance from entry, QtyPct the share of the initial quantity to close.
type Level struct {
	Pct    float64 `yaml:"pct" json:"pct" validate:"gte=0"`
	QtyPct float64 `yaml:"qty_pct" json:"qty_pct" validate:"gte=0,lte=100"`
	Active bool    `yaml:"active" json:"active"`
}

// DelayedDirection filters which cross directions count toward the
// delayed-entry confirmation target.
type DelayedDirection string

const (
	DelayedLong  DelayedDirection = "LONG"
	DelayedShort DelayedDirection = "SHORT"
	DelayedBoth  DelayedDirection = "BOTH"
)

// StrategyConfig is the user-editable strategy definition.
type StrategyConfig struct {
	ID     string `yaml:"id" json:"id" validate:"required"`
	Name   string `yaml:"name" json:"name" validate:"required"`
	Active bool   `yaml:"is_active" json:"is_active"`

	Market   Market   `yaml:"market" json:"market" validate:"required,oneof=CRYPTO"`
	Symbol   string   `yaml:"symbol" json:"symbol" validate:"required"`
	Interval Interval `yaml:"interval" json:"interval" validate:"required"`

	TradeAmount float64 `yaml:"trade_amount" json:"trade_amount" validate:"gte=0"`
	Leverage    int     `yaml:"leverage" json:"leverage" validate:"gte=1"`

	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`
	Secret     string `yaml:"secret" json:"secret"`

	// TriggerOnClose restricts signal evaluation to closed candles.
	TriggerOnClose bool `yaml:"trigger_on_close" json:"trigger_on_close"`

	ManualTakeover     bool      `yaml:"manual_takeover" json:"manual_takeover"`
	TakeoverDirection  Direction `yaml:"takeover_direction" json:"takeover_direction" validate:"omitempty,oneof=LONG SHORT FLAT"`
	TakeoverQuantity   float64   `yaml:"takeover_quantity" json:"takeover_quantity" validate:"gte=0"`
	TakeoverEntryPrice float64   `yaml:"takeover_entry_price" json:"takeover_entry_price" validate:"gte=0"`

	TrendFilterBlockLong  bool `yaml:"trend_filter_block_long" json:"trend_filter_block_long"`
	TrendFilterBlockShort bool `yaml:"trend_filter_block_short" json:"trend_filter_block_short"`

	// Combos holds the entry/exit toggles per indicator combination,
	// scanned in ComboPriority order.
	Combos map[ComboKind]ComboConfig `yaml:"combos" json:"combos" validate:"required"`

	MACDFast   int `yaml:"macd_fast" json:"macd_fast" validate:"gt=0"`
	MACDSlow   int `yaml:"macd_slow" json:"macd_slow" validate:"gt=0"`
	MACDSignal int `yaml:"macd_signal" json:"macd_signal" validate:"gt=0"`

	// Price-return-to-EMA7 confirmation. A positive distance requires the
	// close to fall that far below EMA7 before a pending signal opens, a
	// negative distance requires it to rise that far above.
	UsePriceReturnEMA7 bool    `yaml:"use_price_return_ema7" json:"use_price_return_ema7"`
	PriceReturnDist    float64 `yaml:"price_return_dist" json:"price_return_dist"`

	UseDelayedEntry        bool             `yaml:"use_delayed_entry" json:"use_delayed_entry"`
	DelayedEntryTarget     int              `yaml:"delayed_entry_target" json:"delayed_entry_target" validate:"gte=0"`
	DelayedEntryDirection  DelayedDirection `yaml:"delayed_entry_direction" json:"delayed_entry_direction" validate:"omitempty,oneof=LONG SHORT BOTH"`
	DelayedEntryActivation time.Time        `yaml:"delayed_entry_activation" json:"delayed_entry_activation"`

	UseTrailingStop bool    `yaml:"use_trailing_stop" json:"use_trailing_stop"`
	TrailActivation float64 `yaml:"trail_activation" json:"trail_activation" validate:"gte=0"`
	TrailDistance   float64 `yaml:"trail_distance" json:"trail_distance" validate:"gte=0"`

	UseFixedTPSL  bool    `yaml:"use_fixed_tpsl" json:"use_fixed_tpsl"`
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct" validate:"gte=0"`
	StopLossPct   float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" validate:"gte=0"`

	UseMultiTPSL bool     `yaml:"use_multi_tpsl" json:"use_multi_tpsl"`
	TPLevels     [4]Level `yaml:"tp_levels" json:"tp_levels" validate:"dive"`
	SLLevels     [4]Level `yaml:"sl_levels" json:"sl_levels" validate:"dive"`

	UseReverse         bool `yaml:"use_reverse" json:"use_reverse"`
	ReverseLongToShort bool `yaml:"reverse_long_to_short" json:"reverse_long_to_short"`
	ReverseShortToLong bool `yaml:"reverse_short_to_long" json:"reverse_short_to_long"`

	MaxDailyTrades int `yaml:"max_daily_trades" json:"max_daily_trades" validate:"gte=0"`
}

// Combo returns the toggle set for a combination, defaulting to all-off
// when the combination is absent from the map.
func (c *StrategyConfig) Combo(kind ComboKind) ComboConfig {
	return c.Combos[kind]
}

// Validate validates the StrategyConfig struct.
func (c *StrategyConfig) Validate() error {
	if _, err := ParseInterval(string(c.Interval)); err != nil {
		return err
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyConfigError, "invalid strategy config", err)
	}

	return nil
}

// DefaultConfig returns a freshly generated inactive BTCUSDT strategy with
// the stock toggle set: EMA7/25 crosses in both directions, five trades a
// day, 25% staged rungs.
func DefaultConfig(id, name string) StrategyConfig {
	return StrategyConfig{
		ID:     id,
		Name:   name,
		Active: false,

		Market:   MarketCrypto,
		Symbol:   "BTCUSDT",
		Interval: Interval1m,

		TradeAmount: 0,
		Leverage:    5,

		TriggerOnClose: true,

		TakeoverDirection: DirectionLong,

		Combos: map[ComboKind]ComboConfig{
			ComboEMA7_25: {
				Enabled:   true,
				Long:      true,
				Short:     true,
				ExitLong:  true,
				ExitShort: true,
			},
			ComboEMA7_99:   {},
			ComboEMA25_99:  {},
			ComboEMADouble: {},
			ComboMACD:      {},
		},

		MACDFast:   50,
		MACDSlow:   150,
		MACDSignal: 9,

		PriceReturnDist: 0.1,

		DelayedEntryDirection: DelayedBoth,

		TrailActivation: 1.0,
		TrailDistance:   0.5,

		TakeProfitPct: 2.0,
		StopLossPct:   1.0,

		TPLevels: [4]Level{
			{Pct: 2.0, QtyPct: 25, Active: true},
			{Pct: 4.0, QtyPct: 25, Active: true},
			{Pct: 6.0, QtyPct: 25, Active: true},
			{Pct: 8.0, QtyPct: 25, Active: true},
		},
		SLLevels: [4]Level{
			{Pct: 1.0, QtyPct: 25, Active: true},
			{Pct: 2.0, QtyPct: 25, Active: true},
			{Pct: 3.0, QtyPct: 25, Active: true},
			{Pct: 4.0, QtyPct: 25, Active: true},
		},

		ReverseLongToShort: true,
		ReverseShortToLong: true,

		MaxDailyTrades: 5,
	}
}
