package types

import "time"

const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

const (
	PayloadPositionLong    = "long"
	PayloadPositionShort   = "short"
	PayloadPositionFlat    = "flat"
	PayloadPositionPartial = "partial"
)

// WebhookPayload is an outbound order record. Write-once: emitted, never
// mutated. Field names follow the downstream executor's wire format.
type WebhookPayload struct {
	Secret            string  `json:"secret,omitempty"`
	Action            string  `json:"action"`
	Position          string  `json:"position"`
	Symbol            string  `json:"symbol"`
	Quantity          string  `json:"quantity"`
	TradeAmount       float64 `json:"trade_amount"`
	Leverage          int     `json:"leverage"`
	Timestamp         string  `json:"timestamp"`
	Exchange          string  `json:"tv_exchange"`
	StrategyName      string  `json:"strategy_name"`
	TPLevel           string  `json:"tp_level"`
	ExecutionPrice    float64 `json:"execution_price"`
	ExecutionQuantity float64 `json:"execution_quantity"`
}

type LogKind string

const (
	LogKindStrategy LogKind = "STRATEGY"
	LogKindManual   LogKind = "MANUAL"
)

const (
	LogStatusSent   = "sent"
	LogStatusFailed = "failed"
)

// AlertLog is one entry of the dispatch history kept by the registry.
type AlertLog struct {
	ID           string         `json:"id"`
	StrategyID   string         `json:"strategy_id"`
	StrategyName string         `json:"strategy_name"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      WebhookPayload `json:"payload"`
	Status       string         `json:"status"`
	Kind         LogKind        `json:"kind"`
}
