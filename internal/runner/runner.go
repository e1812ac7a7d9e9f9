// Package runner orchestrates one strategy: it owns the subscription to
// the stream manager, feeds enriched candle windows through the decision
// engine, and dispatches the resulting actions.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantpulse-lab/pulse-trading/internal/indicator"
	"github.com/quantpulse-lab/pulse-trading/internal/logger"
	"github.com/quantpulse-lab/pulse-trading/internal/strategy"
	"github.com/quantpulse-lab/pulse-trading/internal/stream"
	"github.com/quantpulse-lab/pulse-trading/internal/types"
	"github.com/quantpulse-lab/pulse-trading/internal/webhook"
	"github.com/quantpulse-lab/pulse-trading/pkg/errors"
)

const (
	labelManualOrder  = "手动操作"
	labelTakeoverInit = "Manual_Takeover_Init"
)

// Callbacks carry runtime snapshots and alert log entries upward.
type Callbacks struct {
	OnUpdate func(id string, rt types.StrategyRuntime)
	OnLog    func(entry types.AlertLog)
}

// Runner drives one strategy against one stream subscription.
type Runner struct {
	streams *stream.Manager
	sink    webhook.Sink
	logger  *logger.Logger
	cbs     Callbacks
	now     func() time.Time

	mu        sync.Mutex
	cfg       types.StrategyConfig
	pos       types.PositionState
	stats     types.TradeStats
	candles   []types.Candle
	lastPrice float64
	running   bool
	warmup    bool
	// token invalidates callbacks from a superseded subscription.
	token uint64
}

// NewRunner creates a stopped runner with a flat position.
func NewRunner(cfg types.StrategyConfig, streams *stream.Manager, sink webhook.Sink, log *logger.Logger, cbs Callbacks) *Runner {
	return &Runner{
		streams: streams,
		sink:    sink,
		logger:  log,
		cbs:     cbs,
		now:     time.Now,
		cfg:     cfg,
		pos:     types.NewPositionState(),
		stats: types.TradeStats{
			LastTradeDate: time.Now().UTC().Format("2006-01-02"),
		},
	}
}

// Start subscribes the runner to its configured stream. The first
// evaluation after a start runs as warmup: state is adopted but actions
// are discarded, so a stale signal present in history never fires.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()

	if r.running {
		r.mu.Unlock()

		return nil
	}

	r.token++
	token := r.token
	r.running = true
	r.warmup = true
	cfg := r.cfg

	r.mu.Unlock()

	r.logger.Info("starting strategy",
		zap.String("strategy", cfg.Name),
		zap.String("symbol", cfg.Symbol),
		zap.String("interval", string(cfg.Interval)))

	err := r.streams.Subscribe(ctx, cfg.ID, cfg.Market, cfg.Symbol, cfg.Interval, func(candles []types.Candle) {
		r.handleCandles(token, candles)
	})
	if err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()

		return err
	}

	return nil
}

// Stop unsubscribes. Safe to call repeatedly.
func (r *Runner) Stop() {
	r.mu.Lock()

	if !r.running {
		r.mu.Unlock()

		return
	}

	r.running = false
	r.token++
	cfg := r.cfg

	r.mu.Unlock()

	r.logger.Info("stopping strategy", zap.String("strategy", cfg.Name))
	r.streams.Unsubscribe(cfg.ID)
}

// Running reports whether the runner holds a subscription.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.running
}

// UpdateConfig reconciles a config change into its side effects: a
// restart when the stream identity changed, a manual position injection
// when takeover was just enabled, a delayed-entry re-arm when that mode
// was just enabled, and a warmup when the strategy went active.
func (r *Runner) UpdateConfig(ctx context.Context, newCfg types.StrategyConfig) error {
	r.mu.Lock()

	old := r.cfg

	restart := old.Symbol != newCfg.Symbol ||
		old.Interval != newCfg.Interval ||
		old.Market != newCfg.Market

	r.cfg = newCfg

	if !old.UseDelayedEntry && newCfg.UseDelayedEntry {
		r.pos.Pending.Count = 0
		r.pos.Pending.LastCountedAt = time.Time{}

		// Stamp activation to the latest known candle so the current
		// candle's cross still counts.
		if len(r.candles) > 0 {
			r.cfg.DelayedEntryActivation = r.candles[len(r.candles)-1].Time
		}
	}

	var inject *types.WebhookPayload

	if !old.ManualTakeover && newCfg.ManualTakeover {
		inject = r.injectManualPosition()
	}

	if !old.Active && newCfg.Active {
		r.warmup = true
	}

	wasRunning := r.running
	cfg := r.cfg

	r.mu.Unlock()

	if inject != nil {
		r.dispatch(ctx, cfg, *inject, types.LogKindManual)
	}

	if restart && wasRunning {
		r.Stop()

		r.mu.Lock()
		r.candles = nil
		r.lastPrice = 0
		r.mu.Unlock()

		r.emitUpdate()

		return r.Start(ctx)
	}

	r.emitUpdate()

	return nil
}

// injectManualPosition applies the takeover parameters. Caller holds
// r.mu. Returns the takeover-init payload when a position was injected.
func (r *Runner) injectManualPosition() *types.WebhookPayload {
	cfg := r.cfg

	if cfg.TakeoverDirection == types.DirectionFlat {
		r.pos = types.NewPositionState()
		r.logger.Info("manual takeover reset to flat", zap.String("strategy", cfg.Name))

		return nil
	}

	price := cfg.TakeoverEntryPrice
	if price == 0 {
		price = r.lastPrice
	}

	qty := cfg.TakeoverQuantity

	r.pos = types.NewPositionState()
	r.pos.Direction = cfg.TakeoverDirection
	r.pos.EntryPrice = price
	r.pos.InitialQuantity = qty
	r.pos.RemainingQuantity = qty
	r.pos.OpenTime = r.now().UTC()

	if cfg.TakeoverDirection == types.DirectionLong {
		r.pos.State = types.StateManualLong
		r.pos.HighestPrice = price
	} else {
		r.pos.State = types.StateManualShort
		r.pos.LowestPrice = price
	}

	action := types.ActionBuy
	position := types.PayloadPositionLong

	if cfg.TakeoverDirection == types.DirectionShort {
		action = types.ActionSell
		position = types.PayloadPositionShort
	}

	r.logger.Info("manual takeover position injected",
		zap.String("strategy", cfg.Name),
		zap.String("direction", string(cfg.TakeoverDirection)),
		zap.Float64("quantity", qty))

	payload := r.buildPayload(action, position, qty, price, labelTakeoverInit)

	return &payload
}

// HandleManualOrder executes an operator order at the last known price,
// bypassing the engine. The position and stats mutate the same way an
// automatic action would, and the latest candle time is stamped so the
// engine does not fight the order within the same candle.
func (r *Runner) HandleManualOrder(ctx context.Context, direction types.Direction) error {
	r.mu.Lock()

	price := r.lastPrice
	if price == 0 {
		r.mu.Unlock()

		return errors.New(errors.ErrCodeInsufficientData, "no market price received yet")
	}

	var (
		action   string
		position string
		qty      float64
	)

	switch direction {
	case types.DirectionLong, types.DirectionShort:
		qty = r.cfg.TradeAmount / price
		action = types.ActionBuy
		position = types.PayloadPositionLong

		if direction == types.DirectionShort {
			action = types.ActionSell
			position = types.PayloadPositionShort
		}

		r.pos = types.NewPositionState()
		r.pos.Direction = direction
		r.pos.EntryPrice = price
		r.pos.InitialQuantity = qty
		r.pos.RemainingQuantity = qty
		r.pos.OpenTime = r.now().UTC()

		if direction == types.DirectionLong {
			r.pos.State = types.StateLong
			r.pos.HighestPrice = price
		} else {
			r.pos.State = types.StateShort
			r.pos.LowestPrice = price
		}

		r.stats.DailyTradeCount++
	case types.DirectionFlat:
		if r.pos.Direction == types.DirectionFlat {
			r.mu.Unlock()

			return errors.New(errors.ErrCodeInvalidParameter, "no open position to close")
		}

		qty = r.pos.RemainingQuantity
		action = types.ActionSell

		if r.pos.Direction == types.DirectionShort {
			action = types.ActionBuy
		}

		position = types.PayloadPositionFlat
		r.pos = types.NewPositionState()
	default:
		r.mu.Unlock()

		return errors.Newf(errors.ErrCodeInvalidParameter, "invalid manual order direction %q", direction)
	}

	if len(r.candles) > 0 {
		r.stats.LastActionCandleTime = r.candles[len(r.candles)-1].Time
	}

	cfg := r.cfg
	payload := r.buildPayload(action, position, qty, price, labelManualOrder)

	r.mu.Unlock()

	err := r.dispatch(ctx, cfg, payload, types.LogKindManual)

	r.emitUpdate()

	return err
}

// RestoreState adopts a persisted position and stats.
func (r *Runner) RestoreState(pos types.PositionState, stats types.TradeStats) {
	r.mu.Lock()
	r.pos = pos
	r.stats = stats
	name := r.cfg.Name
	r.mu.Unlock()

	r.logger.Info("strategy state restored",
		zap.String("strategy", name),
		zap.String("direction", string(pos.Direction)),
		zap.Int("daily_trades", stats.DailyTradeCount))
}

// Config returns the current configuration.
func (r *Runner) Config() types.StrategyConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cfg
}

// Snapshot returns the externally observable runtime aggregate.
func (r *Runner) Snapshot() types.StrategyRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

func (r *Runner) snapshotLocked() types.StrategyRuntime {
	candles := make([]types.Candle, len(r.candles))
	copy(candles, r.candles)

	return types.StrategyRuntime{
		Config:    r.cfg,
		Candles:   candles,
		Position:  r.pos,
		Stats:     r.stats,
		LastPrice: r.lastPrice,
	}
}

// handleCandles is the per-tick pipeline: guard, enrich, evaluate, adopt
// state, dispatch.
func (r *Runner) handleCandles(token uint64, candles []types.Candle) {
	r.mu.Lock()

	if token != r.token || !r.running || len(candles) == 0 {
		r.mu.Unlock()

		return
	}

	last := candles[len(candles)-1]
	if last.Symbol != "" && last.Symbol != r.cfg.Symbol {
		r.mu.Unlock()

		return
	}

	r.lastPrice = last.Close

	enriched := indicator.Enrich(candles, r.cfg.MACDFast, r.cfg.MACDSlow, r.cfg.MACDSignal)
	r.candles = enriched

	result := strategy.Evaluate(enriched, &r.cfg, r.pos, r.stats, r.now())

	r.pos = result.Position
	r.stats = result.Stats

	actions := result.Actions

	if r.warmup {
		if len(actions) > 0 {
			r.logger.Info("warmup suppressed stale signals",
				zap.String("strategy", r.cfg.Name),
				zap.Int("count", len(actions)))

			actions = nil
		}

		r.warmup = false
	}

	cfg := r.cfg
	rt := r.snapshotLocked()

	r.mu.Unlock()

	// One goroutine dispatches the whole batch so an exit reaches the
	// sink before the reverse entry produced on the same candle.
	if len(actions) > 0 {
		go func() {
			for _, p := range actions {
				_ = r.dispatch(context.Background(), cfg, p, types.LogKindStrategy)
			}
		}()
	}

	if r.cbs.OnUpdate != nil {
		r.cbs.OnUpdate(cfg.ID, rt)
	}
}

// dispatch sends one payload and records an alert log entry. Failures
// are logged and never retried; state was already committed.
func (r *Runner) dispatch(ctx context.Context, cfg types.StrategyConfig, payload types.WebhookPayload, kind types.LogKind) error {
	err := r.sink.Send(ctx, cfg.WebhookURL, payload)

	status := types.LogStatusSent
	if err != nil {
		status = types.LogStatusFailed

		r.logger.Error("webhook delivery failed",
			zap.String("strategy", cfg.Name),
			zap.String("action", payload.Action),
			zap.Error(err))
	}

	if r.cbs.OnLog != nil {
		r.cbs.OnLog(types.AlertLog{
			ID:           uuid.NewString(),
			StrategyID:   cfg.ID,
			StrategyName: cfg.Name,
			Timestamp:    r.now().UTC(),
			Payload:      payload,
			Status:       status,
			Kind:         kind,
		})
	}

	return err
}

func (r *Runner) buildPayload(action, position string, qty, price float64, label string) types.WebhookPayload {
	cfg := r.cfg

	return types.WebhookPayload{
		Secret:            cfg.Secret,
		Action:            action,
		Position:          position,
		Symbol:            cfg.Symbol,
		Quantity:          decimal.NewFromFloat(qty).StringFixed(8),
		TradeAmount:       qty * price,
		Leverage:          cfg.Leverage,
		Timestamp:         r.now().UTC().Format(time.RFC3339),
		Exchange:          "BINANCE",
		StrategyName:      cfg.Name,
		TPLevel:           label,
		ExecutionPrice:    price,
		ExecutionQuantity: qty,
	}
}

func (r *Runner) emitUpdate() {
	if r.cbs.OnUpdate == nil {
		return
	}

	r.mu.Lock()
	id := r.cfg.ID
	rt := r.snapshotLocked()
	r.mu.Unlock()

	r.cbs.OnUpdate(id, rt)
}
