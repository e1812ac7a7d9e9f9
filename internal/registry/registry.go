// Package registry is the control plane boundary: it owns the runner
// set, the alert log ring, and the persisted snapshot of both.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantpulse-lab/pulse-trading/internal/logger"
	"github.com/quantpulse-lab/pulse-trading/internal/marketdata"
	"github.com/quantpulse-lab/pulse-trading/internal/persistence"
	"github.com/quantpulse-lab/pulse-trading/internal/runner"
	"github.com/quantpulse-lab/pulse-trading/internal/stream"
	"github.com/quantpulse-lab/pulse-trading/internal/types"
	"github.com/quantpulse-lab/pulse-trading/internal/webhook"
	"github.com/quantpulse-lab/pulse-trading/pkg/errors"
)

const (
	logRingCap   = 500
	persistEvery = 60 * time.Second
)

// Callbacks broadcast registry events to the outer surface (socket
// layer, CLI, tests). Both are optional.
type Callbacks struct {
	OnUpdate func(id string, rt types.StrategyRuntime)
	OnLog    func(entry types.AlertLog)
}

// storedStrategy is one persisted snapshot entry. The config is kept as
// raw JSON so restoring overlays it onto current defaults, which fills
// fields added since the snapshot was written.
type storedStrategy struct {
	Config   json.RawMessage     `json:"config"`
	Position types.PositionState `json:"position_state"`
	Stats    types.TradeStats    `json:"trade_stats"`
}

// Registry owns every strategy runner.
type Registry struct {
	streams  *stream.Manager
	sink     webhook.Sink
	store    persistence.Store
	provider marketdata.Provider
	logger   *logger.Logger
	cbs      Callbacks

	mu           sync.Mutex
	runners      map[string]*runner.Runner
	order        []string
	logs         []types.AlertLog
	validSymbols []string

	done   chan struct{}
	closed sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry(streams *stream.Manager, sink webhook.Sink, store persistence.Store, provider marketdata.Provider, log *logger.Logger, cbs Callbacks) *Registry {
	return &Registry{
		streams:  streams,
		sink:     sink,
		store:    store,
		provider: provider,
		logger:   log,
		cbs:      cbs,
		runners:  make(map[string]*runner.Runner),
		done:     make(chan struct{}),
	}
}

// Start restores persisted state, pre-warms the preload symbols, starts
// every restored runner and launches the periodic snapshot saver. When
// nothing was persisted, a single default strategy is created.
func (r *Registry) Start(ctx context.Context, preloadSymbols []string) error {
	symbols, err := r.provider.ValidSymbols(ctx)
	if err != nil {
		r.logger.Warn("failed to fetch valid symbols", zap.Error(err))
	} else {
		r.logger.Info("valid symbols loaded", zap.Int("count", len(symbols)))
	}

	r.mu.Lock()
	r.validSymbols = symbols
	r.mu.Unlock()

	for _, symbol := range preloadSymbols {
		if err := r.streams.EnsureActive(ctx, types.MarketCrypto, symbol); err != nil {
			r.logger.Warn("pre-warm failed",
				zap.String("symbol", symbol),
				zap.Error(err))
		}
	}

	r.restoreLogs()

	restored := r.restoreStrategies()
	if restored == 0 {
		id, addErr := r.AddStrategy(ctx)
		if addErr != nil {
			return addErr
		}

		r.logger.Info("created default strategy", zap.String("id", id))
	}

	r.mu.Lock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.StartStrategy(ctx, id); err != nil {
			r.logger.Error("failed to start strategy",
				zap.String("id", id),
				zap.Error(err))
		}
	}

	go r.persistLoop()

	return nil
}

// Close stops the saver and every runner, then writes a final snapshot.
func (r *Registry) Close() {
	r.closed.Do(func() { close(r.done) })

	r.mu.Lock()
	runners := make([]*runner.Runner, 0, len(r.runners))
	for _, rn := range r.runners {
		runners = append(runners, rn)
	}
	r.mu.Unlock()

	for _, rn := range runners {
		rn.Stop()
	}

	r.persistAll()
}

// AddStrategy creates and starts a new strategy from defaults.
func (r *Registry) AddStrategy(ctx context.Context) (string, error) {
	id := uuid.NewString()

	r.mu.Lock()
	name := fmt.Sprintf("策略 #%d", len(r.runners)+1)
	cfg := types.DefaultConfig(id, name)

	rn := r.newRunner(cfg)
	r.runners[id] = rn
	r.order = append(r.order, id)
	r.mu.Unlock()

	if err := rn.Start(ctx); err != nil {
		return id, err
	}

	r.persistAll()

	return id, nil
}

// RemoveStrategy stops and deletes a strategy.
func (r *Registry) RemoveStrategy(id string) error {
	r.mu.Lock()
	rn, ok := r.runners[id]

	if ok {
		delete(r.runners, id)

		for i, other := range r.order {
			if other == id {
				r.order = append(r.order[:i], r.order[i+1:]...)

				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %s not found", id)
	}

	rn.Stop()
	r.persistAll()

	return nil
}

// StartStrategy starts a runner's subscription.
func (r *Registry) StartStrategy(ctx context.Context, id string) error {
	rn, err := r.get(id)
	if err != nil {
		return err
	}

	return rn.Start(ctx)
}

// StopStrategy stops a runner's subscription.
func (r *Registry) StopStrategy(id string) error {
	rn, err := r.get(id)
	if err != nil {
		return err
	}

	rn.Stop()

	return nil
}

// UpdateConfig reconciles a config change into a runner.
func (r *Registry) UpdateConfig(ctx context.Context, id string, cfg types.StrategyConfig) error {
	rn, err := r.get(id)
	if err != nil {
		return err
	}

	cfg.ID = id

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := rn.UpdateConfig(ctx, cfg); err != nil {
		return err
	}

	r.persistAll()

	return nil
}

// ManualOrder executes an operator order against a strategy.
func (r *Registry) ManualOrder(ctx context.Context, id string, direction types.Direction) error {
	rn, err := r.get(id)
	if err != nil {
		return err
	}

	if err := rn.HandleManualOrder(ctx, direction); err != nil {
		return err
	}

	r.persistAll()

	return nil
}

// GetSnapshot returns one strategy's runtime aggregate.
func (r *Registry) GetSnapshot(id string) (types.StrategyRuntime, error) {
	rn, err := r.get(id)
	if err != nil {
		return types.StrategyRuntime{}, err
	}

	return rn.Snapshot(), nil
}

// Runtimes returns every runtime in creation order.
func (r *Registry) Runtimes() []types.StrategyRuntime {
	r.mu.Lock()
	runners := make([]*runner.Runner, 0, len(r.order))

	for _, id := range r.order {
		if rn, ok := r.runners[id]; ok {
			runners = append(runners, rn)
		}
	}
	r.mu.Unlock()

	out := make([]types.StrategyRuntime, len(runners))
	for i, rn := range runners {
		out[i] = rn.Snapshot()
	}

	return out
}

// Logs returns the alert ring, newest first.
func (r *Registry) Logs() []types.AlertLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.AlertLog, len(r.logs))
	copy(out, r.logs)

	return out
}

// ValidSymbols returns the tradable symbol list fetched at startup.
func (r *Registry) ValidSymbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.validSymbols))
	copy(out, r.validSymbols)

	return out
}

func (r *Registry) get(id string) (*runner.Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.runners[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %s not found", id)
	}

	return rn, nil
}

func (r *Registry) newRunner(cfg types.StrategyConfig) *runner.Runner {
	return runner.NewRunner(cfg, r.streams, r.sink, r.logger, runner.Callbacks{
		OnUpdate: r.handleUpdate,
		OnLog:    r.handleLog,
	})
}

func (r *Registry) handleUpdate(id string, rt types.StrategyRuntime) {
	if r.cbs.OnUpdate != nil {
		r.cbs.OnUpdate(id, rt)
	}
}

// handleLog prepends to the ring and persists it.
func (r *Registry) handleLog(entry types.AlertLog) {
	r.mu.Lock()
	r.logs = append([]types.AlertLog{entry}, r.logs...)

	if len(r.logs) > logRingCap {
		r.logs = r.logs[:logRingCap]
	}

	snapshot := make([]types.AlertLog, len(r.logs))
	copy(snapshot, r.logs)
	r.mu.Unlock()

	if r.cbs.OnLog != nil {
		r.cbs.OnLog(entry)
	}

	if err := r.store.Save(persistence.KeyLogs, snapshot); err != nil {
		r.logger.Warn("failed to persist logs", zap.Error(err))
	}
}

// restoreStrategies rebuilds runners from the persisted snapshot set.
// Each stored config is overlaid onto fresh defaults so strategies saved
// by older builds pick up new fields.
func (r *Registry) restoreStrategies() int {
	var stored []storedStrategy

	found, err := r.store.Load(persistence.KeyStrategies, &stored)
	if err != nil {
		r.logger.Warn("failed to load persisted strategies", zap.Error(err))

		return 0
	}

	if !found {
		return 0
	}

	restored := 0

	for _, s := range stored {
		cfg := types.DefaultConfig("", "")
		if err := json.Unmarshal(s.Config, &cfg); err != nil {
			r.logger.Warn("skipping unreadable strategy snapshot", zap.Error(err))

			continue
		}

		if cfg.ID == "" {
			r.logger.Warn("skipping strategy snapshot without id")

			continue
		}

		cfg.Market = types.MarketCrypto

		r.mu.Lock()
		rn := r.newRunner(cfg)
		r.runners[cfg.ID] = rn
		r.order = append(r.order, cfg.ID)
		r.mu.Unlock()

		rn.RestoreState(s.Position, s.Stats)
		restored++
	}

	r.logger.Info("strategies restored", zap.Int("count", restored))

	return restored
}

func (r *Registry) restoreLogs() {
	var saved []types.AlertLog

	found, err := r.store.Load(persistence.KeyLogs, &saved)
	if err != nil {
		r.logger.Warn("failed to load persisted logs", zap.Error(err))

		return
	}

	if !found {
		return
	}

	if len(saved) > logRingCap {
		saved = saved[:logRingCap]
	}

	r.mu.Lock()
	r.logs = saved
	r.mu.Unlock()
}

// persistAll writes the strategy snapshot set and the log ring.
func (r *Registry) persistAll() {
	r.mu.Lock()

	stored := make([]storedStrategy, 0, len(r.order))

	for _, id := range r.order {
		rn, ok := r.runners[id]
		if !ok {
			continue
		}

		snap := rn.Snapshot()

		raw, err := json.Marshal(snap.Config)
		if err != nil {
			r.logger.Warn("failed to encode strategy config",
				zap.String("id", id),
				zap.Error(err))

			continue
		}

		stored = append(stored, storedStrategy{
			Config:   raw,
			Position: snap.Position,
			Stats:    snap.Stats,
		})
	}

	logs := make([]types.AlertLog, len(r.logs))
	copy(logs, r.logs)

	r.mu.Unlock()

	if err := r.store.Save(persistence.KeyStrategies, stored); err != nil {
		r.logger.Warn("failed to persist strategies", zap.Error(err))
	}

	if err := r.store.Save(persistence.KeyLogs, logs); err != nil {
		r.logger.Warn("failed to persist logs", zap.Error(err))
	}
}

func (r *Registry) persistLoop() {
	ticker := time.NewTicker(persistEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.persistAll()
		}
	}
}
