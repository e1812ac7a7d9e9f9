// Package stream multiplexes live market data: one upstream connection
// per (market, symbol, base interval) key, shared by every consumer that
// wants any resampled view of that key.
package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantpulse-lab/pulse-trading/internal/logger"
	"github.com/quantpulse-lab/pulse-trading/internal/marketdata"
	"github.com/quantpulse-lab/pulse-trading/internal/persistence"
	"github.com/quantpulse-lab/pulse-trading/internal/types"
)

const teardownGrace = 60 * time.Second

// Manager owns the handler per stream key. It is constructed once and
// handed to every orchestrator; its mutex guards only handler
// get-or-create and removal.
type Manager struct {
	provider marketdata.Provider
	store    persistence.Store
	logger   *logger.Logger

	mu       sync.Mutex
	handlers map[types.StreamKey]*handler
	grace    time.Duration
}

// NewManager creates an empty manager.
func NewManager(provider marketdata.Provider, store persistence.Store, log *logger.Logger) *Manager {
	return &Manager{
		provider: provider,
		store:    store,
		logger:   log,
		handlers: make(map[types.StreamKey]*handler),
		grace:    teardownGrace,
	}
}

// Subscribe attaches a consumer to the resampled view of a target
// interval, creating and warm-starting the underlying base stream when
// the consumer is the first for its key. The current window is delivered
// immediately.
func (m *Manager) Subscribe(ctx context.Context, consumerID string, market types.Market, symbol string, target types.Interval, cb Callback) error {
	key := types.NewStreamKey(market, symbol, target)

	h, err := m.acquire(ctx, key)
	if err != nil {
		return err
	}

	initial := h.subscribe(consumerID, target, cb)

	m.logger.Info("consumer subscribed",
		zap.String("consumer", consumerID),
		zap.String("key", key.String()),
		zap.String("interval", string(target)))

	cb(initial)

	return nil
}

// Unsubscribe detaches a consumer from every target group it joined,
// across all keys. A key whose last consumer leaves arms a delayed
// teardown so short-lived churn does not cycle the upstream connection.
func (m *Manager) Unsubscribe(consumerID string) {
	m.mu.Lock()
	handlers := make(map[types.StreamKey]*handler, len(m.handlers))

	for key, h := range m.handlers {
		handlers[key] = h
	}
	m.mu.Unlock()

	for key, h := range handlers {
		if h.unsubscribe(consumerID) {
			h.scheduleTeardown(m.grace, func() { m.reap(key) })
		}
	}

	m.logger.Info("consumer unsubscribed", zap.String("consumer", consumerID))
}

// EnsureActive pins every supported target interval for a symbol so its
// handlers stay warm with no consumers attached.
func (m *Manager) EnsureActive(ctx context.Context, market types.Market, symbol string) error {
	for _, target := range types.SupportedIntervals() {
		key := types.NewStreamKey(market, symbol, target)

		h, err := m.acquire(ctx, key)
		if err != nil {
			return err
		}

		h.pin(target)
	}

	return nil
}

// Close stops every handler and persists final snapshots.
func (m *Manager) Close() {
	m.mu.Lock()
	handlers := make([]*handler, 0, len(m.handlers))

	for key, h := range m.handlers {
		handlers = append(handlers, h)
		delete(m.handlers, key)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h.stop()
	}
}

// acquire returns the handler for key, creating, warm-starting and
// connecting it on first use.
func (m *Manager) acquire(ctx context.Context, key types.StreamKey) (*handler, error) {
	m.mu.Lock()
	h, ok := m.handlers[key]

	if !ok {
		h = newHandler(key, m.provider, m.store, m.logger)
		m.handlers[key] = h
	}
	m.mu.Unlock()

	h.initOnce.Do(func() {
		h.warmStart(ctx)
		h.initErr = h.open()

		if h.initErr == nil {
			m.logger.Info("stream opened", zap.String("key", key.String()))
		}
	})

	if h.initErr != nil {
		m.mu.Lock()
		if m.handlers[key] == h {
			delete(m.handlers, key)
		}
		m.mu.Unlock()

		return nil, h.initErr
	}

	return h, nil
}

// reap removes a handler whose grace period expired with no audience.
func (m *Manager) reap(key types.StreamKey) {
	m.mu.Lock()
	h, ok := m.handlers[key]

	if !ok {
		m.mu.Unlock()

		return
	}

	if !h.idle() {
		m.mu.Unlock()

		return
	}

	delete(m.handlers, key)
	m.mu.Unlock()

	h.stop()

	m.logger.Info("stream torn down", zap.String("key", key.String()))
}
