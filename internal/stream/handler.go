package stream

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/quantpulse-lab/pulse-trading/internal/logger"
	"github.com/quantpulse-lab/pulse-trading/internal/marketdata"
	"github.com/quantpulse-lab/pulse-trading/internal/persistence"
	"github.com/quantpulse-lab/pulse-trading/internal/resample"
	"github.com/quantpulse-lab/pulse-trading/internal/types"
)

const (
	// BufferCap bounds the per-key truth buffer, oldest candles evicted.
	BufferCap = 5000

	// DeliveryWindow is how many resampled candles a consumer sees.
	DeliveryWindow = 1000

	persistInterval  = 60 * time.Second
	maxBackfillPages = 5
)

// Callback receives a fresh resampled window after every base tick. The
// slice is the consumer's own copy.
type Callback func(candles []types.Candle)

// handler owns everything for one stream key: the live connection, the
// bounded truth buffer of base candles, the resample cache and the
// consumer groups per target interval. All mutation goes through its
// mutex, so the buffer has a single writer.
type handler struct {
	key      types.StreamKey
	provider marketdata.Provider
	store    persistence.Store
	logger   *logger.Logger

	initOnce sync.Once
	initErr  error

	mu          sync.Mutex
	candles     []types.Candle
	consumers   map[types.Interval]map[string]Callback
	pinned      map[types.Interval]bool
	cache       map[types.Interval][]types.Candle
	stream      marketdata.Stream
	stopped     bool
	teardown    *time.Timer
	lastPersist time.Time
	retry       *backoff.Backoff
}

func newHandler(key types.StreamKey, provider marketdata.Provider, store persistence.Store, log *logger.Logger) *handler {
	return &handler{
		key:       key,
		provider:  provider,
		store:     store,
		logger:    log,
		consumers: make(map[types.Interval]map[string]Callback),
		pinned:    make(map[types.Interval]bool),
		cache:     make(map[types.Interval][]types.Candle),
		retry: &backoff.Backoff{
			Min:    5 * time.Second,
			Max:    30 * time.Second,
			Factor: 1.5,
		},
	}
}

// warmStart fills the buffer before the live stream opens: persisted
// history first, then a gap backfill from the last known candle, or a
// deep paginated backfill when nothing was persisted. Fetch failures are
// logged and swallowed; the buffer self-heals from live ticks.
func (h *handler) warmStart(ctx context.Context) {
	var persisted []types.Candle

	found, err := h.store.Load(h.key.String(), &persisted)
	if err != nil {
		h.logger.Warn("failed to load persisted candles",
			zap.String("key", h.key.String()),
			zap.Error(err))
	}

	h.mu.Lock()
	if found {
		h.candles = persisted
	}
	h.mu.Unlock()

	if len(persisted) > 0 {
		h.backfillGap(ctx, persisted[len(persisted)-1].Time)
	} else {
		h.backfillDeep(ctx)
	}
}

// backfillGap pages forward from just after the newest persisted candle.
func (h *handler) backfillGap(ctx context.Context, last time.Time) {
	start := optional.Some(last.UnixMilli() + 1)

	for page := 0; page < maxBackfillPages; page++ {
		batch, err := h.provider.HistoricalCandles(ctx, h.key.Symbol, h.key.BaseInterval, start, nil)
		if err != nil {
			h.logger.Warn("gap backfill failed",
				zap.String("key", h.key.String()),
				zap.Error(err))

			return
		}

		if len(batch) == 0 {
			return
		}

		h.mu.Lock()
		for _, c := range batch {
			h.applyCandle(c)
		}
		h.mu.Unlock()

		if len(batch) < marketdata.HistoryPageLimit {
			return
		}

		start = optional.Some(batch[len(batch)-1].Time.UnixMilli() + 1)
	}
}

// backfillDeep pages backward from now until the buffer cap or the page
// limit is reached.
func (h *handler) backfillDeep(ctx context.Context) {
	var end optional.Option[int64]

	collected := []types.Candle{}

	for page := 0; page < maxBackfillPages; page++ {
		batch, err := h.provider.HistoricalCandles(ctx, h.key.Symbol, h.key.BaseInterval, nil, end)
		if err != nil {
			h.logger.Warn("deep backfill failed",
				zap.String("key", h.key.String()),
				zap.Error(err))

			break
		}

		if len(batch) == 0 {
			break
		}

		collected = append(batch, collected...)

		if len(batch) < marketdata.HistoryPageLimit || len(collected) >= BufferCap {
			break
		}

		end = optional.Some(batch[0].Time.UnixMilli() - 1)
	}

	if len(collected) > BufferCap {
		collected = collected[len(collected)-BufferCap:]
	}

	h.mu.Lock()
	h.candles = collected
	h.cache = make(map[types.Interval][]types.Candle)
	h.mu.Unlock()
}

// open starts the live stream. Callers hold no lock.
func (h *handler) open() error {
	s, err := h.provider.OpenStream(h.key.Symbol, h.key.BaseInterval, h.onTick, h.onStreamClosed)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.stream = s
	h.mu.Unlock()

	return nil
}

// onTick is the single write path for the truth buffer.
func (h *handler) onTick(c types.Candle) {
	h.mu.Lock()

	if h.stopped {
		h.mu.Unlock()

		return
	}

	h.retry.Reset()
	h.applyCandle(c)

	deliveries := h.buildDeliveries()
	snapshot := h.persistSnapshot()

	h.mu.Unlock()

	for _, d := range deliveries {
		d.cb(d.window)
	}

	if snapshot != nil {
		if err := h.store.Save(h.key.String(), snapshot); err != nil {
			h.logger.Warn("failed to persist candles",
				zap.String("key", h.key.String()),
				zap.Error(err))
		}
	}
}

// applyCandle merges one base candle under h.mu: same bucket replaces,
// newer appends, older is dropped. The resample cache is invalidated.
func (h *handler) applyCandle(c types.Candle) {
	n := len(h.candles)

	switch {
	case n == 0 || h.candles[n-1].Time.Before(c.Time):
		h.candles = append(h.candles, c)
	case h.candles[n-1].Time.Equal(c.Time):
		h.candles[n-1] = c
	default:
		return
	}

	if len(h.candles) > BufferCap {
		h.candles = h.candles[len(h.candles)-BufferCap:]
	}

	h.cache = make(map[types.Interval][]types.Candle)
}

type delivery struct {
	cb     Callback
	window []types.Candle
}

// buildDeliveries resamples once per consumer-bearing or pinned interval
// and fans the trimmed window out as per-consumer copies. Caller holds
// h.mu.
func (h *handler) buildDeliveries() []delivery {
	var out []delivery

	for interval := range h.pinned {
		h.viewFor(interval)
	}

	for interval, group := range h.consumers {
		if len(group) == 0 {
			continue
		}

		view := h.viewFor(interval)
		for _, cb := range group {
			out = append(out, delivery{cb: cb, window: copyWindow(view)})
		}
	}

	return out
}

// viewFor returns the cached resampled series for a target interval,
// computing it once per tick. Caller holds h.mu.
func (h *handler) viewFor(interval types.Interval) []types.Candle {
	if view, ok := h.cache[interval]; ok {
		return view
	}

	view := resample.Resample(h.candles, interval, h.key.BaseInterval)
	h.cache[interval] = view

	return view
}

// persistSnapshot returns a copy of the buffer when the duty cycle is
// due, nil otherwise. Caller holds h.mu.
func (h *handler) persistSnapshot() []types.Candle {
	now := time.Now()
	if now.Sub(h.lastPersist) < persistInterval {
		return nil
	}

	h.lastPersist = now

	return copyAll(h.candles)
}

// onStreamClosed schedules a reconnect with exponential backoff.
// Retries continue until the handler is stopped, so a consumer coming
// back within the teardown grace finds a live stream.
func (h *handler) onStreamClosed(err error) {
	h.mu.Lock()

	if h.stopped {
		h.mu.Unlock()

		return
	}

	delay := h.retry.Duration()
	h.mu.Unlock()

	if err != nil {
		h.logger.Warn("stream closed, reconnecting",
			zap.String("key", h.key.String()),
			zap.Duration("delay", delay),
			zap.Error(err))
	} else {
		h.logger.Info("stream ended, reconnecting",
			zap.String("key", h.key.String()),
			zap.Duration("delay", delay))
	}

	time.AfterFunc(delay, h.reconnect)
}

func (h *handler) reconnect() {
	h.mu.Lock()

	if h.stopped {
		h.mu.Unlock()

		return
	}

	h.mu.Unlock()

	if err := h.open(); err != nil {
		h.logger.Warn("reconnect failed",
			zap.String("key", h.key.String()),
			zap.Error(err))

		h.onStreamClosed(err)
	}
}

// subscribe registers a consumer and returns its initial window.
func (h *handler) subscribe(consumerID string, target types.Interval, cb Callback) []types.Candle {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.teardown != nil {
		h.teardown.Stop()
		h.teardown = nil
	}

	group, ok := h.consumers[target]
	if !ok {
		group = make(map[string]Callback)
		h.consumers[target] = group
	}

	group[consumerID] = cb

	return copyWindow(h.viewFor(target))
}

// unsubscribe removes a consumer from every target group it joined and
// reports whether that left the handler without an audience.
func (h *handler) unsubscribe(consumerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := false

	for target, group := range h.consumers {
		if _, ok := group[consumerID]; !ok {
			continue
		}

		delete(group, consumerID)
		removed = true

		if len(group) == 0 {
			delete(h.consumers, target)
		}
	}

	return removed && !h.hasAudience()
}

// pin keeps a target interval always warm regardless of consumers.
func (h *handler) pin(target types.Interval) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.teardown != nil {
		h.teardown.Stop()
		h.teardown = nil
	}

	h.pinned[target] = true
}

// scheduleTeardown arms the grace timer, replacing any previous one. It
// does nothing when an audience returned in the meantime.
func (h *handler) scheduleTeardown(grace time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || h.hasAudience() {
		return
	}

	if h.teardown != nil {
		h.teardown.Stop()
	}

	h.teardown = time.AfterFunc(grace, fn)
}

// idle reports whether the handler may be reaped.
func (h *handler) idle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return !h.hasAudience()
}

// hasAudience reports whether any consumer group or pin remains. Caller
// holds h.mu.
func (h *handler) hasAudience() bool {
	if len(h.pinned) > 0 {
		return true
	}

	for _, group := range h.consumers {
		if len(group) > 0 {
			return true
		}
	}

	return false
}

// stop closes the stream and persists a final snapshot.
func (h *handler) stop() {
	h.mu.Lock()

	if h.stopped {
		h.mu.Unlock()

		return
	}

	h.stopped = true

	if h.teardown != nil {
		h.teardown.Stop()
		h.teardown = nil
	}

	s := h.stream
	snapshot := copyAll(h.candles)

	h.mu.Unlock()

	if s != nil {
		s.Stop()
	}

	if len(snapshot) > 0 {
		if err := h.store.Save(h.key.String(), snapshot); err != nil {
			h.logger.Warn("failed to persist candles on stop",
				zap.String("key", h.key.String()),
				zap.Error(err))
		}
	}
}

func copyWindow(candles []types.Candle) []types.Candle {
	if len(candles) > DeliveryWindow {
		candles = candles[len(candles)-DeliveryWindow:]
	}

	return copyAll(candles)
}

func copyAll(candles []types.Candle) []types.Candle {
	out := make([]types.Candle, len(candles))
	copy(out, candles)

	return out
}
