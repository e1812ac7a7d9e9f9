package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse-lab/pulse-trading/internal/logger"
	"github.com/quantpulse-lab/pulse-trading/internal/marketdata"
	"github.com/quantpulse-lab/pulse-trading/internal/persistence"
	"github.com/quantpulse-lab/pulse-trading/internal/stream"
	"github.com/quantpulse-lab/pulse-trading/internal/types"
)

var runnerStart = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

type fakeStream struct{}

func (fakeStream) Stop() {}

type fakeProvider struct {
	mu       sync.Mutex
	history  []types.Candle
	opens    int
	onCandle func(types.Candle)
}

var _ marketdata.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) HistoricalCandles(_ context.Context, _ string, _ types.Interval, start, end optional.Option[int64]) ([]types.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []types.Candle

	for _, c := range p.history {
		ms := c.Time.UnixMilli()
		if start.IsSome() && ms < start.Unwrap() {
			continue
		}

		if end.IsSome() && ms > end.Unwrap() {
			continue
		}

		out = append(out, c)
	}

	return out, nil
}

func (p *fakeProvider) OpenStream(_ string, _ types.Interval, onCandle func(types.Candle), _ func(err error)) (marketdata.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opens++
	p.onCandle = onCandle

	return fakeStream{}, nil
}

func (p *fakeProvider) ValidSymbols(_ context.Context) ([]string, error) {
	return []string{"BTCUSDT", "ETHUSDT"}, nil
}

func (p *fakeProvider) emit(c types.Candle) {
	p.mu.Lock()
	cb := p.onCandle
	p.mu.Unlock()

	cb(c)
}

func (p *fakeProvider) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.opens
}

type fakeSink struct {
	mu   sync.Mutex
	sent []types.WebhookPayload
}

func (s *fakeSink) Send(_ context.Context, _ string, payload types.WebhookPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, payload)

	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sent)
}

func (s *fakeSink) last() types.WebhookPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sent[len(s.sent)-1]
}

type logRecorder struct {
	mu      sync.Mutex
	entries []types.AlertLog
}

func (l *logRecorder) record(entry types.AlertLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
}

func (l *logRecorder) kinds() []types.LogKind {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.LogKind, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Kind
	}

	return out
}

// flatHistory returns n closed one-minute candles with a constant close,
// so both short EMAs settle at exactly that price and nothing crosses.
func flatHistory(symbol string, n int) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		out[i] = types.Candle{
			Symbol:   symbol,
			Time:     runnerStart.Add(time.Duration(i) * time.Minute),
			Open:     100,
			High:     100,
			Low:      100,
			Close:    100,
			Volume:   1,
			IsClosed: true,
		}
	}

	return out
}

// rallyCandle jumps the price so EMA7 overtakes EMA25 on this candle.
func rallyCandle(symbol string, i int) types.Candle {
	return types.Candle{
		Symbol:   symbol,
		Time:     runnerStart.Add(time.Duration(i) * time.Minute),
		Open:     100,
		High:     110,
		Low:      100,
		Close:    110,
		Volume:   1,
		IsClosed: true,
	}
}

// crashCandle drops the price so EMA7 falls back under EMA25.
func crashCandle(symbol string, i int) types.Candle {
	return types.Candle{
		Symbol:   symbol,
		Time:     runnerStart.Add(time.Duration(i) * time.Minute),
		Open:     110,
		High:     110,
		Low:      85,
		Close:    85,
		Volume:   1,
		IsClosed: true,
	}
}

type fixture struct {
	provider *fakeProvider
	sink     *fakeSink
	logs     *logRecorder
	runner   *Runner
}

func newFixture(t *testing.T, cfg types.StrategyConfig, history []types.Candle) *fixture {
	t.Helper()

	provider := &fakeProvider{history: history}

	store, err := persistence.NewFileStore(t.TempDir())
	require.NoError(t, err)

	log, err := logger.NewLogger()
	require.NoError(t, err)

	manager := stream.NewManager(provider, store, log)
	sink := &fakeSink{}
	logs := &logRecorder{}

	r := NewRunner(cfg, manager, sink, log, Callbacks{OnLog: logs.record})
	r.now = func() time.Time { return runnerStart.Add(2 * time.Hour) }

	return &fixture{provider: provider, sink: sink, logs: logs, runner: r}
}

func testConfig() types.StrategyConfig {
	cfg := types.DefaultConfig("s1", "Test Strategy")
	cfg.Active = true
	cfg.TradeAmount = 1100

	return cfg
}

func TestWarmupSuppressesStaleSignal(t *testing.T) {
	history := flatHistory("BTCUSDT", 59)
	history = append(history, rallyCandle("BTCUSDT", 59))

	f := newFixture(t, testConfig(), history)
	require.NoError(t, f.runner.Start(context.Background()))

	// The cross was already in history; warmup adopts the state silently.
	assert.Equal(t, 0, f.sink.count())
	assert.Equal(t, types.DirectionLong, f.runner.Snapshot().Position.Direction)
}

func TestLiveCrossDispatchesOrder(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))

	f.provider.emit(rallyCandle("BTCUSDT", 60))

	require.Eventually(t, func() bool { return f.sink.count() == 1 }, time.Second, 5*time.Millisecond)

	payload := f.sink.last()
	assert.Equal(t, types.ActionBuy, payload.Action)
	assert.Equal(t, types.PayloadPositionLong, payload.Position)
	assert.Equal(t, "EMA7/25金叉", payload.TPLevel)
	assert.Equal(t, 110.0, payload.ExecutionPrice)

	snap := f.runner.Snapshot()
	assert.Equal(t, types.DirectionLong, snap.Position.Direction)
	assert.Equal(t, 110.0, snap.LastPrice)
	assert.Equal(t, 1, snap.Stats.DailyTradeCount)

	require.Eventually(t, func() bool { return len(f.logs.kinds()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, types.LogKindStrategy, f.logs.kinds()[0])
}

func TestReverseDispatchesExitBeforeEntry(t *testing.T) {
	cfg := testConfig()
	cfg.UseReverse = true

	history := flatHistory("BTCUSDT", 59)
	history = append(history, rallyCandle("BTCUSDT", 59))

	f := newFixture(t, cfg, history)
	require.NoError(t, f.runner.Start(context.Background()))
	require.Equal(t, types.DirectionLong, f.runner.Snapshot().Position.Direction)

	f.provider.emit(crashCandle("BTCUSDT", 60))

	require.Eventually(t, func() bool { return f.sink.count() == 2 }, time.Second, 5*time.Millisecond)

	f.sink.mu.Lock()
	exit, entry := f.sink.sent[0], f.sink.sent[1]
	f.sink.mu.Unlock()

	assert.Equal(t, "EMA7/25死叉平多", exit.TPLevel)
	assert.Equal(t, types.PayloadPositionFlat, exit.Position)
	assert.Equal(t, types.ActionSell, exit.Action)

	assert.Equal(t, "[反手] EMA7/25死叉", entry.TPLevel)
	assert.Equal(t, types.PayloadPositionShort, entry.Position)

	assert.Equal(t, types.DirectionShort, f.runner.Snapshot().Position.Direction)
}

func TestCandlesForOtherSymbolIgnored(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))

	before := f.runner.Snapshot().LastPrice

	f.provider.emit(types.Candle{
		Symbol: "ETHUSDT",
		Time:   runnerStart.Add(60 * time.Minute),
		Close:  5000,
	})

	assert.Equal(t, before, f.runner.Snapshot().LastPrice)
}

func TestManualOrderRoundTrip(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))

	require.NoError(t, f.runner.HandleManualOrder(context.Background(), types.DirectionLong))

	require.Equal(t, 1, f.sink.count())
	entry := f.sink.last()
	assert.Equal(t, types.ActionBuy, entry.Action)
	assert.Equal(t, "手动操作", entry.TPLevel)

	snap := f.runner.Snapshot()
	assert.Equal(t, types.DirectionLong, snap.Position.Direction)
	assert.InDelta(t, 11.0, snap.Position.RemainingQuantity, 1e-9)
	assert.Equal(t, 1, snap.Stats.DailyTradeCount)
	assert.True(t, snap.Stats.LastActionCandleTime.Equal(runnerStart.Add(59*time.Minute)))

	require.NoError(t, f.runner.HandleManualOrder(context.Background(), types.DirectionFlat))

	require.Equal(t, 2, f.sink.count())
	exit := f.sink.last()
	assert.Equal(t, types.ActionSell, exit.Action)
	assert.Equal(t, types.PayloadPositionFlat, exit.Position)
	assert.Equal(t, types.DirectionFlat, f.runner.Snapshot().Position.Direction)

	assert.Equal(t, []types.LogKind{types.LogKindManual, types.LogKindManual}, f.logs.kinds())
}

func TestManualOrderWithoutPriceFails(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	err := f.runner.HandleManualOrder(context.Background(), types.DirectionLong)
	require.Error(t, err)
}

func TestManualCloseWithoutPositionFails(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))

	err := f.runner.HandleManualOrder(context.Background(), types.DirectionFlat)
	require.Error(t, err)
}

func TestUpdateConfigRestartsOnSymbolChange(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))
	require.Equal(t, 1, f.provider.openCount())

	next := testConfig()
	next.Symbol = "ETHUSDT"

	require.NoError(t, f.runner.UpdateConfig(context.Background(), next))

	assert.True(t, f.runner.Running())
	assert.Equal(t, 2, f.provider.openCount())
	assert.Equal(t, "ETHUSDT", f.runner.Config().Symbol)
}

func TestUpdateConfigInjectsManualPosition(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))

	next := testConfig()
	next.ManualTakeover = true
	next.TakeoverDirection = types.DirectionLong
	next.TakeoverQuantity = 5
	next.TakeoverEntryPrice = 98

	require.NoError(t, f.runner.UpdateConfig(context.Background(), next))

	require.Equal(t, 1, f.sink.count())
	payload := f.sink.last()
	assert.Equal(t, types.ActionBuy, payload.Action)
	assert.Equal(t, "Manual_Takeover_Init", payload.TPLevel)
	assert.Equal(t, 98.0, payload.ExecutionPrice)

	snap := f.runner.Snapshot()
	assert.Equal(t, types.StateManualLong, snap.Position.State)
	assert.Equal(t, 98.0, snap.Position.EntryPrice)
	assert.Equal(t, 5.0, snap.Position.RemainingQuantity)

	assert.Equal(t, []types.LogKind{types.LogKindManual}, f.logs.kinds())
}

func TestUpdateConfigTakeoverFlatResets(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))

	require.NoError(t, f.runner.HandleManualOrder(context.Background(), types.DirectionLong))
	require.Equal(t, types.DirectionLong, f.runner.Snapshot().Position.Direction)

	next := testConfig()
	next.ManualTakeover = true
	next.TakeoverDirection = types.DirectionFlat

	require.NoError(t, f.runner.UpdateConfig(context.Background(), next))

	snap := f.runner.Snapshot()
	assert.Equal(t, types.DirectionFlat, snap.Position.Direction)
}

func TestUpdateConfigArmsDelayedEntry(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))

	next := testConfig()
	next.UseDelayedEntry = true
	next.DelayedEntryTarget = 3

	require.NoError(t, f.runner.UpdateConfig(context.Background(), next))

	snap := f.runner.Snapshot()
	assert.True(t, snap.Config.DelayedEntryActivation.Equal(runnerStart.Add(59*time.Minute)))
	assert.Equal(t, 0, snap.Position.Pending.Count)
}

func TestActivationTriggersWarmup(t *testing.T) {
	cfg := testConfig()
	cfg.Active = false

	f := newFixture(t, cfg, flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))

	next := testConfig()
	require.NoError(t, f.runner.UpdateConfig(context.Background(), next))

	// First evaluation after activation runs as warmup: the cross mutates
	// state but no order goes out.
	f.provider.emit(rallyCandle("BTCUSDT", 60))

	assert.Equal(t, 0, f.sink.count())
	assert.Equal(t, types.DirectionLong, f.runner.Snapshot().Position.Direction)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))
	require.NoError(t, f.runner.Start(context.Background()))

	f.runner.Stop()
	f.runner.Stop()

	assert.False(t, f.runner.Running())
}

func TestRestoreState(t *testing.T) {
	f := newFixture(t, testConfig(), flatHistory("BTCUSDT", 60))

	pos := types.NewPositionState()
	pos.Direction = types.DirectionShort
	pos.State = types.StateShort
	pos.EntryPrice = 105
	pos.RemainingQuantity = 3

	stats := types.TradeStats{DailyTradeCount: 2, LastTradeDate: "2026-05-01"}

	f.runner.RestoreState(pos, stats)

	snap := f.runner.Snapshot()
	assert.Equal(t, pos, snap.Position)
	assert.Equal(t, stats, snap.Stats)
}
