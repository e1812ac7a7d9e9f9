package marketdata

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/quantpulse-lab/pulse-trading/internal/logger"
	"github.com/quantpulse-lab/pulse-trading/internal/types"
	"github.com/quantpulse-lab/pulse-trading/pkg/errors"
)

const (
	// HistoryPageLimit is the exchange's maximum klines per request. A
	// page shorter than this is the last page of a range.
	HistoryPageLimit = 1500

	fetchRetries    = 3
	fetchRetryDelay = 2 * time.Second
)

// BinanceProvider serves futures market data from Binance.
type BinanceProvider struct {
	client *futures.Client
	logger *logger.Logger
}

var _ Provider = (*BinanceProvider)(nil)

// NewBinanceProvider creates a provider using the public (unauthenticated)
// futures endpoints.
func NewBinanceProvider(log *logger.Logger) *BinanceProvider {
	return &BinanceProvider{
		client: futures.NewClient("", ""),
		logger: log,
	}
}

// HistoricalCandles fetches one page of up to 1500 klines, retrying
// transient failures with a linear backoff before giving up.
func (p *BinanceProvider) HistoricalCandles(ctx context.Context, symbol string, interval types.Interval, start, end optional.Option[int64]) ([]types.Candle, error) {
	if !interval.IsNative() {
		return nil, errors.Newf(errors.ErrCodeInvalidInterval, "interval %s is not served natively", interval)
	}

	svc := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(string(interval)).
		Limit(HistoryPageLimit)
	if start.IsSome() {
		svc = svc.StartTime(start.Unwrap())
	}

	if end.IsSome() {
		svc = svc.EndTime(end.Unwrap())
	}

	var (
		klines []*futures.Kline
		err    error
	)

	for attempt := 1; attempt <= fetchRetries; attempt++ {
		klines, err = svc.Do(ctx)
		if err == nil {
			break
		}

		if attempt == fetchRetries {
			break
		}

		p.logger.Warn("kline fetch failed, retrying",
			zap.String("symbol", symbol),
			zap.String("interval", string(interval)),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * fetchRetryDelay):
		}
	}

	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err,
			"failed to fetch klines for %s %s", symbol, interval)
	}

	candles := make([]types.Candle, 0, len(klines))

	for _, k := range klines {
		candle, parseErr := parseKline(symbol, k)
		if parseErr != nil {
			p.logger.Warn("dropping malformed kline",
				zap.String("symbol", symbol),
				zap.Error(parseErr))

			continue
		}

		candles = append(candles, candle)
	}

	return candles, nil
}

// OpenStream opens a live futures kline websocket for the symbol.
func (p *BinanceProvider) OpenStream(symbol string, interval types.Interval, onCandle func(types.Candle), onClose func(err error)) (Stream, error) {
	stream := &binanceStream{}

	var closeOnce sync.Once

	notifyClose := func(err error) {
		closeOnce.Do(func() {
			if !stream.stopped.Load() {
				onClose(err)
			}
		})
	}

	wsHandler := func(event *futures.WsKlineEvent) {
		candle, err := parseWsKline(event)
		if err != nil {
			p.logger.Warn("dropping malformed kline tick",
				zap.String("symbol", symbol),
				zap.Error(err))

			return
		}

		onCandle(candle)
	}

	errHandler := func(err error) {
		notifyClose(err)
	}

	doneC, stopC, err := futures.WsKlineServe(symbol, string(interval), wsHandler, errHandler)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStreamOpenFailed, err,
			"failed to open kline stream for %s %s", symbol, interval)
	}

	stream.stopC = stopC

	go func() {
		<-doneC
		notifyClose(nil)
	}()

	return stream, nil
}

// ValidSymbols returns every futures symbol currently in TRADING status.
func (p *BinanceProvider) ValidSymbols(ctx context.Context) ([]string, error) {
	info, err := p.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to fetch exchange info", err)
	}

	symbols := make([]string, 0, len(info.Symbols))

	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			symbols = append(symbols, s.Symbol)
		}
	}

	return symbols, nil
}

type binanceStream struct {
	stopC   chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

func (s *binanceStream) Stop() {
	s.stopped.Store(true)
	s.once.Do(func() {
		close(s.stopC)
	})
}

// parseKline converts a historical kline. Historical pages only contain
// elapsed buckets, so the candle is marked closed.
func parseKline(symbol string, k *futures.Kline) (types.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid open price", err)
	}

	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid high price", err)
	}

	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid low price", err)
	}

	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid close price", err)
	}

	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid volume", err)
	}

	return types.Candle{
		Symbol:   symbol,
		Time:     time.UnixMilli(k.OpenTime).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
		IsClosed: true,
	}, nil
}

// parseWsKline converts a live kline event into the in-progress candle
// for its bucket.
func parseWsKline(event *futures.WsKlineEvent) (types.Candle, error) {
	k := event.Kline

	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid open price", err)
	}

	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid high price", err)
	}

	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid low price", err)
	}

	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid close price", err)
	}

	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return types.Candle{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "invalid volume", err)
	}

	return types.Candle{
		Symbol:   event.Symbol,
		Time:     time.UnixMilli(k.StartTime).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
		IsClosed: k.IsFinal,
	}, nil
}
