package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse-lab/pulse-trading/internal/logger"
	"github.com/quantpulse-lab/pulse-trading/pkg/errors"
)

func newTestProvider(t *testing.T) *BinanceProvider {
	t.Helper()

	log, err := logger.NewLogger()
	require.NoError(t, err)

	return NewBinanceProvider(log)
}

func TestParseKline(t *testing.T) {
	k := &futures.Kline{
		OpenTime:  1767312000000,
		Open:      "100.5",
		High:      "101.25",
		Low:       "99.75",
		Close:     "100.0",
		Volume:    "12.5",
		CloseTime: 1767312059999,
	}

	candle, err := parseKline("BTCUSDT", k)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", candle.Symbol)
	assert.Equal(t, time.UnixMilli(1767312000000).UTC(), candle.Time)
	assert.Equal(t, 100.5, candle.Open)
	assert.Equal(t, 101.25, candle.High)
	assert.Equal(t, 99.75, candle.Low)
	assert.Equal(t, 100.0, candle.Close)
	assert.Equal(t, 12.5, candle.Volume)
	assert.True(t, candle.IsClosed)
}

func TestParseKlineMalformed(t *testing.T) {
	k := &futures.Kline{
		OpenTime: 1767312000000,
		Open:     "not-a-number",
		High:     "101",
		Low:      "99",
		Close:    "100",
		Volume:   "1",
	}

	_, err := parseKline("BTCUSDT", k)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMarketDataParseFailed))
}

func TestParseWsKline(t *testing.T) {
	event := &futures.WsKlineEvent{
		Symbol: "ETHUSDT",
		Kline: futures.WsKline{
			StartTime: 1767312000000,
			Open:      "2000",
			High:      "2010",
			Low:       "1990",
			Close:     "2005",
			Volume:    "3.5",
			IsFinal:   false,
		},
	}

	candle, err := parseWsKline(event)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", candle.Symbol)
	assert.Equal(t, 2005.0, candle.Close)
	assert.False(t, candle.IsClosed)
}

func TestHistoricalCandlesRejectsDerivedInterval(t *testing.T) {
	p := newTestProvider(t)

	_, err := p.HistoricalCandles(context.Background(), "BTCUSDT", "45m", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInterval))
}
