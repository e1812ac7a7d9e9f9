// Package marketdata defines the upstream market data boundary: paginated
// historical candle fetches and a live kline stream per symbol/interval.
package marketdata

import (
	"context"

	"github.com/moznion/go-optional"

	"github.com/quantpulse-lab/pulse-trading/internal/types"
)

// Stream is one open live connection. Stop closes it and suppresses any
// further callbacks.
type Stream interface {
	Stop()
}

// Provider is the upstream market data collaborator.
type Provider interface {
	// HistoricalCandles fetches one page of historical candles for a
	// native interval. Start and end are epoch milliseconds; either may
	// be omitted.
	HistoricalCandles(ctx context.Context, symbol string, interval types.Interval, start, end optional.Option[int64]) ([]types.Candle, error)

	// OpenStream opens a live kline stream. onCandle receives every
	// parsed update for the in-progress bucket; onClose fires once when
	// the connection dies for any reason other than Stop.
	OpenStream(symbol string, interval types.Interval, onCandle func(types.Candle), onClose func(err error)) (Stream, error)

	// ValidSymbols returns the symbols currently tradable upstream.
	ValidSymbols(ctx context.Context) ([]string, error)
}
