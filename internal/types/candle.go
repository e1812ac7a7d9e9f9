package types

import (
	"fmt"
	"time"

	"github.com/moznion/go-optional"
)

type Market string

const (
	MarketCrypto Market = "CRYPTO"
)

// Candle represents one OHLCV bucket. Time is the bucket start. The
// currently forming candle for a key is replaced in place by successive
// ticks until its bucket elapses; a closed candle is immutable.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	IsClosed bool      `json:"is_closed"`
	// Indicator fields are None until enough preceding candles exist.
	EMA7       optional.Option[float64] `json:"ema7,omitempty"`
	EMA25      optional.Option[float64] `json:"ema25,omitempty"`
	EMA99      optional.Option[float64] `json:"ema99,omitempty"`
	MACDLine   optional.Option[float64] `json:"macd_line,omitempty"`
	MACDSignal optional.Option[float64] `json:"macd_signal,omitempty"`
	MACDHist   optional.Option[float64] `json:"macd_hist,omitempty"`
}

// StreamKey identifies exactly one live upstream connection and one truth
// buffer of base interval candles.
type StreamKey struct {
	Market       Market   `json:"market"`
	Symbol       string   `json:"symbol"`
	BaseInterval Interval `json:"base_interval"`
}

// String renders the key in its canonical form, also used as the
// persistence key for the candle history blob.
func (k StreamKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Market, k.Symbol, k.BaseInterval)
}

// NewStreamKey derives the key serving a target interval by mapping the
// target down to its native base interval.
func NewStreamKey(market Market, symbol string, target Interval) StreamKey {
	return StreamKey{
		Market:       market,
		Symbol:       symbol,
		BaseInterval: target.Base(),
	}
}
