package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("s1", "BTC #1")

	assert.Equal(t, "s1", cfg.ID)
	assert.False(t, cfg.Active)
	assert.Equal(t, MarketCrypto, cfg.Market)
	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, Interval1m, cfg.Interval)
	assert.Equal(t, 5, cfg.Leverage)
	assert.Equal(t, 5, cfg.MaxDailyTrades)
	assert.True(t, cfg.TriggerOnClose)

	ema725 := cfg.Combo(ComboEMA7_25)
	assert.True(t, ema725.Enabled)
	assert.True(t, ema725.Long)
	assert.True(t, ema725.ExitShort)
	assert.False(t, cfg.Combo(ComboMACD).Enabled)

	for _, level := range cfg.TPLevels {
		assert.True(t, level.Active)
		assert.Equal(t, 25.0, level.QtyPct)
	}
}

func TestStrategyConfigValidate(t *testing.T) {
	cfg := DefaultConfig("s1", "BTC #1")
	require.NoError(t, cfg.Validate())
}

func TestStrategyConfigValidateRejectsBadInterval(t *testing.T) {
	cfg := DefaultConfig("s1", "BTC #1")
	cfg.Interval = "7m"
	assert.Error(t, cfg.Validate())
}

func TestStrategyConfigValidateRejectsMissingID(t *testing.T) {
	cfg := DefaultConfig("", "BTC #1")
	assert.Error(t, cfg.Validate())
}

func TestComboDefaultsToAllOff(t *testing.T) {
	cfg := DefaultConfig("s1", "BTC #1")
	delete(cfg.Combos, ComboMACD)

	combo := cfg.Combo(ComboMACD)
	assert.False(t, combo.Enabled)
	assert.False(t, combo.Long)
}
