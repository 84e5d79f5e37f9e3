package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves into an empty directory so no stray .env is picked up.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	chdirTemp(t)

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "Asia/Kolkata", cfg.Schedule.Timezone)
	assert.Equal(t, "09:20", cfg.Schedule.StrategyStart)
	assert.Equal(t, "14:45", cfg.Schedule.NoNewTrades)
	assert.Equal(t, "15:10", cfg.Schedule.ForceClose)
	assert.Equal(t, "15:20", cfg.Schedule.EODReport)
	assert.Equal(t, 500_000.0, cfg.Trading.Capital)
	assert.Equal(t, 2, cfg.Trading.MaxTradesPerDay)
	assert.Equal(t, 3, cfg.Trading.MaxAdjustments)
	assert.InDelta(t, 0.22, cfg.Strategy.CEDeltaTarget, 1e-9)
	assert.InDelta(t, -0.22, cfg.Strategy.PEDeltaTarget, 1e-9)
	assert.Equal(t, "paper_trading.db", cfg.Database.DSN)
	assert.Equal(t, 24, cfg.Fyers.TokenTTLHours)
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	chdirTemp(t)
	dir := t.TempDir()
	yml := `
fyers:
  client_id: "XY12345-100"
trading:
  num_lots: 3
logger:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o600))
	t.Setenv("TRADING_RISK_PCT", "1.5")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "XY12345-100", cfg.Fyers.ClientID)
	assert.Equal(t, 3, cfg.Trading.NumLots)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.InDelta(t, 1.5, cfg.Trading.RiskPct, 1e-9)
	assert.Equal(t, "-100123", cfg.Telegram.ChatID)
}

func TestLoadConfig_InvalidSchedule(t *testing.T) {
	chdirTemp(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("schedule:\n  force_close: \"25:99\"\n"), 0o600))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "force_close")
}

func TestValidateParams(t *testing.T) {
	testCases := []struct {
		name      string
		capital   float64
		risk      float64
		maxTrades int
		lots      int
		wantErr   bool
	}{
		{"Defaults", 500_000, 2.0, 2, 1, false},
		{"Capital too low", 50_000, 2.0, 2, 1, true},
		{"Risk too high", 500_000, 6.0, 2, 1, true},
		{"Too many trades", 500_000, 2.0, 6, 1, true},
		{"Too many lots", 500_000, 2.0, 2, 51, true},
		{"Upper bounds", 10_000_000, 5.0, 5, 50, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateParams(tc.capital, tc.risk, tc.maxTrades, tc.lots)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("09:20")
	require.NoError(t, err)
	assert.Equal(t, 9, h)
	assert.Equal(t, 20, m)

	_, _, err = ParseClock("9.20")
	assert.Error(t, err)
}
