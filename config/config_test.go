package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validBody = `{
  "trading_pairs": ["BTCUSDT"],
  "initial_capital": 10000,
  "rebalance_threshold": 0.25,
  "monitoring_interval": 30,
  "exchange": {"name": "binance", "testnet": true, "paper": true},
  "risk_management": {
    "risk_tolerance": 0.02,
    "max_position_size": 2000,
    "max_drawdown": 0.2,
    "max_open_positions": 5,
    "max_total_exposure": 8000
  },
  "analysis": {"min_confidence": 0.6},
  "data_collection": {"update_interval": 60},
  "execution": {"retry_attempts": 3, "retry_delay": 1}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBody))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.InDelta(t, 5.0/3.0, cfg.RiskManagement.RewardRiskRatio, 1e-9)
	assert.InDelta(t, 0.55, cfg.RiskManagement.BaselineWinRate, 1e-9)
	assert.InDelta(t, 0.95, cfg.RiskManagement.VaRConfidence, 1e-9)
	assert.InDelta(t, 1.2, cfg.Analysis.VolumeThreshold, 1e-9)
	assert.Equal(t, []string{"1m", "5m", "1h"}, cfg.DataCollection.Timeframes)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.InDelta(t, 5.0, cfg.Execution.MonitorInterval, 1e-9)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	_, err := Load(writeConfig(t, "{not json"))
	assert.Error(t, err)
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no pairs", func(c *Config) { c.TradingPairs = nil }},
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }},
		{"bad rebalance threshold", func(c *Config) { c.RebalanceThreshold = 1.5 }},
		{"zero monitoring interval", func(c *Config) { c.MonitoringInterval = 0 }},
		{"zero risk tolerance", func(c *Config) { c.RiskManagement.RiskTolerance = 0 }},
		{"zero max position size", func(c *Config) { c.RiskManagement.MaxPositionSize = 0 }},
		{"drawdown out of range", func(c *Config) { c.RiskManagement.MaxDrawdown = 1 }},
		{"zero max open positions", func(c *Config) { c.RiskManagement.MaxOpenPositions = 0 }},
		{"zero exposure", func(c *Config) { c.RiskManagement.MaxTotalExposure = 0 }},
		{"bad win rate", func(c *Config) { c.RiskManagement.BaselineWinRate = 1.2 }},
		{"bad var confidence", func(c *Config) { c.RiskManagement.VaRConfidence = 1.5 }},
		{"bad confidence", func(c *Config) { c.Analysis.MinConfidence = -0.1 }},
		{"zero update interval", func(c *Config) { c.DataCollection.UpdateInterval = 0 }},
		{"zero retry attempts", func(c *Config) { c.Execution.RetryAttempts = 0 }},
		{"zero retry delay", func(c *Config) { c.Execution.RetryDelay = 0 }},
		{"no exchange name", func(c *Config) { c.Exchange.Name = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validBody))
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateLiveModeNeedsKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBody))
	require.NoError(t, err)

	cfg.Exchange.Paper = false
	cfg.Exchange.APIKey = ""
	cfg.Exchange.SecretKey = ""
	assert.Error(t, cfg.Validate())

	cfg.Exchange.APIKey = "key"
	cfg.Exchange.SecretKey = "secret"
	assert.NoError(t, cfg.Validate())
}
