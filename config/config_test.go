package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrbontha/spherepay/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.MarginRate.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, 3, cfg.SettlementTimes["USD"])
	assert.Equal(t, 2, cfg.SettlementTimes["EUR"])
	assert.True(t, cfg.InitialBalances["USD"].Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, cfg.InitialBalances["JPY"].Equal(decimal.NewFromInt(109_890_110)))
	assert.Equal(t, 60*time.Second, cfg.RebalanceInterval)
	assert.Equal(t, time.Hour, cfg.MetricsWindow)

	assert.Equal(t, domain.Currencies{"AUD", "EUR", "GBP", "JPY", "USD"}, cfg.Currencies())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRANSACTION_MARGIN_RATE", "0.0025")
	t.Setenv("SETTLEMENT_TIMES", "USD=1,EUR=0")
	t.Setenv("INITIAL_BALANCES", "USD=5000,EUR=4000")
	t.Setenv("REBALANCE_INTERVAL_SECONDS", "5")
	t.Setenv("METRICS_WINDOW_HOURS", "24")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.MarginRate.Equal(decimal.RequireFromString("0.0025")))
	assert.Equal(t, map[string]int{"USD": 1, "EUR": 0}, cfg.SettlementTimes)
	assert.Equal(t, domain.Currencies{"EUR", "USD"}, cfg.Currencies())
	assert.Equal(t, 5*time.Second, cfg.RebalanceInterval)
	assert.Equal(t, 24*time.Hour, cfg.MetricsWindow)
}

func TestLoadMalformedMaps(t *testing.T) {
	t.Setenv("SETTLEMENT_TIMES", "USD:3")
	_, err := Load()
	assert.Error(t, err)
}

func TestSettlementDelay(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// USD=3 + EUR=2
	assert.Equal(t, 5*time.Second, cfg.SettlementDelay("USD", "EUR"))
	// Unknown currencies contribute zero delay
	assert.Equal(t, 3*time.Second, cfg.SettlementDelay("USD", "XXX"))
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }},
		{"no currencies", func(c *Config) { c.InitialBalances = nil }},
		{"negative seed balance", func(c *Config) {
			c.InitialBalances = map[string]decimal.Decimal{"USD": decimal.NewFromInt(-1)}
		}},
		{"bad currency code", func(c *Config) {
			c.InitialBalances = map[string]decimal.Decimal{"DOLLARS": decimal.NewFromInt(1)}
		}},
		{"negative settlement time", func(c *Config) { c.SettlementTimes = map[string]int{"USD": -1} }},
		{"margin rate at one", func(c *Config) { c.MarginRate = decimal.NewFromInt(1) }},
		{"negative margin rate", func(c *Config) { c.MarginRate = decimal.RequireFromString("-0.1") }},
		{"inverted utilization bands", func(c *Config) {
			c.HighUtilization = decimal.RequireFromString("0.2")
		}},
		{"zero interval", func(c *Config) { c.RebalanceInterval = 0 }},
		{"zero metrics window", func(c *Config) { c.MetricsWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
