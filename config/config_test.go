package config

import (
	"testing"
	"time"

	"github.com/nicodelhay/my-scraper-api/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault verifies the built-in defaults
func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Limits.MaxPages)
	assert.Equal(t, 5.0, cfg.Limits.MaxDelaySec)
	assert.Equal(t, 0.4, cfg.Limits.DefaultDelaySec)
	assert.Equal(t, 10, cfg.Limits.DefaultPageSize)
	assert.Equal(t, 10, cfg.Limits.DefaultFullLimit)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 4, cfg.Fetch.Retry.MaxAttempts)
	assert.Equal(t, scraper.DiscoveryList, cfg.Site.DiscoveryMode)
	assert.False(t, cfg.History.Enabled(), "history should be off by default")
}

// TestValidate_Errors verifies invalid settings are rejected
func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad site", func(c *Config) { c.Site.DiscoveryMode = "crawl" }},
		{"zero timeout", func(c *Config) { c.Fetch.Timeout = 0 }},
		{"zero attempts", func(c *Config) { c.Fetch.Retry.MaxAttempts = 0 }},
		{"zero max pages", func(c *Config) { c.Limits.MaxPages = 0 }},
		{"negative max delay", func(c *Config) { c.Limits.MaxDelaySec = -1 }},
		{"default delay above cap", func(c *Config) { c.Limits.DefaultDelaySec = 6 }},
		{"zero page size", func(c *Config) { c.Limits.DefaultPageSize = 0 }},
		{"negative full limit", func(c *Config) { c.Limits.DefaultFullLimit = -1 }},
		{"unknown log encoding", func(c *Config) { c.Log.Encoding = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestHistoryEnabled verifies history is keyed on the DSN
func TestHistoryEnabled(t *testing.T) {
	assert.False(t, HistoryConfig{}.Enabled())
	assert.True(t, HistoryConfig{DSN: "runs.db"}.Enabled())
}
