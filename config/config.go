// Package config holds the process-wide settings of the scraper service:
// the site being crawled, fetch behaviour, request limits, and the ambient
// server, logging and history settings. A Config is built once at startup
// and never mutated afterwards.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/nicodelhay/my-scraper-api/fetch"
	"github.com/nicodelhay/my-scraper-api/scraper"
)

// Config is the complete service configuration.
type Config struct {
	Site    scraper.ScraperConfig `yaml:"site"`
	Fetch   fetch.Config          `yaml:"fetch"`
	Limits  Limits                `yaml:"limits"`
	Server  ServerConfig          `yaml:"server"`
	Log     LogConfig             `yaml:"log"`
	History HistoryConfig         `yaml:"history"`
}

// Limits bounds what a single crawl request may ask for.
type Limits struct {
	MaxPages         int     `yaml:"max_pages"`          // cap on max_pages
	MaxDelaySec      float64 `yaml:"max_delay_sec"`      // cap on delay_sec
	DefaultDelaySec  float64 `yaml:"default_delay_sec"`  // delay_sec when omitted
	DefaultPageSize  int     `yaml:"default_page_size"`  // page_size when only page is given
	DefaultFullLimit int     `yaml:"default_full_limit"` // limit for full crawls without a window
}

// ServerConfig configures the HTTP serving layer.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxTimeout     time.Duration `yaml:"max_timeout"` // ceiling on the per-request deadline
}

// LogConfig selects the log level and encoding ("json" or "console").
type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// HistoryConfig enables the crawl run history when DSN is set.
type HistoryConfig struct {
	DSN  string `yaml:"dsn"`
	Keep int    `yaml:"keep"` // runs retained; older runs are pruned
}

// Enabled reports whether run history should be recorded.
func (h HistoryConfig) Enabled() bool {
	return h.DSN != ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Site:  scraper.DefaultScraperConfig(),
		Fetch: fetch.DefaultConfig(),
		Limits: Limits{
			MaxPages:         50,
			MaxDelaySec:      5.0,
			DefaultDelaySec:  0.4,
			DefaultPageSize:  10,
			DefaultFullLimit: 10,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			MaxTimeout:     10 * time.Minute,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		History: HistoryConfig{
			Keep: 500,
		},
	}
}

// Validate checks the configuration for values no crawl could work with.
func (c *Config) Validate() error {
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("invalid site config: %w", err)
	}

	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if c.Fetch.Retry.MaxAttempts < 1 {
		return errors.New("fetch.retry.max_attempts must be at least 1")
	}

	if c.Limits.MaxPages < 1 {
		return errors.New("limits.max_pages must be at least 1")
	}
	if c.Limits.MaxDelaySec < 0 {
		return errors.New("limits.max_delay_sec must not be negative")
	}
	if c.Limits.DefaultDelaySec < 0 || c.Limits.DefaultDelaySec > c.Limits.MaxDelaySec {
		return fmt.Errorf("limits.default_delay_sec must be between 0 and %.1f", c.Limits.MaxDelaySec)
	}
	if c.Limits.DefaultPageSize < 1 {
		return errors.New("limits.default_page_size must be at least 1")
	}
	if c.Limits.DefaultFullLimit < 0 {
		return errors.New("limits.default_full_limit must not be negative")
	}

	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding must be json or console, got %q", c.Log.Encoding)
	}

	return nil
}
