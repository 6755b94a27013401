package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFilePath returns the default config file location,
// ~/.scraperapi/config.yaml.
func ConfigFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".scraperapi", "config.yaml"), nil
}

// Load builds the effective configuration: defaults, then the YAML file,
// then SCRAPERAPI_* environment variables. An empty path means the default
// location, which may be missing; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		defaultPath, err := ConfigFilePath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges the YAML file at path over cfg. Fields absent from the
// file keep their current values.
func (c *Config) loadFile(path string, mustExist bool) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if mustExist {
			return fmt.Errorf("config file not found: %s", path)
		}
		return nil
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// applyEnv applies environment overrides (highest priority). lookup is
// os.Getenv outside tests.
func (c *Config) applyEnv(lookup func(string) string) error {
	if val := lookup("SCRAPERAPI_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := lookup("SCRAPERAPI_ALLOWED_ORIGINS"); val != "" {
		c.Server.AllowedOrigins = splitList(val)
	}
	if val := lookup("SCRAPERAPI_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := lookup("SCRAPERAPI_LOG_ENCODING"); val != "" {
		c.Log.Encoding = val
	}
	if val := lookup("SCRAPERAPI_BASE_URL"); val != "" {
		c.Site.BaseURL = val
	}
	if val := lookup("SCRAPERAPI_START_URL"); val != "" {
		c.Site.StartURL = val
	}
	if val := lookup("SCRAPERAPI_DISCOVERY_MODE"); val != "" {
		c.Site.DiscoveryMode = val
	}
	if val := lookup("SCRAPERAPI_FEED_URL"); val != "" {
		c.Site.FeedURL = val
	}
	if val := lookup("SCRAPERAPI_USER_AGENTS"); val != "" {
		c.Fetch.UserAgents = splitList(val)
	}
	if val := lookup("SCRAPERAPI_HISTORY_DSN"); val != "" {
		c.History.DSN = val
	}

	if val := lookup("SCRAPERAPI_FETCH_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid SCRAPERAPI_FETCH_TIMEOUT: %w", err)
		}
		c.Fetch.Timeout = d
	}
	if val := lookup("SCRAPERAPI_RESPECT_ROBOTS"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid SCRAPERAPI_RESPECT_ROBOTS: %w", err)
		}
		c.Fetch.RespectRobots = b
	}
	if val := lookup("SCRAPERAPI_MAX_PAGES"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SCRAPERAPI_MAX_PAGES: %w", err)
		}
		c.Limits.MaxPages = n
	}

	return nil
}

func splitList(val string) []string {
	var out []string
	for part := range strings.SplitSeq(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
