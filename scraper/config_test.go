package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultScraperConfig_Valid verifies the built-in site passes validation
func TestDefaultScraperConfig_Valid(t *testing.T) {
	cfg := DefaultScraperConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DiscoveryList, cfg.DiscoveryMode)
	assert.Equal(t, "https://www.econostream-media.com/news", cfg.StartURL)
	assert.Equal(t, "Econostream", cfg.ArticleConfig.SiteTag)
}

// TestValidate_Errors verifies misconfigured sites are rejected
func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScraperConfig)
	}{
		{"relative base url", func(c *ScraperConfig) { c.BaseURL = "/news" }},
		{"ftp base url", func(c *ScraperConfig) { c.BaseURL = "ftp://example.com" }},
		{"unknown discovery mode", func(c *ScraperConfig) { c.DiscoveryMode = "direct" }},
		{"list without start url", func(c *ScraperConfig) { c.StartURL = "" }},
		{"list without article selector", func(c *ScraperConfig) { c.ListConfig.ArticleSelector = "" }},
		{"feed without feed url", func(c *ScraperConfig) { c.DiscoveryMode = DiscoveryFeed }},
		{"missing article container", func(c *ScraperConfig) { c.ArticleConfig.ContainerSelector = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultScraperConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestBase verifies the base URL always ends with a slash
func TestBase(t *testing.T) {
	cfg := DefaultScraperConfig()
	assert.Equal(t, "https://www.econostream-media.com/", cfg.Base().String())

	cfg.BaseURL = "https://example.com/site/"
	assert.Equal(t, "https://example.com/site/", cfg.Base().String())
}
