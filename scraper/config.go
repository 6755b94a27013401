// Package scraper holds the selector-driven description of the news site
// being crawled: where listing pages start, how to find article links and
// the next page, and how to pull fields out of an article page.
package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Discovery modes.
const (
	DiscoveryList = "list" // paginate HTML listing pages
	DiscoveryFeed = "feed" // read article links from an RSS/Atom feed
)

// DefaultBaseURL is the site crawled when nothing else is configured.
const DefaultBaseURL = "https://www.econostream-media.com"

// ScraperConfig defines how to discover and extract articles from one
// website.
type ScraperConfig struct {
	BaseURL       string        `yaml:"base_url" json:"base_url"`
	StartURL      string        `yaml:"start_url" json:"start_url"`
	DiscoveryMode string        `yaml:"discovery_mode" json:"discovery_mode"` // "list" or "feed"
	FeedURL       string        `yaml:"feed_url,omitempty" json:"feed_url,omitempty"`
	ListConfig    ListConfig    `yaml:"list" json:"list_config"`
	ArticleConfig ArticleConfig `yaml:"article" json:"article_config"`
}

// ListConfig defines how to discover articles from listing pages. Used when
// DiscoveryMode is "list".
type ListConfig struct {
	ContainerSelector  string `yaml:"container_selector" json:"container_selector"`
	ArticleSelector    string `yaml:"article_selector" json:"article_selector"`
	PaginationSelector string `yaml:"pagination_selector" json:"pagination_selector"`
	NextText           string `yaml:"next_text" json:"next_text"`
	NextHrefContains   string `yaml:"next_href_contains" json:"next_href_contains"`
	LinkPrefix         string `yaml:"link_prefix" json:"link_prefix"` // path prefix of article URLs
	LinkSuffix         string `yaml:"link_suffix" json:"link_suffix"`
}

// ArticleConfig defines how to extract fields from individual article pages.
type ArticleConfig struct {
	ContainerSelector string   `yaml:"container_selector" json:"container_selector"`
	TitleSelector     string   `yaml:"title_selector" json:"title_selector"`
	DateSelector      string   `yaml:"date_selector" json:"date_selector"`
	BodySelectors     []string `yaml:"body_selectors" json:"body_selectors"` // first that yields paragraphs wins
	ImageSelector     string   `yaml:"image_selector" json:"image_selector"`
	CaptionSelector   string   `yaml:"caption_selector" json:"caption_selector"`
	SiteTag           string   `yaml:"site_tag" json:"site_tag"` // agency tag in "CITY (Tag) –" bylines
	MinLedeLength     int      `yaml:"min_lede_length" json:"min_lede_length"`
}

// DefaultScraperConfig returns the configuration for the default news site.
func DefaultScraperConfig() ScraperConfig {
	return ScraperConfig{
		BaseURL:       DefaultBaseURL,
		StartURL:      DefaultBaseURL + "/news",
		DiscoveryMode: DiscoveryList,
		ListConfig:    DefaultListConfig(),
		ArticleConfig: DefaultArticleConfig(),
	}
}

// DefaultListConfig returns the listing selectors of the default site.
func DefaultListConfig() ListConfig {
	return ListConfig{
		ContainerSelector:  ".site-list",
		ArticleSelector:    ".site-list .article h3 a[href]",
		PaginationSelector: "nav a.button[href]",
		NextText:           "Next",
		NextHrefContains:   "offset=",
		LinkPrefix:         "/news/",
		LinkSuffix:         ".html",
	}
}

// DefaultArticleConfig returns the article selectors of the default site.
func DefaultArticleConfig() ArticleConfig {
	return ArticleConfig{
		ContainerSelector: "article, .article, div[itemprop='articleBody']",
		TitleSelector:     "article h1, article h2, .article h1, .article h2, h1, h2",
		DateSelector:      "article h3, .article h3",
		BodySelectors: []string{
			"article .content p",
			"article .entry-content p",
			"article .post-content p",
			"article p",
			".article p",
			"div[itemprop='articleBody'] p",
		},
		ImageSelector:   "figure.article-image img",
		CaptionSelector: "figcaption.article-image-caption",
		SiteTag:         "Econostream",
		MinLedeLength:   20,
	}
}

// Validate checks that the configuration can drive a crawl.
func (c *ScraperConfig) Validate() error {
	base, err := url.Parse(c.BaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}

	switch c.DiscoveryMode {
	case DiscoveryList:
		if c.StartURL == "" {
			return errors.New("start_url is required for list discovery")
		}
		if c.ListConfig.ArticleSelector == "" {
			return errors.New("list.article_selector is required for list discovery")
		}
	case DiscoveryFeed:
		if c.FeedURL == "" {
			return errors.New("feed_url is required for feed discovery")
		}
	default:
		return fmt.Errorf("discovery_mode must be %q or %q, got %q", DiscoveryList, DiscoveryFeed, c.DiscoveryMode)
	}

	if c.ArticleConfig.ContainerSelector == "" {
		return errors.New("article.container_selector is required")
	}
	return nil
}

// Base returns the parsed base URL. It assumes Validate has passed.
func (c *ScraperConfig) Base() *url.URL {
	u, _ := url.Parse(strings.TrimRight(c.BaseURL, "/") + "/")
	return u
}
