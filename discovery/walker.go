// Package discovery turns a news site into article links and article pages
// into records. Link discovery is lazy: listing pages are fetched only as
// the consumer asks for more links.
package discovery

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nicodelhay/my-scraper-api/fetch"
	"github.com/nicodelhay/my-scraper-api/scraper"
	"github.com/nicodelhay/my-scraper-api/urlnorm"
	"go.uber.org/zap"
)

// Fetcher retrieves one page. *fetch.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Link is an article URL together with where it was discovered.
type Link struct {
	URL      string `json:"url"`
	Page     int    `json:"-"` // 1-based listing page
	Position int    `json:"-"` // 0-based position on that page
}

// Walk is a single pass over a site's article links. Links can be ranged
// over once; later calls yield nothing. Err and Pages describe the pass
// after iteration ends.
type Walk struct {
	run   func(yield func(Link) bool)
	used  bool
	err   error
	pages int
}

// Links returns the lazy link sequence. Breaking out of the range stops the
// walk before any further page is fetched.
func (w *Walk) Links() iter.Seq[Link] {
	return func(yield func(Link) bool) {
		if w.used {
			return
		}
		w.used = true
		w.run(yield)
	}
}

// Err returns the error that ended the walk early: a *PageError, or the
// context error on cancellation. It is nil when the walk ran out of pages,
// budget, or was stopped by the consumer.
func (w *Walk) Err() error {
	return w.err
}

// Pages returns how many listing pages were fetched and parsed.
func (w *Walk) Pages() int {
	return w.pages
}

// Walker paginates a site's listing pages.
type Walker struct {
	fetcher Fetcher
	cfg     scraper.ListConfig
	base    *url.URL
	logger  *zap.Logger
}

// NewWalker creates a walker for site. The site configuration is assumed to
// be valid.
func NewWalker(fetcher Fetcher, site scraper.ScraperConfig, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		fetcher: fetcher,
		cfg:     site.ListConfig,
		base:    site.Base(),
		logger:  logger,
	}
}

// Walk starts a walk at startURL visiting at most maxPages listing pages.
// Nothing is fetched until the returned sequence is ranged over.
func (w *Walker) Walk(ctx context.Context, startURL string, maxPages int) *Walk {
	walk := &Walk{}
	walk.run = func(yield func(Link) bool) {
		start, err := urlnorm.Normalize(startURL, w.base)
		if err != nil {
			walk.err = &PageError{Page: 1, URL: startURL, Err: err}
			return
		}
		listingPrefix := listingPrefix(start)

		seen := make(map[string]bool)
		visited := make(map[string]bool)
		current := start

		for page := 1; page <= maxPages; page++ {
			// Checkpoint between pages
			if err := ctx.Err(); err != nil {
				walk.err = err
				return
			}
			visited[current] = true

			resp, err := w.fetcher.Fetch(ctx, current)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					walk.err = ctxErr
					return
				}
				walk.err = &PageError{Page: page, URL: current, Err: err}
				return
			}

			links, next, err := ParseListing(resp.Body, resp.URL, w.cfg, listingPrefix)
			if err != nil {
				walk.err = &PageError{Page: page, URL: current, Err: err}
				return
			}
			walk.pages++

			w.logger.Debug("Listing page parsed",
				zap.Int("page", page),
				zap.String("url", current),
				zap.Int("links", len(links)),
				zap.Bool("has_next", next != ""),
			)

			for i, link := range links {
				if seen[link] {
					continue
				}
				seen[link] = true
				if !yield(Link{URL: link, Page: page, Position: i}) {
					return
				}
			}

			// Stop when there is no next page or the site loops back
			if next == "" || visited[next] {
				return
			}
			current = next
		}
	}
	return walk
}

// ParseListing extracts article links and the next-page URL from a listing
// page. Links are normalized and filtered to article URLs on the page's
// host; the next URL is empty when there is none. listingPrefix restricts
// the next URL to the listing section (for example
// "https://host/news").
func ParseListing(html, pageURL string, cfg scraper.ListConfig, listingPrefix string) ([]string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", &ParseError{URL: pageURL, Kind: KindListing, Reason: "invalid HTML", Err: err}
	}

	if cfg.ContainerSelector != "" && doc.Find(cfg.ContainerSelector).Length() == 0 {
		return nil, "", &ParseError{
			URL:    pageURL,
			Kind:   KindListing,
			Reason: fmt.Sprintf("no element matches %q", cfg.ContainerSelector),
		}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", &ParseError{URL: pageURL, Kind: KindListing, Reason: "invalid page URL", Err: err}
	}

	// Extract article links in document order
	var links []string
	doc.Find(cfg.ArticleSelector).Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, err := urlnorm.Normalize(href, base)
		if err != nil {
			return
		}
		if isArticleLink(link, base.Host, cfg) {
			links = append(links, link)
		}
	})

	// Find the next page affordance
	var next string
	if cfg.PaginationSelector != "" {
		doc.Find(cfg.PaginationSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			text := strings.TrimSpace(s.Text())

			matches := (cfg.NextText != "" && strings.Contains(text, cfg.NextText)) ||
				(cfg.NextHrefContains != "" && strings.Contains(href, cfg.NextHrefContains))
			if !matches {
				return true
			}

			candidate, err := urlnorm.Normalize(href, base)
			if err != nil || !underListing(candidate, listingPrefix) {
				return true
			}
			next = candidate
			return false
		})
	}

	return links, next, nil
}

// isArticleLink applies the site's link filter to a normalized URL.
func isArticleLink(link, host string, cfg scraper.ListConfig) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Host, host) {
		return false
	}
	if cfg.LinkPrefix != "" && !strings.HasPrefix(u.EscapedPath(), cfg.LinkPrefix) {
		return false
	}
	if cfg.LinkSuffix != "" && !strings.HasSuffix(u.EscapedPath(), cfg.LinkSuffix) {
		return false
	}
	return true
}

// listingPrefix is the normalized start URL without query or trailing
// slash; next-page links must stay under it.
func listingPrefix(start string) string {
	if i := strings.IndexByte(start, '?'); i >= 0 {
		start = start[:i]
	}
	return strings.TrimRight(start, "/")
}

// underListing reports whether candidate is prefix itself or a path or
// query below it.
func underListing(candidate, prefix string) bool {
	rest, ok := strings.CutPrefix(candidate, prefix)
	if !ok {
		return false
	}
	return rest == "" || rest[0] == '/' || rest[0] == '?' || prefix == ""
}
