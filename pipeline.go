// Package scraperapi crawls a news site's listing pages, parses the articles
// they link to, and serves the result over HTTP as JSON or CSV.
package scraperapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nicodelhay/my-scraper-api/article"
	"github.com/nicodelhay/my-scraper-api/config"
	"github.com/nicodelhay/my-scraper-api/discovery"
	"github.com/nicodelhay/my-scraper-api/fetch"
	"github.com/nicodelhay/my-scraper-api/history"
	"github.com/nicodelhay/my-scraper-api/scraper"
	"go.uber.org/zap"
)

// Item failure kinds.
const (
	KindFetch = "fetch"
	KindParse = "parse"
)

// ItemError describes why one article could not be returned.
type ItemError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Item is one selected article: either a projected record or an error.
type Item struct {
	URL    string
	Record *article.Projection
	Error  *ItemError
}

// MarshalJSON writes the projected record, or {"url", "error"} for a failed
// item.
func (i Item) MarshalJSON() ([]byte, error) {
	if i.Error != nil {
		return json.Marshal(struct {
			URL   string     `json:"url"`
			Error *ItemError `json:"error"`
		}{i.URL, i.Error})
	}
	if i.Record == nil {
		return json.Marshal(struct {
			URL string `json:"url"`
		}{i.URL})
	}
	return i.Record.MarshalJSON()
}

// Summary counts article outcomes. A listing page that stopped the walk
// counts as one failure.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// LinksResult is the outcome of a shallow crawl.
type LinksResult struct {
	RunID   uuid.UUID
	Links   []string
	Pages   int
	Partial bool

	listingErr error
}

// Err returns a *PartialBatchFailure when the walk stopped on a failing
// listing page, and nil otherwise.
func (r *LinksResult) Err() error {
	if !r.Partial {
		return nil
	}
	return &PartialBatchFailure{Succeeded: len(r.Links), Failed: 1, Listing: r.listingErr}
}

// ArticlesResult is the outcome of a full crawl.
type ArticlesResult struct {
	RunID   uuid.UUID
	Fields  []article.Field
	Items   []Item
	Summary Summary
	Pages   int
	Partial bool

	listingErr error
}

// Err returns a *PartialBatchFailure when any article or listing page
// failed, and nil otherwise.
func (r *ArticlesResult) Err() error {
	if r.Summary.Failed == 0 {
		return nil
	}
	return &PartialBatchFailure{
		Succeeded: r.Summary.Succeeded,
		Failed:    r.Summary.Failed,
		Listing:   r.listingErr,
	}
}

// Crawler runs crawls against the configured site. It holds only
// read-only configuration and may serve concurrent requests; every crawl
// gets its own fetch client and throttle.
type Crawler struct {
	cfg     *config.Config
	http    *http.Client
	logger  *zap.Logger
	history *history.Store
}

// NewCrawler creates a crawler. httpClient is shared by all crawls; store
// may be nil to disable run history.
func NewCrawler(cfg *config.Config, httpClient *http.Client, logger *zap.Logger, store *history.Store) *Crawler {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Fetch.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:     cfg,
		http:    httpClient,
		logger:  logger,
		history: store,
	}
}

// Links discovers article URLs within the request's window without
// fetching any article.
func (c *Crawler) Links(ctx context.Context, req Request) (*LinksResult, error) {
	plan, err := req.Validate(c.cfg.Limits)
	if err != nil {
		return nil, err
	}

	run := c.startRun(history.ModeLinks, plan)
	logger := c.logger.With(zap.String("run_id", run.RunID.String()), zap.String("mode", run.Mode))

	fetcher := fetch.NewClient(c.http, c.cfg.Fetch, plan.Delay, logger)
	walk := c.walk(ctx, fetcher, plan.MaxPages, logger)

	result := &LinksResult{RunID: run.RunID, Links: []string{}}
	selectWindow(walk, plan.Window, func(link discovery.Link) bool {
		result.Links = append(result.Links, link.URL)
		return true
	})
	result.Pages = walk.Pages()

	if err := c.walkOutcome(ctx, walk, len(result.Links)); err != nil {
		c.finishRun(ctx, run, logger, err)
		return nil, err
	}
	if walkErr := walk.Err(); walkErr != nil {
		result.Partial = true
		result.listingErr = walkErr
	}

	run.Pages = result.Pages
	run.Links = len(result.Links)
	run.Succeeded = len(result.Links)
	run.Partial = result.Partial
	if result.Partial {
		run.Failed = 1
	}
	c.finishRun(ctx, run, logger, result.Err())

	return result, nil
}

// Articles discovers the links in the request's window, then fetches and
// parses each one in discovery order. Articles outside the window are never
// fetched. A failing article becomes an Item with an error; it does not
// stop the batch.
func (c *Crawler) Articles(ctx context.Context, req Request) (*ArticlesResult, error) {
	plan, err := req.Validate(c.cfg.Limits)
	if err != nil {
		return nil, err
	}
	if !req.HasWindow() && c.cfg.Limits.DefaultFullLimit > 0 {
		plan.Window.End = math.MaxInt
		if plan.Window.Start <= math.MaxInt-c.cfg.Limits.DefaultFullLimit {
			plan.Window.End = plan.Window.Start + c.cfg.Limits.DefaultFullLimit
		}
	}

	run := c.startRun(history.ModeArticles, plan)
	logger := c.logger.With(zap.String("run_id", run.RunID.String()), zap.String("mode", run.Mode))

	fetcher := fetch.NewClient(c.http, c.cfg.Fetch, plan.Delay, logger)
	walk := c.walk(ctx, fetcher, plan.MaxPages, logger)

	result := &ArticlesResult{RunID: run.RunID, Fields: plan.Fields, Items: []Item{}}
	var interrupted error
	selectWindow(walk, plan.Window, func(link discovery.Link) bool {
		// Checkpoint between articles
		if err := ctx.Err(); err != nil {
			interrupted = err
			return false
		}

		item, err := c.article(ctx, fetcher, link.URL, plan.Fields)
		if err != nil {
			interrupted = err
			return false
		}
		if item.Error != nil {
			result.Summary.Failed++
			logger.Warn("Article failed",
				zap.String("url", link.URL),
				zap.String("kind", item.Error.Kind),
				zap.String("error", item.Error.Message),
			)
		} else {
			result.Summary.Succeeded++
		}
		result.Items = append(result.Items, item)
		return true
	})
	result.Pages = walk.Pages()

	if interrupted != nil {
		err := fmt.Errorf("crawl interrupted: %w", interrupted)
		c.finishRun(ctx, run, logger, err)
		return nil, err
	}
	if err := c.walkOutcome(ctx, walk, len(result.Items)); err != nil {
		c.finishRun(ctx, run, logger, err)
		return nil, err
	}
	if walkErr := walk.Err(); walkErr != nil {
		result.Partial = true
		result.listingErr = walkErr
		result.Summary.Failed++
	}

	run.Pages = result.Pages
	run.Links = len(result.Items)
	run.Succeeded = result.Summary.Succeeded
	run.Failed = result.Summary.Failed
	run.Partial = result.Partial
	c.finishRun(ctx, run, logger, result.Err())

	return result, nil
}

// Deadline returns how long a crawl for req may reasonably take, assuming
// every listing page and selected article uses all of its retry attempts.
// The result is capped by the server's maximum timeout.
func (c *Crawler) Deadline(req Request, full bool) time.Duration {
	ceiling := c.cfg.Server.MaxTimeout
	plan, err := req.Validate(c.cfg.Limits)
	if err != nil {
		return ceiling
	}

	retry := c.cfg.Fetch.Retry
	perFetch := time.Duration(retry.MaxAttempts) * (c.cfg.Fetch.Timeout + retry.MaxBackoff + plan.Delay)

	fetches := plan.MaxPages
	if full {
		articles := plan.Window.Size()
		if !req.HasWindow() && c.cfg.Limits.DefaultFullLimit > 0 {
			articles = c.cfg.Limits.DefaultFullLimit
		}
		if articles < 0 || articles > math.MaxInt-fetches {
			return ceiling
		}
		fetches += articles
	}
	if perFetch > 0 && int64(fetches) > math.MaxInt64/int64(perFetch) {
		return ceiling
	}

	deadline := time.Duration(fetches) * perFetch
	if ceiling > 0 && deadline > ceiling {
		return ceiling
	}
	return deadline
}

// walk starts link discovery in the configured mode.
func (c *Crawler) walk(ctx context.Context, fetcher discovery.Fetcher, maxPages int, logger *zap.Logger) *discovery.Walk {
	site := c.cfg.Site
	if site.DiscoveryMode == scraper.DiscoveryFeed {
		return discovery.NewFeedWalker(fetcher, site, logger).Walk(ctx, site.FeedURL)
	}
	return discovery.NewWalker(fetcher, site, logger).Walk(ctx, site.StartURL, maxPages)
}

// walkOutcome turns a finished walk into the crawl's top-level error: the
// context error when the caller gave up, or a *ListingError when the walk
// failed before producing anything. A later failure is not an error here.
func (c *Crawler) walkOutcome(ctx context.Context, walk *discovery.Walk, selected int) error {
	walkErr := walk.Err()
	if walkErr == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(walkErr, ctxErr) {
		return fmt.Errorf("crawl interrupted: %w", walkErr)
	}
	if walk.Pages() == 0 && selected == 0 {
		var pageErr *discovery.PageError
		if errors.As(walkErr, &pageErr) {
			return &ListingError{URL: pageErr.URL, Err: pageErr.Err}
		}
		return &ListingError{Err: walkErr}
	}
	return nil
}

// article fetches and parses one article. Only a cancelled context is
// returned as an error; other failures are reported on the Item.
func (c *Crawler) article(ctx context.Context, fetcher discovery.Fetcher, link string, fields []article.Field) (Item, error) {
	item := Item{URL: link}

	resp, err := fetcher.Fetch(ctx, link)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return item, ctxErr
		}
		item.Error = &ItemError{Kind: KindFetch, Message: err.Error()}
		return item, nil
	}

	record, err := discovery.ParseArticle(resp.Body, resp.URL, c.cfg.Site.ArticleConfig)
	if err != nil {
		item.Error = &ItemError{Kind: KindParse, Message: err.Error()}
		return item, nil
	}

	projection := article.Project(record, fields)
	item.Record = &projection
	return item, nil
}

// selectWindow ranges over the walk and hands links inside w to visit in
// discovery order. It stops pulling links as soon as the window is full or
// visit returns false, so no further listing page is fetched.
func selectWindow(walk *discovery.Walk, w Window, visit func(discovery.Link) bool) {
	if w.Bounded() && w.End <= w.Start {
		return
	}

	index := 0
	for link := range walk.Links() {
		position := index
		index++
		if position < w.Start {
			continue
		}
		if !visit(link) {
			return
		}
		if w.Bounded() && index >= w.End {
			return
		}
	}
}

func (c *Crawler) startRun(mode string, plan *Plan) *history.Run {
	return &history.Run{
		RunID:     uuid.New(),
		Mode:      mode,
		StartedAt: time.Now(),
		MaxPages:  plan.MaxPages,
		DelaySec:  plan.DelaySec,
	}
}

// finishRun logs the run summary and records it when history is enabled.
// History failures are logged and never fail the crawl.
func (c *Crawler) finishRun(ctx context.Context, run *history.Run, logger *zap.Logger, runErr error) {
	run.FinishedAt = time.Now()
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}

	fields := []zap.Field{
		zap.Int("pages", run.Pages),
		zap.Int("links", run.Links),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Bool("partial", run.Partial),
		zap.Duration("duration", run.Duration()),
	}
	if runErr != nil {
		logger.Warn("Crawl finished with errors", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("Crawl finished", fields...)
	}

	if c.history == nil {
		return
	}

	// Record even when the caller went away
	recordCtx := context.WithoutCancel(ctx)
	if err := c.history.Record(recordCtx, run); err != nil {
		logger.Error("Failed to record run", zap.Error(err))
		return
	}
	if keep := c.cfg.History.Keep; keep > 0 {
		if _, err := c.history.Prune(recordCtx, keep); err != nil {
			logger.Error("Failed to prune run history", zap.Error(err))
		}
	}
}
