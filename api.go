package scraperapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nicodelhay/my-scraper-api/article"
	"github.com/nicodelhay/my-scraper-api/config"
	"github.com/nicodelhay/my-scraper-api/history"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Scraper runs crawls. *Crawler implements it.
type Scraper interface {
	Links(ctx context.Context, req Request) (*LinksResult, error)
	Articles(ctx context.Context, req Request) (*ArticlesResult, error)
	Deadline(req Request, full bool) time.Duration
}

// RunStore reads crawl history. *history.Store implements it.
type RunStore interface {
	List(ctx context.Context, limit int) ([]history.Run, error)
	Get(ctx context.Context, runID uuid.UUID) (*history.Run, error)
}

const defaultRunsLimit = 20

// LinksResponse is the body of GET /scrape.
type LinksResponse struct {
	Status  string   `json:"status"`
	RunID   string   `json:"run_id"`
	Count   int      `json:"count"`
	Links   []string `json:"links"`
	Partial bool     `json:"partial"`
	Message string   `json:"message,omitempty"` // why the result is partial
}

// ArticlesResponse is the body of GET /scrape_full.
type ArticlesResponse struct {
	Status  string  `json:"status"`
	RunID   string  `json:"run_id"`
	Count   int     `json:"count"`
	Items   []Item  `json:"items"`
	Summary Summary `json:"summary"`
	Partial bool    `json:"partial"`
	Message string  `json:"message,omitempty"`
}

// APIServer serves crawls over HTTP.
type APIServer struct {
	scraper Scraper
	runs    RunStore
	cfg     *config.Config
	logger  *zap.Logger
}

// NewAPIServer creates an API server. runs may be nil, in which case the
// /runs routes are not registered.
func NewAPIServer(scraper Scraper, runs RunStore, cfg *config.Config, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIServer{
		scraper: scraper,
		runs:    runs,
		cfg:     cfg,
		logger:  logger,
	}
}

// SetupRouter configures the gin router with all routes.
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(s.recovery(), s.requestLogger())

	router.GET("/healthz", s.HandleHealth)
	router.GET("/scrape", s.HandleScrape)
	router.GET("/scrape_full", s.HandleScrapeFull)
	router.GET("/config", s.HandleConfig)

	if s.runs != nil {
		router.GET("/runs", s.HandleListRuns)
		router.GET("/runs/:id", s.HandleGetRun)
	}

	return router
}

// Handler returns the router wrapped in the CORS policy.
func (s *APIServer) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	return c.Handler(s.SetupRouter())
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"status": "error",
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// statusClientClosedRequest is logged when the caller went away mid-crawl.
const statusClientClosedRequest = 499

// handleError maps crawl errors to HTTP status codes.
func (s *APIServer) handleError(c *gin.Context, err error) {
	var validationErr *ValidationError
	var listingErr *ListingError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
	case errors.As(err, &listingErr):
		c.JSON(http.StatusBadGateway, errorResponse("listing_unreachable", err.Error()))
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(statusClientClosedRequest)
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, errorResponse("timeout", "Crawl did not finish before the request deadline"))
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// HandleHealth handles GET /healthz.
func (s *APIServer) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleScrape handles GET /scrape: article links only.
func (s *APIServer) HandleScrape(c *gin.Context) {
	req, format, err := parseRequest(c)
	if err != nil {
		s.handleError(c, err)
		return
	}

	ctx, cancel := s.withDeadline(c, req, false)
	defer cancel()

	result, err := s.scraper.Links(ctx, req)
	if err != nil {
		s.handleError(c, err)
		return
	}

	if format == "csv" {
		var buf bytes.Buffer
		if err := WriteLinksCSV(&buf, result.Links); err != nil {
			s.handleError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
		return
	}

	resp := LinksResponse{
		Status:  "ok",
		RunID:   result.RunID.String(),
		Count:   len(result.Links),
		Links:   result.Links,
		Partial: result.Partial,
	}
	if err := result.Err(); err != nil {
		resp.Message = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleScrapeFull handles GET /scrape_full: links fetched and parsed into
// records.
func (s *APIServer) HandleScrapeFull(c *gin.Context) {
	req, format, err := parseRequest(c)
	if err != nil {
		s.handleError(c, err)
		return
	}

	ctx, cancel := s.withDeadline(c, req, true)
	defer cancel()

	result, err := s.scraper.Articles(ctx, req)
	if err != nil {
		s.handleError(c, err)
		return
	}

	if format == "csv" {
		var buf bytes.Buffer
		if err := WriteArticlesCSV(&buf, result.Fields, result.Items); err != nil {
			s.handleError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
		return
	}

	resp := ArticlesResponse{
		Status:  "ok",
		RunID:   result.RunID.String(),
		Count:   len(result.Items),
		Items:   result.Items,
		Summary: result.Summary,
		Partial: result.Partial,
	}
	if err := result.Err(); err != nil {
		resp.Message = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleConfig handles GET /config: the effective configuration as YAML.
func (s *APIServer) HandleConfig(c *gin.Context) {
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", data)
}

// HandleListRuns handles GET /runs: the most recent crawl runs.
func (s *APIServer) HandleListRuns(c *gin.Context) {
	limit := defaultRunsLimit
	if val := c.Query("limit"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, errorResponse("validation_error", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := s.runs.List(c.Request.Context(), limit)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": len(runs), "runs": runs})
}

// HandleGetRun handles GET /runs/:id.
func (s *APIServer) HandleGetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid run ID"))
		return
	}

	run, err := s.runs.Get(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
			return
		}
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// withDeadline bounds the crawl by the scraper's estimate for req.
func (s *APIServer) withDeadline(c *gin.Context, req Request, full bool) (context.Context, context.CancelFunc) {
	deadline := s.scraper.Deadline(req, full)
	if deadline <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), deadline)
}

// parseRequest reads crawl parameters from the query string. Malformed
// values are *ValidationError; range checks happen in Request.Validate.
func parseRequest(c *gin.Context) (Request, string, error) {
	var req Request
	var err error

	if req.MaxPages, err = queryInt(c, "max_pages"); err != nil {
		return req, "", err
	}
	if req.Offset, err = queryInt(c, "offset"); err != nil {
		return req, "", err
	}
	if req.Limit, err = queryInt(c, "limit"); err != nil {
		return req, "", err
	}
	if req.Page, err = queryInt(c, "page"); err != nil {
		return req, "", err
	}
	if req.PageSize, err = queryInt(c, "page_size"); err != nil {
		return req, "", err
	}

	if val := c.Query("delay_sec"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return req, "", &ValidationError{Field: "delay_sec", Message: "must be a number"}
		}
		req.DelaySec = &f
	}

	// fields may be repeated and/or comma-separated
	for _, raw := range c.QueryArray("fields") {
		req.Fields = append(req.Fields, article.SplitFields(raw)...)
	}

	format := strings.ToLower(c.DefaultQuery("format", "json"))
	if format != "json" && format != "csv" {
		return req, "", &ValidationError{Field: "format", Message: "must be json or csv"}
	}

	return req, format, nil
}

func queryInt(c *gin.Context, name string) (*int, error) {
	val := c.Query(name)
	if val == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return nil, &ValidationError{Field: name, Message: "must be an integer"}
	}
	return &n, nil
}

// requestLogger logs one line per request.
func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error("Request failed", fields...)
			return
		}
		s.logger.Info("Request handled", fields...)
	}
}

// recovery turns a panic into a 500 with the standard error body.
func (s *APIServer) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					errorResponse("internal_error", "An unexpected error occurred"))
			}
		}()

		c.Next()
	}
}
