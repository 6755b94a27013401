package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	scraperapi "github.com/nicodelhay/my-scraper-api"
	"github.com/nicodelhay/my-scraper-api/config"
	"github.com/nicodelhay/my-scraper-api/history"
	"github.com/nicodelhay/my-scraper-api/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cfgFile is the --config flag.
var cfgFile string

func main() {
	// Load .env early so SCRAPERAPI_* overrides are visible to config.Load
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "scraperapi",
		Short:         "Crawl a news site and serve its articles as JSON or CSV",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.scraperapi/config.yaml)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newLinksCommand())
	root.AddCommand(newArticlesCommand())
	root.AddCommand(newRunsCommand())
	return root
}

// app holds what every subcommand needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *history.Store
	crawler *scraperapi.Crawler
}

// newApp loads configuration and wires the crawler.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var store *history.Store
	if cfg.History.Enabled() {
		store, err = history.NewStore(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: cfg.Fetch.Timeout}

	return &app{
		cfg:     cfg,
		logger:  log,
		store:   store,
		crawler: scraperapi.NewCrawler(cfg, httpClient, log, store),
	}, nil
}

// Close releases the history store and flushes the logger.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close run history", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
