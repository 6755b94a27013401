package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	scraperapi "github.com/nicodelhay/my-scraper-api"
	"github.com/nicodelhay/my-scraper-api/article"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// requestFlags are the crawl parameters shared by links and articles.
type requestFlags struct {
	maxPages int
	delaySec float64
	offset   int
	limit    int
	page     int
	pageSize int
	fields   string
	format   string
}

func (f *requestFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&f.maxPages, "max-pages", 1, "listing pages to walk")
	fs.Float64Var(&f.delaySec, "delay", 0.4, "seconds between requests")
	fs.IntVar(&f.offset, "offset", 0, "skip this many discovered links")
	fs.IntVar(&f.limit, "limit", 0, "return at most this many items")
	fs.IntVar(&f.page, "page", 0, "1-based page of results (overrides offset/limit)")
	fs.IntVar(&f.pageSize, "page-size", 0, "results per page")
	fs.StringVar(&f.fields, "fields", "", "comma-separated fields to return")
	fs.StringVar(&f.format, "format", "json", "output format: json or csv")
}

// request converts the flags into a Request. Only flags the user set are
// passed on, so defaults stay in one place.
func (f *requestFlags) request(fs *pflag.FlagSet) (scraperapi.Request, error) {
	var req scraperapi.Request
	if fs.Changed("max-pages") {
		req.MaxPages = scraperapi.IntPtr(f.maxPages)
	}
	if fs.Changed("delay") {
		req.DelaySec = scraperapi.FloatPtr(f.delaySec)
	}
	if fs.Changed("offset") {
		req.Offset = scraperapi.IntPtr(f.offset)
	}
	if fs.Changed("limit") {
		req.Limit = scraperapi.IntPtr(f.limit)
	}
	if fs.Changed("page") {
		req.Page = scraperapi.IntPtr(f.page)
	}
	if fs.Changed("page-size") {
		req.PageSize = scraperapi.IntPtr(f.pageSize)
	}
	req.Fields = article.SplitFields(f.fields)

	f.format = strings.ToLower(f.format)
	if f.format != "json" && f.format != "csv" {
		return req, fmt.Errorf("invalid --format %q: must be json or csv", f.format)
	}
	return req, nil
}

func newLinksCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "links",
		Short: "Discover article links without fetching articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd.Flags())
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := crawlContext(cmd, a, req, false)
			defer cancel()

			result, err := a.crawler.Links(ctx, req)
			if err != nil {
				return err
			}
			if err := result.Err(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}

			out := cmd.OutOrStdout()
			if flags.format == "csv" {
				return scraperapi.WriteLinksCSV(out, result.Links)
			}
			return printJSON(out, scraperapi.LinksResponse{
				Status:  "ok",
				RunID:   result.RunID.String(),
				Count:   len(result.Links),
				Links:   result.Links,
				Partial: result.Partial,
			})
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newArticlesCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Discover article links, then fetch and parse each article",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd.Flags())
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := crawlContext(cmd, a, req, true)
			defer cancel()

			result, err := a.crawler.Articles(ctx, req)
			if err != nil {
				return err
			}
			if err := result.Err(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}

			out := cmd.OutOrStdout()
			if flags.format == "csv" {
				return scraperapi.WriteArticlesCSV(out, result.Fields, result.Items)
			}
			return printJSON(out, scraperapi.ArticlesResponse{
				Status:  "ok",
				RunID:   result.RunID.String(),
				Count:   len(result.Items),
				Items:   result.Items,
				Summary: result.Summary,
				Partial: result.Partial,
			})
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent crawl runs from the history database",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.store == nil {
				return errors.New("run history is disabled: set history.dsn or SCRAPERAPI_HISTORY_DSN")
			}

			runs, err := a.store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			for _, run := range runs {
				status := "ok"
				if run.Error != nil {
					status = *run.Error
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s  %s  pages=%d links=%d ok=%d failed=%d  %s\n",
					run.RunID,
					run.Mode,
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					run.Pages, run.Links, run.Succeeded, run.Failed,
					status,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

// crawlContext bounds a CLI crawl the same way the API does.
func crawlContext(cmd *cobra.Command, a *app, req scraperapi.Request, full bool) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d := a.crawler.Deadline(req, full); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
