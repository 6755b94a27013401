package scraperapi

import (
	"fmt"

	"github.com/nicodelhay/my-scraper-api/discovery"
	"github.com/nicodelhay/my-scraper-api/fetch"
)

// FetchError is a page that could not be retrieved once retries gave up.
type FetchError = fetch.Error

// ParseError is a fetched page that was not a recognizable listing, feed or
// article page.
type ParseError = discovery.ParseError

// ValidationError rejects a crawl request before any network activity.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ListingError means link discovery failed before a single listing page
// could be read, so there is nothing to return.
type ListingError struct {
	URL string
	Err error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("listing unreachable (%s): %v", e.URL, e.Err)
}

func (e *ListingError) Unwrap() error {
	return e.Err
}

// PartialBatchFailure reports a crawl that returned results but lost some
// of them: failed articles, or a listing page that stopped the walk early.
type PartialBatchFailure struct {
	Succeeded int
	Failed    int
	Listing   error // the walk failure, nil when only articles failed
}

func (e *PartialBatchFailure) Error() string {
	if e.Listing != nil {
		return fmt.Sprintf("partial batch: %d succeeded, %d failed: %v", e.Succeeded, e.Failed, e.Listing)
	}
	return fmt.Sprintf("partial batch: %d succeeded, %d failed", e.Succeeded, e.Failed)
}

func (e *PartialBatchFailure) Unwrap() error {
	return e.Listing
}
