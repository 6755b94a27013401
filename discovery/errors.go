package discovery

import "fmt"

// Document kinds reported by ParseError.
const (
	KindListing = "listing"
	KindArticle = "article"
	KindFeed    = "feed"
)

// ParseError means a fetched document could not be recognized as the kind
// of page it was expected to be.
type ParseError struct {
	URL    string
	Kind   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s %s: %s: %v", e.Kind, e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s %s: %s", e.Kind, e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// PageError is the failure that stopped a walk: listing page Page (1-based)
// at URL could not be fetched or parsed.
type PageError struct {
	Page int
	URL  string
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("listing page %d (%s): %v", e.Page, e.URL, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}
