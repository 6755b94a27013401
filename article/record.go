// Package article defines the normalized article record produced by the
// parser and the field projection applied before results leave the crawler.
package article

import (
	"strings"
	"time"
)

// Record is one parsed article. The body text and its word count are set
// together by NewRecord and cannot change afterwards; the optional fields
// are nil when the page did not carry them.
type Record struct {
	URL       string
	Title     *string
	Published *time.Time
	Author    *string
	Location  *string
	Lede      *string
	Image     *string
	Caption   *string

	text      string
	wordCount int
}

// NewRecord creates a record for url with the given body text. The word
// count is the number of whitespace-separated tokens in text.
func NewRecord(url, text string) *Record {
	return &Record{
		URL:       url,
		text:      text,
		wordCount: len(strings.Fields(text)),
	}
}

// Text returns the article body, paragraphs separated by blank lines.
func (r *Record) Text() string {
	return r.text
}

// WordCount returns the token count of Text.
func (r *Record) WordCount() int {
	return r.wordCount
}

// MarshalJSON renders every field in canonical order.
func (r *Record) MarshalJSON() ([]byte, error) {
	return Project(r, CanonicalFields).MarshalJSON()
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
