package scraperapi

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/nicodelhay/my-scraper-api/article"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: a successful item projected to fields
func projectedItem(url, title string, fields []article.Field) Item {
	record := article.NewRecord(url, "one two three")
	record.Title = article.StringPtr(title)
	projection := article.Project(record, fields)
	return Item{URL: url, Record: &projection}
}

// Test helper: parse CSV output back into rows
func readCSV(t *testing.T, data []byte) [][]string {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

// TestWriteLinksCSV verifies the url column
func TestWriteLinksCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLinksCSV(&buf, []string{"https://a.example/1", "https://a.example/2"}))

	assert.Equal(t, [][]string{
		{"url"},
		{"https://a.example/1"},
		{"https://a.example/2"},
	}, readCSV(t, buf.Bytes()))
}

// TestWriteArticlesCSV verifies column order and empty cells for nulls
func TestWriteArticlesCSV(t *testing.T) {
	fields := []article.Field{article.FieldTitle, article.FieldURL, article.FieldAuthor, article.FieldWordCount}
	items := []Item{
		projectedItem("https://a.example/1", "First, with comma", fields),
		projectedItem("https://a.example/2", "Second", fields),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteArticlesCSV(&buf, fields, items))

	assert.Equal(t, [][]string{
		{"title", "url", "author", "word_count"},
		{"First, with comma", "https://a.example/1", "", "3"},
		{"Second", "https://a.example/2", "", "3"},
	}, readCSV(t, buf.Bytes()))
}

// TestWriteArticlesCSV_FailedItems verifies the trailing error column
func TestWriteArticlesCSV_FailedItems(t *testing.T) {
	fields := []article.Field{article.FieldURL, article.FieldTitle}
	items := []Item{
		projectedItem("https://a.example/1", "First", fields),
		{URL: "https://a.example/2", Error: &ItemError{Kind: KindFetch, Message: "HTTP 404"}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteArticlesCSV(&buf, fields, items))

	assert.Equal(t, [][]string{
		{"url", "title", "error"},
		{"https://a.example/1", "First", ""},
		{"https://a.example/2", "", "fetch: HTTP 404"},
	}, readCSV(t, buf.Bytes()))
}

// TestWriteArticlesCSV_Empty verifies an empty batch still has a header
func TestWriteArticlesCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteArticlesCSV(&buf, article.CanonicalFields, nil))

	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 1)
	assert.Equal(t, article.Names(article.CanonicalFields), rows[0])
}
