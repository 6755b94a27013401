package scraperapi

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/nicodelhay/my-scraper-api/article"
)

// WriteLinksCSV writes a one-column "url" table.
func WriteLinksCSV(w io.Writer, links []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{string(article.FieldURL)}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, link := range links {
		if err := cw.Write([]string{link}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteArticlesCSV writes one row per item with the columns in field order.
// Missing values are empty cells. When any item failed, a trailing "error"
// column carries its message; a failed item's url cell is filled when url is
// one of the fields and its other cells are empty.
func WriteArticlesCSV(w io.Writer, fields []article.Field, items []Item) error {
	withErrors := false
	for _, item := range items {
		if item.Error != nil {
			withErrors = true
			break
		}
	}

	header := article.Names(fields)
	if withErrors {
		header = append(header, "error")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, item := range items {
		var row []string
		if item.Error != nil {
			row = make([]string, len(fields))
			for i, f := range fields {
				if f == article.FieldURL {
					row[i] = item.URL
				}
			}
		} else {
			row = item.Record.CSVRow()
		}
		if withErrors {
			msg := ""
			if item.Error != nil {
				msg = item.Error.Kind + ": " + item.Error.Message
			}
			row = append(row, msg)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
