package scraperapi

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nicodelhay/my-scraper-api/article"
	"github.com/nicodelhay/my-scraper-api/config"
)

// Request is one crawl as asked for by a caller. Nil fields take their
// defaults. Page or PageSize, when either is set, replace Offset and Limit
// entirely.
type Request struct {
	MaxPages *int     `json:"max_pages,omitempty"`
	DelaySec *float64 `json:"delay_sec,omitempty"`
	Offset   *int     `json:"offset,omitempty"`
	Limit    *int     `json:"limit,omitempty"`
	Page     *int     `json:"page,omitempty"`
	PageSize *int     `json:"page_size,omitempty"`
	Fields   []string `json:"fields,omitempty"`
}

// Window is the half-open range [Start, End) of discovered links a crawl
// returns. End is negative when the window is unbounded.
type Window struct {
	Start int
	End   int
}

// Bounded reports whether the window has an end.
func (w Window) Bounded() bool {
	return w.End >= 0
}

// Size returns the number of links the window can hold, or -1 when
// unbounded.
func (w Window) Size() int {
	if !w.Bounded() {
		return -1
	}
	return w.End - w.Start
}

// Plan is a validated Request with every default applied.
type Plan struct {
	MaxPages int
	Delay    time.Duration
	DelaySec float64
	Window   Window
	Fields   []article.Field
}

// Validate checks the request against limits and resolves it into a Plan.
// Failures are *ValidationError.
func (r Request) Validate(limits config.Limits) (*Plan, error) {
	plan := &Plan{
		MaxPages: 1,
		DelaySec: limits.DefaultDelaySec,
	}

	if r.MaxPages != nil {
		if *r.MaxPages < 1 {
			return nil, &ValidationError{Field: "max_pages", Message: "must be at least 1"}
		}
		if *r.MaxPages > limits.MaxPages {
			return nil, &ValidationError{
				Field:   "max_pages",
				Message: fmt.Sprintf("must be at most %d", limits.MaxPages),
			}
		}
		plan.MaxPages = *r.MaxPages
	}

	if r.DelaySec != nil {
		if *r.DelaySec < 0 || *r.DelaySec > limits.MaxDelaySec {
			return nil, &ValidationError{
				Field:   "delay_sec",
				Message: fmt.Sprintf("must be between 0 and %g", limits.MaxDelaySec),
			}
		}
		plan.DelaySec = *r.DelaySec
	}
	plan.Delay = time.Duration(plan.DelaySec * float64(time.Second))

	window, err := r.window(limits.DefaultPageSize)
	if err != nil {
		return nil, err
	}
	plan.Window = window

	fields, err := article.ParseFields(r.Fields)
	if err != nil {
		var unknown *article.UnknownFieldError
		if errors.As(err, &unknown) {
			return nil, &ValidationError{Field: "fields", Message: err.Error()}
		}
		return nil, err
	}
	plan.Fields = fields

	return plan, nil
}

// PageMode reports whether page/page_size pagination is in effect.
func (r Request) PageMode() bool {
	return r.Page != nil || r.PageSize != nil
}

// HasWindow reports whether the request bounds the result set at all.
func (r Request) HasWindow() bool {
	return r.PageMode() || r.Limit != nil
}

func (r Request) window(defaultPageSize int) (Window, error) {
	if r.PageMode() {
		page, size := 1, defaultPageSize
		if r.Page != nil {
			if *r.Page < 1 {
				return Window{}, &ValidationError{Field: "page", Message: "must be at least 1"}
			}
			page = *r.Page
		}
		if r.PageSize != nil {
			if *r.PageSize < 1 {
				return Window{}, &ValidationError{Field: "page_size", Message: "must be at least 1"}
			}
			size = *r.PageSize
		}
		if page-1 > (math.MaxInt-size)/size {
			return Window{}, &ValidationError{Field: "page", Message: "page and page_size are too large"}
		}
		start := (page - 1) * size
		return Window{Start: start, End: start + size}, nil
	}

	w := Window{End: -1}
	if r.Offset != nil {
		if *r.Offset < 0 {
			return Window{}, &ValidationError{Field: "offset", Message: "must not be negative"}
		}
		w.Start = *r.Offset
	}
	if r.Limit != nil {
		if *r.Limit < 1 {
			return Window{}, &ValidationError{Field: "limit", Message: "must be at least 1"}
		}
		if *r.Limit > math.MaxInt-w.Start {
			return Window{}, &ValidationError{Field: "limit", Message: "offset and limit are too large"}
		}
		w.End = w.Start + *r.Limit
	}
	return w, nil
}

// IntPtr returns a pointer to n, for building requests.
func IntPtr(n int) *int {
	return &n
}

// FloatPtr returns a pointer to f, for building requests.
func FloatPtr(f float64) *float64 {
	return &f
}
