package article

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Field names one projectable record field.
type Field string

// Recognized fields.
const (
	FieldURL       Field = "url"
	FieldTitle     Field = "title"
	FieldPublished Field = "published"
	FieldAuthor    Field = "author"
	FieldLocation  Field = "location"
	FieldLede      Field = "lede"
	FieldText      Field = "text"
	FieldWordCount Field = "word_count"
	FieldImage     Field = "image"
	FieldCaption   Field = "caption"
)

// CanonicalFields is the field order used when the caller asks for none.
var CanonicalFields = []Field{
	FieldURL,
	FieldTitle,
	FieldPublished,
	FieldAuthor,
	FieldLocation,
	FieldLede,
	FieldText,
	FieldWordCount,
	FieldImage,
	FieldCaption,
}

// UnknownFieldError reports a field name outside CanonicalFields.
type UnknownFieldError struct {
	Name string
}

func (e *UnknownFieldError) Error() string {
	names := make([]string, len(CanonicalFields))
	for i, f := range CanonicalFields {
		names[i] = string(f)
	}
	return fmt.Sprintf("unknown field %q (allowed: %s)", e.Name, strings.Join(names, ", "))
}

// ParseFields validates names and returns them as fields in the given order.
// Repeated names are kept once, at their first position. An empty input
// yields CanonicalFields.
func ParseFields(names []string) ([]Field, error) {
	if len(names) == 0 {
		return slices.Clone(CanonicalFields), nil
	}

	fields := make([]Field, 0, len(names))
	seen := make(map[Field]bool, len(names))
	for _, name := range names {
		f := Field(strings.TrimSpace(name))
		if !f.Valid() {
			return nil, &UnknownFieldError{Name: name}
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return fields, nil
}

// SplitFields splits a comma-separated field list, dropping empty entries.
func SplitFields(raw string) []string {
	var names []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

// Valid reports whether f is a recognized field.
func (f Field) Valid() bool {
	return slices.Contains(CanonicalFields, f)
}

// Value returns the field's value: a string, an int, or nil for a missing
// optional field. Published dates are rendered as RFC 3339.
func (r *Record) Value(f Field) any {
	switch f {
	case FieldURL:
		return r.URL
	case FieldTitle:
		return deref(r.Title)
	case FieldPublished:
		if r.Published == nil {
			return nil
		}
		return r.Published.Format(time.RFC3339)
	case FieldAuthor:
		return deref(r.Author)
	case FieldLocation:
		return deref(r.Location)
	case FieldLede:
		return deref(r.Lede)
	case FieldText:
		return r.text
	case FieldWordCount:
		return r.wordCount
	case FieldImage:
		return deref(r.Image)
	case FieldCaption:
		return deref(r.Caption)
	default:
		return nil
	}
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Projection is a record reduced to a subset of fields, kept in the order
// they were requested.
type Projection struct {
	Fields []Field
	Values []any
}

// Project reduces r to fields, preserving their order.
func Project(r *Record, fields []Field) Projection {
	p := Projection{
		Fields: fields,
		Values: make([]any, len(fields)),
	}
	for i, f := range fields {
		p.Values[i] = r.Value(f)
	}
	return p
}

// Get returns the projected value of f and whether f is part of the
// projection.
func (p Projection) Get(f Field) (any, bool) {
	for i, pf := range p.Fields {
		if pf == f {
			return p.Values[i], true
		}
	}
	return nil, false
}

// MarshalJSON writes an object whose keys follow the projection order.
func (p Projection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(f))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(p.Values[i])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %s: %w", f, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// CSVRow renders the projection as CSV cells. Missing values become empty
// cells.
func (p Projection) CSVRow() []string {
	row := make([]string, len(p.Values))
	for i, v := range p.Values {
		switch v := v.(type) {
		case nil:
			row[i] = ""
		case string:
			row[i] = v
		case int:
			row[i] = strconv.Itoa(v)
		default:
			row[i] = fmt.Sprint(v)
		}
	}
	return row
}

// Names converts fields to their string names, for CSV headers.
func Names(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return names
}
