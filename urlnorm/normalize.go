// Package urlnorm turns raw href values scraped from HTML into absolute,
// percent-encoded URLs that can be requested as-is.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// Errors reported by Normalize. They are always wrapped in an *Error.
var (
	ErrEmpty             = errors.New("empty url")
	ErrRelative          = errors.New("relative url without base")
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrMissingHost       = errors.New("missing host")
)

// Error describes an href that could not be turned into a usable URL.
type Error struct {
	Href string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %q: %v", e.Href, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Normalize resolves href against base and returns an absolute http(s) URL
// whose path and query are percent-encoded. Non-ASCII characters and
// typographic punctuation (e.g. the curly apostrophe in "l’euro") are encoded
// byte by byte as UTF-8, existing %XX escapes are kept as they are, and the
// fragment is dropped. base may be nil when href is already absolute.
//
// Normalize is idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(href string, base *url.URL) (string, error) {
	raw := strings.TrimSpace(href)
	if raw == "" {
		return "", &Error{Href: href, Err: ErrEmpty}
	}

	// Composed and decomposed forms of the same text must map to the same URL
	raw = norm.NFC.String(raw)

	// Make the string safe for url.Parse: encode spaces, non-ASCII bytes and
	// stray percent signs while leaving every URL delimiter in place
	ref, err := url.Parse(escape(raw, isDelimiterSafe))
	if err != nil {
		return "", &Error{Href: href, Err: err}
	}

	var u *url.URL
	switch {
	case ref.IsAbs():
		// Resolving an absolute reference against itself removes dot segments
		u = ref.ResolveReference(ref)
	case base != nil:
		u = base.ResolveReference(ref)
	default:
		return "", &Error{Href: href, Err: ErrRelative}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", &Error{Href: href, Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)}
	}
	if u.Host == "" {
		return "", &Error{Href: href, Err: ErrMissingHost}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	host, err := asciiHost(u)
	if err != nil {
		return "", &Error{Href: href, Err: err}
	}
	b.WriteString(host)
	b.WriteString(escape(u.EscapedPath(), isPathSafe))
	if u.RawQuery != "" || u.ForceQuery {
		b.WriteByte('?')
		b.WriteString(escape(u.RawQuery, isQuerySafe))
	}

	return b.String(), nil
}

// MustParse parses an absolute URL and panics on failure. It is meant for
// compile-time constants such as a site's base URL.
func MustParse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(fmt.Sprintf("urlnorm: invalid url %q: %v", raw, err))
	}
	return u
}

// asciiHost lower-cases the host and converts internationalized names to
// their punycode form.
func asciiHost(u *url.URL) (string, error) {
	host := strings.ToLower(u.Host)
	for i := 0; i < len(host); i++ {
		if host[i] >= utf8.RuneSelf {
			name, err := idna.Lookup.ToASCII(u.Hostname())
			if err != nil {
				return "", fmt.Errorf("invalid host: %w", err)
			}
			if port := u.Port(); port != "" {
				return name + ":" + port, nil
			}
			return name, nil
		}
	}
	return host, nil
}

const upperhex = "0123456789ABCDEF"

// escape percent-encodes every byte of s for which safe returns false. A '%'
// that starts a valid escape sequence is copied unchanged, any other '%' is
// encoded as %25.
func escape(s string, safe func(byte) bool) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			// Keep existing escapes, upper-casing the hex digits
			b.WriteByte('%')
			b.WriteByte(upper(s[i+1]))
			b.WriteByte(upper(s[i+2]))
			i += 2
		case c != '%' && safe(c):
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
		}
	}

	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func upper(c byte) byte {
	if 'a' <= c && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}

// isUnreserved reports the RFC 3986 unreserved characters.
func isUnreserved(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// isDelimiterSafe keeps everything that can structure a URL reference.
func isDelimiterSafe(c byte) bool {
	return isUnreserved(c) || strings.IndexByte(":/?#[]@!$&'()*+,;=", c) >= 0
}

func isPathSafe(c byte) bool {
	return isUnreserved(c) || strings.IndexByte("/:@!$&'()*+,;=", c) >= 0
}

func isQuerySafe(c byte) bool {
	return isUnreserved(c) || strings.IndexByte("/:@!$&'()*+,;=?", c) >= 0
}
