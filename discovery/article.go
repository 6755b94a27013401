package discovery

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/nicodelhay/my-scraper-api/article"
	"github.com/nicodelhay/my-scraper-api/scraper"
	"github.com/nicodelhay/my-scraper-api/urlnorm"
	"golang.org/x/net/html"
)

// Meta tags that may carry the publication date, in lookup order.
var metaDateSelectors = []string{
	"meta[property='article:published_time']",
	"meta[name='article:published_time']",
	"meta[name='pubdate']",
	"meta[name='date']",
	"meta[itemprop='datePublished']",
}

// Meta tags that may carry the title when no heading is present.
var metaTitleSelectors = []string{
	"meta[property='og:title']",
	"meta[name='twitter:title']",
}

var (
	bylineRe   = regexp.MustCompile(`(?i)^\s*By\s+([^–—\-]+)\s+[–—\-]\s*`)
	textDateRe = regexp.MustCompile(`\b(\d{1,2}\s+[A-Za-z]{3,9}\s+\d{4})\b`)
)

// bylineWidth is how many runes of the opening text are searched for the
// byline.
const bylineWidth = 300

// ParseArticle extracts a record from an article page. Only the article
// container is required; every other field is nil when its marker is
// missing. A page without the container is reported as a *ParseError.
func ParseArticle(body, pageURL string, cfg scraper.ArticleConfig) (*article.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: pageURL, Kind: KindArticle, Reason: "invalid HTML", Err: err}
	}

	if doc.Find(cfg.ContainerSelector).Length() == 0 {
		return nil, &ParseError{
			URL:    pageURL,
			Kind:   KindArticle,
			Reason: fmt.Sprintf("no element matches %q", cfg.ContainerSelector),
		}
	}

	// Body paragraphs decide text, lede, author and location
	paragraphs := extractParagraphs(doc, cfg.BodySelectors)
	record := article.NewRecord(pageURL, strings.Join(paragraphs, "\n\n"))

	record.Title = extractTitle(doc, cfg.TitleSelector)
	record.Published = extractPublished(doc, cfg.DateSelector)

	lede := firstMeaningful(paragraphs, cfg.MinLedeLength)
	record.Lede = article.StringPtr(lede)

	head := lede
	if len(paragraphs) > 1 {
		head += " " + paragraphs[1]
	}
	author, location := extractByline(head, cfg.SiteTag)
	record.Author = article.StringPtr(author)
	record.Location = article.StringPtr(location)

	// Hero image and caption
	if cfg.ImageSelector != "" {
		if src, ok := doc.Find(cfg.ImageSelector).First().Attr("src"); ok {
			if base, err := url.Parse(pageURL); err == nil {
				if image, err := urlnorm.Normalize(src, base); err == nil {
					record.Image = &image
				}
			}
		}
	}
	if cfg.CaptionSelector != "" {
		if caption := doc.Find(cfg.CaptionSelector).First(); caption.Length() > 0 {
			record.Caption = article.StringPtr(clean(nodeText(caption)))
		}
	}

	return record, nil
}

// extractTitle tries each heading selector in priority order, then the
// social meta tags, then <title>.
func extractTitle(doc *goquery.Document, selectors string) *string {
	for _, sel := range splitSelectors(selectors) {
		if title := clean(nodeText(doc.Find(sel).First())); title != "" {
			return &title
		}
	}

	for _, sel := range metaTitleSelectors {
		content, _ := doc.Find(sel).First().Attr("content")
		if title := clean(content); title != "" {
			return &title
		}
	}

	return article.StringPtr(clean(doc.Find("title").First().Text()))
}

// extractPublished looks at meta tags, then the visible dateline, then any
// "D Month YYYY" in the page text. Unparseable candidates are skipped.
func extractPublished(doc *goquery.Document, dateSelector string) *time.Time {
	for _, sel := range metaDateSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		content, ok := node.Attr("content")
		if !ok {
			content, _ = node.Attr("value")
		}
		if t := parseDate(content); t != nil {
			return t
		}
	}

	if dateSelector != "" {
		if t := parseDate(clean(nodeText(doc.Find(dateSelector).First()))); t != nil {
			return t
		}
	}

	if m := textDateRe.FindStringSubmatch(clean(nodeText(doc.Selection))); m != nil {
		return parseDate(m[1])
	}
	return nil
}

// minPublished is the earliest publication date accepted.
var minPublished = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// parseDate accepts the formats dateparse knows. Dates without a zone are
// taken as UTC. Dates before 1990 or more than a day in the future are
// treated as unparseable.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	if t.Before(minPublished) || t.After(time.Now().Add(24*time.Hour)) {
		return nil
	}
	return &t
}

// extractParagraphs returns the cleaned, non-empty paragraphs of the first
// selector that matches any, falling back to every <p> in the document.
func extractParagraphs(doc *goquery.Document, selectors []string) []string {
	collect := func(s *goquery.Selection) []string {
		var out []string
		s.Each(func(i int, p *goquery.Selection) {
			if text := clean(nodeText(p)); text != "" {
				out = append(out, text)
			}
		})
		return out
	}

	for _, sel := range selectors {
		if matched := doc.Find(sel); matched.Length() > 0 {
			return collect(matched)
		}
	}
	return collect(doc.Find("p"))
}

// firstMeaningful returns the first paragraph of at least minLen characters,
// else the first paragraph.
func firstMeaningful(paragraphs []string, minLen int) string {
	for _, p := range paragraphs {
		if utf8.RuneCountInString(p) >= minLen {
			return p
		}
	}
	if len(paragraphs) > 0 {
		return paragraphs[0]
	}
	return ""
}

// extractByline reads "By <Author> – <CITY> (<tag>) –" from the start of
// text. The location is only looked for when an author was found.
func extractByline(text, siteTag string) (string, string) {
	head := truncateRunes(text, bylineWidth)

	m := bylineRe.FindStringSubmatch(head)
	if m == nil {
		return "", ""
	}
	author := clean(m[1])

	if siteTag == "" {
		return author, ""
	}
	locationRe, err := regexp.Compile(`[–—\-]\s*([A-Za-zÀ-ÖØ-öø-ÿ.\s]+?)\s*\(` + regexp.QuoteMeta(siteTag) + `\)\s*[–—\-]`)
	if err != nil {
		return author, ""
	}
	if lm := locationRe.FindStringSubmatch(head); lm != nil {
		return author, clean(lm[1])
	}
	return author, ""
}

// nodeText joins the trimmed text nodes under s with single spaces, so
// adjacent inline elements do not run words together.
func nodeText(s *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// clean collapses whitespace, including non-breaking spaces, and trims.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func splitSelectors(selectors string) []string {
	var out []string
	for part := range strings.SplitSeq(selectors, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
