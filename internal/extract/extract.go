// Package extract implements the link-extraction collaborator. The crawl
// core treats the result as an opaque, possibly empty sequence of raw URLs;
// everything here is best-effort and non-fatal.
package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkExtractor extracts candidate raw URLs from a fetched body.
type LinkExtractor interface {
	ExtractLinks(body []byte, contentType string, base *url.URL) []string
}

// HTMLExtractor extracts anchor and asset references from HTML documents.
// Non-HTML content yields no links.
type HTMLExtractor struct{}

// NewHTMLExtractor creates an HTMLExtractor.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

// selectors maps CSS selectors to the attribute holding the reference.
var selectors = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"img[src]", "src"},
	{"link[rel='canonical'][href]", "href"},
}

// ExtractLinks parses HTML and returns every href/src reference found, raw
// and unresolved. Parse failures return nil: a page we cannot parse simply
// contributes no links.
func (e *HTMLExtractor) ExtractLinks(body []byte, contentType string, _ *url.URL) []string {
	if !IsHTML(contentType) || len(body) == 0 {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string

	for _, sel := range selectors {
		doc.Find(sel.selector).Each(func(_ int, s *goquery.Selection) {
			ref, ok := s.Attr(sel.attr)
			if !ok {
				return
			}

			ref = strings.TrimSpace(ref)
			if ref == "" || strings.HasPrefix(ref, "#") {
				return
			}

			links = append(links, ref)
		})
	}

	return links
}

// IsHTML reports whether a Content-Type header denotes an HTML document.
func IsHTML(contentType string) bool {
	ct := strings.ToLower(contentType)

	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}
