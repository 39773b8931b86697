// Package canonical normalizes raw URLs into their canonical crawl identity.
// Two raw URLs that normalize identically are the same crawl target; this is
// the foundation of the dedupe contract, so every transformation here must be
// deterministic and free of I/O.
package canonical

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DefaultTrackingParams lists query parameters stripped during
// canonicalization. These are advertising and analytics trackers that do not
// affect page content.
var DefaultTrackingParams = []string{
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_term",
	"utm_content",
	"fbclid",
	"gclid",
	"gclsrc",
	"dclid",
	"msclkid",
}

// DefaultOrderSensitivePatterns match query parameter names whose presence
// marks a URL as order-sensitive (session tokens, signed URLs). When any
// parameter matches, the query string is left in its original order.
var DefaultOrderSensitivePatterns = []string{
	`(?i)^(session|sess|sid|phpsessid|jsessionid)`,
	`(?i)(token|signature|sig|expires|x-amz-)`,
}

// defaultPorts maps schemes to the port implied when none is given.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// ErrMalformedURL is returned for input that cannot be canonicalized.
// Malformed URLs are dropped and logged; they are never fatal.
var ErrMalformedURL = errors.New("malformed url")

// supported schemes; anything else is rejected as uncrawlable.
var crawlableSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
}

// Canonicalizer applies the configured normalization policy.
type Canonicalizer struct {
	trackingParams map[string]struct{}
	orderSensitive []*regexp.Regexp
}

// New creates a Canonicalizer. Empty slices fall back to the defaults.
func New(trackingParams, orderSensitivePatterns []string) (*Canonicalizer, error) {
	if len(trackingParams) == 0 {
		trackingParams = DefaultTrackingParams
	}

	if len(orderSensitivePatterns) == 0 {
		orderSensitivePatterns = DefaultOrderSensitivePatterns
	}

	tracking := make(map[string]struct{}, len(trackingParams))
	for _, p := range trackingParams {
		tracking[strings.ToLower(p)] = struct{}{}
	}

	sensitive := make([]*regexp.Regexp, 0, len(orderSensitivePatterns))

	for _, pattern := range orderSensitivePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("canonical: compile order-sensitive pattern %q: %w", pattern, err)
		}

		sensitive = append(sensitive, re)
	}

	return &Canonicalizer{
		trackingParams: tracking,
		orderSensitive: sensitive,
	}, nil
}

// Canonicalize resolves rawURL against base (nil base means rawURL must be
// absolute) and returns its canonical form. The result is a fixed point:
// canonicalizing an already-canonical URL returns it unchanged.
func (c *Canonicalizer) Canonicalize(rawURL string, base *url.URL) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("canonical: empty input: %w", ErrMalformedURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("canonical: parse %q: %w", rawURL, ErrMalformedURL)
	}

	if base != nil {
		parsed = base.ResolveReference(parsed)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if _, ok := crawlableSchemes[parsed.Scheme]; !ok {
		return "", fmt.Errorf("canonical: scheme %q in %q: %w", parsed.Scheme, rawURL, ErrMalformedURL)
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("canonical: missing host in %q: %w", rawURL, ErrMalformedURL)
	}

	parsed.Host = normalizeHost(parsed)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.User = nil
	parsed.Path = normalizePath(parsed.Path)
	parsed.RawPath = ""
	parsed.RawQuery = c.normalizeQuery(parsed)

	return parsed.String(), nil
}

// Domain returns the lowercased hostname (without port) of a canonical URL.
func Domain(canonicalURL string) (string, error) {
	parsed, err := url.Parse(canonicalURL)
	if err != nil || parsed.Hostname() == "" {
		return "", fmt.Errorf("canonical: extract domain from %q: %w", canonicalURL, ErrMalformedURL)
	}

	return strings.ToLower(parsed.Hostname()), nil
}

// RegisteredDomain returns the eTLD+1 for a host (e.g. "news.example.co.uk"
// -> "example.co.uk"). Hosts without a registrable suffix (IP addresses,
// localhost, test domains) fall back to the host itself.
func RegisteredDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))

	if net.ParseIP(host) != nil {
		return host
	}

	base, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil || base == "" {
		return host
	}

	return base
}

// normalizeHost lowercases the hostname and strips the scheme's default port.
func normalizeHost(u *url.URL) string {
	hostname := strings.ToLower(u.Hostname())
	port := u.Port()

	if port == "" || port == defaultPorts[u.Scheme] {
		return hostname
	}

	return hostname + ":" + port
}

// normalizePath collapses dot-segments and trims trailing slashes while
// preserving the root "/". An empty path becomes "/" so that
// "https://a.test" and "https://a.test/" share one identity.
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}

	cleaned := path.Clean(p)
	if cleaned == "/" {
		return "/"
	}

	return strings.TrimRight(cleaned, "/")
}

// normalizeQuery strips tracking parameters and sorts the remainder, unless
// any remaining parameter name matches an order-sensitive pattern, in which
// case the original (tracking-stripped) order is preserved.
func (c *Canonicalizer) normalizeQuery(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}

	values := u.Query()

	keys := make([]string, 0, len(values))

	for key := range values {
		if _, isTracking := c.trackingParams[strings.ToLower(key)]; isTracking {
			delete(values, key)
			continue
		}

		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return ""
	}

	if c.anyOrderSensitive(keys) {
		return encodeInOriginalOrder(u.RawQuery, values)
	}

	sort.Strings(keys)

	return encodeKeys(keys, values)
}

// anyOrderSensitive reports whether any parameter name matches an
// order-sensitive pattern.
func (c *Canonicalizer) anyOrderSensitive(keys []string) bool {
	for _, key := range keys {
		for _, re := range c.orderSensitive {
			if re.MatchString(key) {
				return true
			}
		}
	}

	return false
}

// encodeInOriginalOrder re-encodes the query preserving the raw parameter
// order, skipping parameters that were stripped as trackers.
func encodeInOriginalOrder(rawQuery string, kept url.Values) string {
	var b strings.Builder

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}

		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}

		decoded, err := url.QueryUnescape(name)
		if err != nil {
			decoded = name
		}

		if _, ok := kept[decoded]; !ok {
			continue
		}

		if b.Len() > 0 {
			b.WriteByte('&')
		}

		b.WriteString(pair)
	}

	return b.String()
}

// encodeKeys encodes the given keys in order, repeating multi-valued keys.
func encodeKeys(keys []string, values url.Values) string {
	var b strings.Builder

	for _, key := range keys {
		for _, val := range values[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}

			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}

	return b.String()
}
