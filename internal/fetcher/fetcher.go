// Package fetcher provides the HTTP transport capability consumed by the
// crawl scheduler: page fetches with bounded bodies and conditional headers,
// and robots.txt retrieval. Redirects are never followed here; they surface
// as outcomes so the scheduler owns hop accounting and re-canonicalization.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultMaxBodyBytes limits the size of fetched page responses.
const DefaultMaxBodyBytes = 10 * 1024 * 1024 // 10 MB

// ErrTooManyRedirects is returned when the redirect hop limit is exhausted.
// Callers check with errors.Is.
var ErrTooManyRedirects = errors.New("too many redirects")

// Request describes a single fetch attempt.
type Request struct {
	URL          string
	Headers      http.Header
	Timeout      time.Duration
	MaxRedirects int
}

// Fetcher is the abstract fetch capability. Implementations must be safe for
// concurrent use by multiple workers.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) Outcome
}

// HTTPFetcher implements Fetcher on net/http.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewHTTPFetcher creates an HTTPFetcher. The client's CheckRedirect is
// overridden so redirects are reported, not followed. maxBodyBytes <= 0
// falls back to DefaultMaxBodyBytes.
func NewHTTPFetcher(client *http.Client, userAgent string, maxBodyBytes int64) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}

	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	return &HTTPFetcher{
		client:       client,
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}
}

// Fetch performs one HTTP GET and classifies the response into an Outcome.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) Outcome {
	if req.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if reqErr != nil {
		return Failed(false, fmt.Errorf("create request: %w", reqErr))
	}

	httpReq.Header.Set("User-Agent", f.userAgent)

	for key, vals := range req.Headers {
		for _, val := range vals {
			httpReq.Header.Add(key, val)
		}
	}

	resp, doErr := f.client.Do(httpReq)
	if doErr != nil {
		return Failed(isRetryableTransportError(doErr), fmt.Errorf("http fetch: %w", doErr))
	}
	defer resp.Body.Close()

	return f.classify(req, resp)
}

// classify maps an HTTP response onto the outcome variants.
func (f *HTTPFetcher) classify(req Request, resp *http.Response) Outcome {
	switch {
	case resp.StatusCode == http.StatusNotModified:
		return NotModified(resp.Header)

	case isRedirectStatus(resp.StatusCode):
		location := resp.Header.Get("Location")
		if location == "" {
			return Failed(false, fmt.Errorf("status %d without Location header", resp.StatusCode))
		}

		return Redirect(resp.StatusCode, location, req.MaxRedirects)

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := f.readBody(resp)
		if readErr != nil {
			return Failed(true, fmt.Errorf("read response body: %w", readErr))
		}

		return Success(resp.StatusCode, resp.Header, body, resp.Header.Get("Content-Type"))

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Failed(true, fmt.Errorf("http status %d", resp.StatusCode))

	default:
		// Remaining 4xx: the request is wrong, retrying cannot help.
		return Failed(false, fmt.Errorf("http status %d", resp.StatusCode))
	}
}

// readBody reads at most maxBodyBytes of the response body.
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, f.maxBodyBytes)

	return io.ReadAll(limited)
}

// isRedirectStatus returns true for redirect statuses that carry a Location.
func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// isRetryableTransportError classifies transport errors. Timeouts and reset
// connections are transient; DNS "no such host" is not.
func isRetryableTransportError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Connection refused/reset and similar syscall-level errors are treated
	// as transient: the host exists but is momentarily unhappy.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return strings.Contains(err.Error(), "connection reset")
}
