package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonesrussell/sitecrawl/internal/fetcher"
)

const testUserAgent = "sitecrawl-test/1.0"

func newTestFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(&http.Client{}, testUserAgent, 0)
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != testUserAgent {
			t.Errorf("User-Agent = %q, want %q", got, testUserAgent)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer server.Close()

	outcome := newTestFetcher().Fetch(context.Background(), fetcher.Request{URL: server.URL + "/page"})

	if outcome.Kind != fetcher.KindSuccess {
		t.Fatalf("Kind = %v, want success (cause: %v)", outcome.Kind, outcome.Cause)
	}

	if outcome.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", outcome.Status)
	}

	if !strings.Contains(string(outcome.Body), "hello") {
		t.Errorf("Body = %q, want it to contain %q", outcome.Body, "hello")
	}

	if !strings.HasPrefix(outcome.ContentType, "text/html") {
		t.Errorf("ContentType = %q, want text/html prefix", outcome.ContentType)
	}
}

func TestFetch_RedirectNotFollowed(t *testing.T) {
	t.Parallel()

	var hits int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++

		http.Redirect(w, r, "/target", http.StatusMovedPermanently)
	}))
	defer server.Close()

	outcome := newTestFetcher().Fetch(context.Background(), fetcher.Request{
		URL:          server.URL + "/old",
		MaxRedirects: 5,
	})

	if outcome.Kind != fetcher.KindRedirect {
		t.Fatalf("Kind = %v, want redirect", outcome.Kind)
	}

	if outcome.Location != "/target" {
		t.Errorf("Location = %q, want /target", outcome.Location)
	}

	if outcome.RemainingHops != 5 {
		t.Errorf("RemainingHops = %d, want 5", outcome.RemainingHops)
	}

	if hits != 1 {
		t.Errorf("server hit %d times, want 1 (fetcher must not follow redirects)", hits)
	}
}

func TestFetch_NotModified(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("body"))
	}))
	defer server.Close()

	headers := http.Header{}
	headers.Set("If-None-Match", `"v1"`)

	outcome := newTestFetcher().Fetch(context.Background(), fetcher.Request{
		URL:     server.URL + "/page",
		Headers: headers,
	})

	if outcome.Kind != fetcher.KindNotModified {
		t.Fatalf("Kind = %v, want not_modified", outcome.Kind)
	}
}

func TestFetch_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		wantKind      fetcher.Kind
		wantRetryable bool
	}{
		{"server error is retryable", http.StatusServiceUnavailable, fetcher.KindFailed, true},
		{"bad gateway is retryable", http.StatusBadGateway, fetcher.KindFailed, true},
		{"too many requests is retryable", http.StatusTooManyRequests, fetcher.KindFailed, true},
		{"not found is terminal", http.StatusNotFound, fetcher.KindFailed, false},
		{"forbidden is terminal", http.StatusForbidden, fetcher.KindFailed, false},
		{"gone is terminal", http.StatusGone, fetcher.KindFailed, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			outcome := newTestFetcher().Fetch(context.Background(), fetcher.Request{URL: server.URL})

			if outcome.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", outcome.Kind, tt.wantKind)
			}

			if outcome.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", outcome.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestFetch_BodyLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	f := fetcher.NewHTTPFetcher(&http.Client{}, testUserAgent, 1024)

	outcome := f.Fetch(context.Background(), fetcher.Request{URL: server.URL})

	if outcome.Kind != fetcher.KindSuccess {
		t.Fatalf("Kind = %v, want success", outcome.Kind)
	}

	if len(outcome.Body) != 1024 {
		t.Errorf("Body length = %d, want capped at 1024", len(outcome.Body))
	}
}

func TestFetch_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	}))
	defer server.Close()

	outcome := newTestFetcher().Fetch(context.Background(), fetcher.Request{
		URL:     server.URL,
		Timeout: 20 * time.Millisecond,
	})

	if outcome.Kind != fetcher.KindFailed {
		t.Fatalf("Kind = %v, want failed", outcome.Kind)
	}

	if !outcome.Retryable {
		t.Error("timeouts should be retryable")
	}
}

func TestFetchRobots(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			t.Errorf("path = %q, want /robots.txt", r.URL.Path)
		}

		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer server.Close()

	rf := fetcher.NewHTTPRobotsFetcher(&http.Client{}, testUserAgent)

	host := strings.TrimPrefix(server.URL, "http://")

	body, err := rf.FetchRobots(context.Background(), "http", host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(string(body), "Disallow: /private/") {
		t.Errorf("body = %q, want robots rules", body)
	}
}

func TestFetchRobots_NotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	rf := fetcher.NewHTTPRobotsFetcher(&http.Client{}, testUserAgent)

	host := strings.TrimPrefix(server.URL, "http://")

	_, err := rf.FetchRobots(context.Background(), "http", host)
	if err == nil {
		t.Fatal("expected error for 404 robots.txt")
	}
}
