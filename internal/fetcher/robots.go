package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// robotsTxtPath is the well-known path for robots.txt files.
const robotsTxtPath = "/robots.txt"

// maxRobotsBodyBytes limits the size of robots.txt responses we will read.
const maxRobotsBodyBytes = 512 * 1024 // 512 KB

// ErrRobotsNotFound indicates the host serves no robots.txt (or any non-2xx
// response), which resolves to allow-all at the policy layer.
var ErrRobotsNotFound = errors.New("robots.txt not found")

// RobotsFetcher is the robots-fetch capability: it retrieves the raw
// robots.txt for a host. Implementations must be safe for concurrent use.
type RobotsFetcher interface {
	FetchRobots(ctx context.Context, scheme, host string) ([]byte, error)
}

// HTTPRobotsFetcher implements RobotsFetcher on net/http.
type HTTPRobotsFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPRobotsFetcher creates an HTTPRobotsFetcher.
func NewHTTPRobotsFetcher(client *http.Client, userAgent string) *HTTPRobotsFetcher {
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPRobotsFetcher{
		client:    client,
		userAgent: userAgent,
	}
}

// FetchRobots retrieves robots.txt for the host. A non-2xx response returns
// ErrRobotsNotFound; transport failures return the underlying error.
func (f *HTTPRobotsFetcher) FetchRobots(ctx context.Context, scheme, host string) ([]byte, error) {
	if scheme == "" {
		scheme = "https"
	}

	robotsURL := scheme + "://" + host + robotsTxtPath

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if reqErr != nil {
		return nil, fmt.Errorf("robots: create request: %w", reqErr)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, doErr := f.client.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("robots: fetch: %w", doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("robots: status %d: %w", resp.StatusCode, ErrRobotsNotFound)
	}

	limited := io.LimitReader(resp.Body, maxRobotsBodyBytes)

	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, fmt.Errorf("robots: read body: %w", readErr)
	}

	return body, nil
}
