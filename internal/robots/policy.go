// Package robots implements the crawl policy gate: the configured domain
// allowlist, URL exclusion patterns, and per-host robots.txt rules with a
// TTL cache. Until a host's robots.txt is resolved, requests for that host
// are held rather than allowed, so no URL can race past policy.
package robots

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/jonesrussell/sitecrawl/internal/fetcher"
)

// Default cache TTL for robots.txt entries.
const DefaultCacheTTL = 24 * time.Hour

// Decision is the policy verdict for a URL.
type Decision int

const (
	// Allowed means the URL may be fetched.
	Allowed Decision = iota
	// Disallowed means the URL must never reach the transport.
	Disallowed
	// PendingFetch means the host's robots.txt is not resolved yet; the
	// request is held, neither allowed nor denied.
	PendingFetch
)

// String returns the decision as a log-friendly label.
func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Disallowed:
		return "disallowed"
	case PendingFetch:
		return "pending_fetch"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// Block reasons reported with Disallowed decisions.
const (
	ReasonDomainNotAllowed = "domain_not_allowed"
	ReasonExcludedPattern  = "excluded_pattern"
	ReasonRobotsDisallowed = "robots_disallowed"
	ReasonRobotsMalformed  = "robots_malformed"
)

// ErrNotAllowlisted is returned for hosts outside the configured allowlist.
var ErrNotAllowlisted = errors.New("domain not in allowlist")

// Store caches per-host robots rules and answers allow/deny decisions.
type Store struct {
	robotsFetcher fetcher.RobotsFetcher
	userAgent     string
	cacheTTL      time.Duration

	allowedDomains []string
	excludePattern []*regexp.Regexp

	mu      sync.Mutex
	entries map[string]*hostEntry // keyed by host
	blocked map[string]struct{}   // domains refused entirely by policy
}

// hostEntry is the cached robots state for one host. While resolved is nil
// and done is open, a fetch is in flight and callers wait on done.
type hostEntry struct {
	done      chan struct{}
	rules     *robotstxt.RobotsData
	allowAll  bool
	denyAll   bool
	fetchedAt time.Time
}

// Config configures a Store.
type Config struct {
	RobotsFetcher      fetcher.RobotsFetcher
	UserAgent          string
	CacheTTL           time.Duration
	AllowedDomains     []string
	ExcludeURLPatterns []string
}

// NewStore creates a policy store. AllowedDomains must be non-empty; an
// empty allowlist would deny everything, which is a configuration error
// surfaced before any fetch begins.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.AllowedDomains) == 0 {
		return nil, errors.New("robots: no allowed domains configured")
	}

	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	allowed := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		allowed = append(allowed, strings.ToLower(strings.TrimSpace(d)))
	}

	exclude := make([]*regexp.Regexp, 0, len(cfg.ExcludeURLPatterns))

	for _, pattern := range cfg.ExcludeURLPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("robots: compile exclude pattern %q: %w", pattern, err)
		}

		exclude = append(exclude, re)
	}

	return &Store{
		robotsFetcher:  cfg.RobotsFetcher,
		userAgent:      cfg.UserAgent,
		cacheTTL:       cfg.CacheTTL,
		allowedDomains: allowed,
		excludePattern: exclude,
		entries:        make(map[string]*hostEntry),
		blocked:        make(map[string]struct{}),
	}, nil
}

// Check returns the current decision for a canonical URL without blocking.
// If the host's robots.txt has not been fetched (or the cache is stale), the
// decision is PendingFetch and no fetch is started.
func (s *Store) Check(canonicalURL string) (Decision, string) {
	parsed, host, deny := s.gate(canonicalURL)
	if deny != "" {
		return Disallowed, deny
	}

	s.mu.Lock()
	entry, ok := s.entries[host]
	s.mu.Unlock()

	if !ok || !entry.resolved() || entry.stale(s.cacheTTL) {
		return PendingFetch, ""
	}

	return entry.test(parsed.Path, s.userAgent)
}

// Resolve returns the final decision for a canonical URL, fetching the
// host's robots.txt first if needed. Concurrent callers for one host share a
// single in-flight fetch and all wait for it; this is the PendingFetch hold.
func (s *Store) Resolve(ctx context.Context, canonicalURL string) (Decision, string, error) {
	parsed, host, deny := s.gate(canonicalURL)
	if deny != "" {
		return Disallowed, deny, nil
	}

	entry, err := s.resolveHost(ctx, parsed.Scheme, host)
	if err != nil {
		return PendingFetch, "", err
	}

	decision, reason := entry.test(parsed.Path, s.userAgent)
	if decision == Disallowed && reason == ReasonRobotsMalformed {
		s.markBlocked(host)
	}

	return decision, reason, nil
}

// CrawlDelay returns the robots-declared crawl delay for the host, or zero
// when none is declared or robots.txt is unresolved.
func (s *Store) CrawlDelay(host string) time.Duration {
	s.mu.Lock()
	entry, ok := s.entries[strings.ToLower(host)]
	s.mu.Unlock()

	if !ok || !entry.resolved() || entry.rules == nil {
		return 0
	}

	group := entry.rules.FindGroup(s.userAgent)
	if group == nil {
		return 0
	}

	return group.CrawlDelay
}

// BlockedDomains returns the sorted set of domains refused entirely by
// policy during the session, for the end-of-run report.
func (s *Store) BlockedDomains() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.blocked))
	for d := range s.blocked {
		out = append(out, d)
	}

	sort.Strings(out)

	return out
}

// gate applies the checks that need no robots.txt: URL shape, allowlist
// membership, and exclusion patterns. A non-empty reason means Disallowed.
func (s *Store) gate(canonicalURL string) (parsed *url.URL, host, denyReason string) {
	parsed, err := url.Parse(canonicalURL)
	if err != nil || parsed.Host == "" {
		return nil, "", ReasonExcludedPattern
	}

	// The robots cache key keeps the port so non-default ports fetch their
	// own robots.txt; the allowlist matches on the bare hostname.
	host = strings.ToLower(parsed.Host)

	hostname := strings.ToLower(parsed.Hostname())
	if !s.domainAllowed(hostname) {
		s.markBlocked(hostname)
		return parsed, host, ReasonDomainNotAllowed
	}

	for _, re := range s.excludePattern {
		if re.MatchString(canonicalURL) {
			return parsed, host, ReasonExcludedPattern
		}
	}

	return parsed, host, ""
}

// domainAllowed reports whether host is one of, or a subdomain of, the
// allowlisted domains.
func (s *Store) domainAllowed(host string) bool {
	for _, allowed := range s.allowedDomains {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}

	return false
}

// markBlocked records a domain as refused entirely by policy.
func (s *Store) markBlocked(host string) {
	s.mu.Lock()
	s.blocked[host] = struct{}{}
	s.mu.Unlock()
}

// resolveHost returns a resolved cache entry for the host, fetching
// robots.txt at most once per TTL window regardless of caller count.
func (s *Store) resolveHost(ctx context.Context, scheme, host string) (*hostEntry, error) {
	for {
		s.mu.Lock()

		entry, ok := s.entries[host]

		switch {
		case ok && entry.resolved() && !entry.stale(s.cacheTTL):
			s.mu.Unlock()
			return entry, nil

		case ok && !entry.resolved():
			// A fetch is in flight; wait for it.
			s.mu.Unlock()

			select {
			case <-entry.done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			// Absent or stale: this caller performs the fetch.
			entry = &hostEntry{done: make(chan struct{})}
			s.entries[host] = entry
			s.mu.Unlock()

			s.fetchInto(ctx, entry, scheme, host)

			return entry, nil
		}
	}
}

// fetchInto performs the robots.txt retrieval and fills the entry.
// Fetch failures (404, timeout) resolve to allow-all; a robots.txt that
// fails to parse resolves to deny-all (fail closed).
func (s *Store) fetchInto(ctx context.Context, entry *hostEntry, scheme, host string) {
	defer close(entry.done)

	body, fetchErr := s.robotsFetcher.FetchRobots(ctx, scheme, host)

	entry.fetchedAt = time.Now()

	if fetchErr != nil {
		entry.allowAll = true
		return
	}

	rules, parseErr := robotstxt.FromBytes(body)
	if parseErr != nil {
		entry.denyAll = true
		return
	}

	entry.rules = rules
}

// resolved reports whether the entry's fetch has completed.
func (e *hostEntry) resolved() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// stale reports whether the entry has outlived the cache TTL.
func (e *hostEntry) stale(ttl time.Duration) bool {
	return time.Since(e.fetchedAt) > ttl
}

// test evaluates the cached rules for a path. Longest-matching-prefix and
// Allow-over-Disallow tie-breaking follow standard robots exclusion
// semantics as implemented by temoto/robotstxt.
func (e *hostEntry) test(path, userAgent string) (Decision, string) {
	switch {
	case e.allowAll:
		return Allowed, ""
	case e.denyAll:
		return Disallowed, ReasonRobotsMalformed
	case e.rules.TestAgent(path, userAgent):
		return Allowed, ""
	default:
		return Disallowed, ReasonRobotsDisallowed
	}
}
