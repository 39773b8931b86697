// Package scheduler drives a crawl session: it pops admissible URLs from the
// frontier, hands them to a bounded worker pool for fetching, and folds raw
// fetch outcomes back into frontier, seen-registry, and budget state.
//
// Concurrency model: fetches run on the worker pool, but every mutation of
// the frontier, the budgets, and link discovery happens on the single run
// loop goroutine. Workers only sleep, gate on robots, and fetch.
package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jonesrussell/sitecrawl/internal/canonical"
	"github.com/jonesrussell/sitecrawl/internal/domain"
	"github.com/jonesrussell/sitecrawl/internal/extract"
	"github.com/jonesrussell/sitecrawl/internal/fetcher"
	"github.com/jonesrussell/sitecrawl/internal/frontier"
	"github.com/jonesrussell/sitecrawl/internal/logger"
	"github.com/jonesrussell/sitecrawl/internal/metrics"
	"github.com/jonesrussell/sitecrawl/internal/ratelimit"
	"github.com/jonesrussell/sitecrawl/internal/robots"
	"github.com/jonesrussell/sitecrawl/internal/seen"
	"github.com/jonesrussell/sitecrawl/internal/storage"
)

// Default retry timings, used when the config leaves them zero.
const (
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultRetryMaxDelay  = 30 * time.Second
)

// Config holds the scheduler's tunables.
type Config struct {
	// Mode selects the traversal order.
	Mode frontier.Mode
	// MaxDepth caps admitted depth for the selected mode.
	MaxDepth uint
	// MaxPagesPerDomain caps pages per registered domain. Zero means no cap.
	MaxPagesPerDomain int
	// MaxPagesTotal caps pages across the session. Zero means no cap.
	MaxPagesTotal int64
	// Workers is the fetch worker pool size.
	Workers int
	// RequestTimeout bounds each fetch attempt.
	RequestTimeout time.Duration
	// MaxRetryAttempts is the total number of attempts per URL, the first
	// fetch included.
	MaxRetryAttempts int
	// RetryBaseDelay and RetryMaxDelay bound the exponential retry backoff.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// RedirectHopLimit is the redirect budget given to each admitted URL.
	RedirectHopLimit int
	// CountNotModified charges 304 revalidations against the page budget.
	CountNotModified bool
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Canonicalizer *canonical.Canonicalizer
	Seen          *seen.Registry
	Policy        *robots.Store
	Governor      *ratelimit.Governor
	Fetcher       fetcher.Fetcher
	Extractor     extract.LinkExtractor
	Store         storage.Store
	Metrics       *metrics.Metrics
	Logger        logger.Interface
}

// validator holds the cache validators from a prior fetch of a URL.
type validator struct {
	etag         string
	lastModified string
}

// task is one fetch handed to a worker.
type task struct {
	entry   *frontier.Entry
	admitAt time.Time
	headers http.Header
}

// result is a completed fetch posted back to the run loop.
type result struct {
	entry   *frontier.Entry
	outcome fetcher.Outcome
}

// Scheduler owns the dispatch loop and the serialized result stage.
type Scheduler struct {
	cfg Config

	canon     *canonical.Canonicalizer
	seen      *seen.Registry
	policy    *robots.Store
	governor  *ratelimit.Governor
	fetcher   fetcher.Fetcher
	extractor extract.LinkExtractor
	store     storage.Store
	metrics   *metrics.Metrics
	log       logger.Interface

	frontier   *frontier.Frontier
	budgets    *budgets
	validators map[string]validator

	tasks   chan task
	results chan result
}

// New creates a Scheduler. Zero Workers defaults to 1; zero retry timings
// pick the package defaults.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 1
	}

	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}

	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}

	if deps.Logger == nil {
		deps.Logger = logger.NewNoOp()
	}

	s := &Scheduler{
		cfg:        cfg,
		canon:      deps.Canonicalizer,
		seen:       deps.Seen,
		policy:     deps.Policy,
		governor:   deps.Governor,
		fetcher:    deps.Fetcher,
		extractor:  deps.Extractor,
		store:      deps.Store,
		metrics:    deps.Metrics,
		log:        deps.Logger.WithComponent("scheduler"),
		budgets:    newBudgets(cfg.MaxPagesPerDomain, cfg.MaxPagesTotal),
		validators: make(map[string]validator),
		tasks:      make(chan task, cfg.Workers),
		results:    make(chan result, cfg.Workers),
	}

	s.frontier = frontier.New(cfg.Mode, cfg.MaxDepth, deps.Seen, s.budgets, deps.Governor)

	return s
}

// Seed admits a starting URL at depth 0. Seeds refused by policy return an
// error; duplicate seeds are silently skipped.
func (s *Scheduler) Seed(rawURL string) error {
	canon, err := s.canon.Canonicalize(rawURL, nil)
	if err != nil {
		return fmt.Errorf("canonicalize seed %q: %w", rawURL, err)
	}

	host, err := canonical.Domain(canon)
	if err != nil {
		return fmt.Errorf("seed %q: %w", rawURL, err)
	}

	if decision, reason := s.policy.Check(canon); decision == robots.Disallowed {
		return fmt.Errorf("seed %q refused by policy: %s", rawURL, reason)
	}

	record := domain.NewSeedRecord(rawURL, canon, canonical.RegisteredDomain(host))

	if _, reject := s.frontier.Push(record, s.cfg.RedirectHopLimit); reject != frontier.RejectNone {
		s.log.Debug("seed skipped", "url", rawURL, "reason", reject.String())
		return nil
	}

	s.metrics.IncrementDiscovered()

	return nil
}

// SeedValidator primes the cache validators for a URL, typically from a
// previous session's manifest, so its first fetch can be conditional.
func (s *Scheduler) SeedValidator(canonicalURL, etag, lastModified string) {
	if etag == "" && lastModified == "" {
		return
	}

	s.validators[canonicalURL] = validator{etag: etag, lastModified: lastModified}
}

// DroppedBudget returns the count of queued URLs dropped because their
// domain's budget ran out before dispatch.
func (s *Scheduler) DroppedBudget() int64 {
	return s.frontier.DroppedBudget()
}

// Run drives the crawl until the frontier drains, the session page budget is
// spent, or ctx ends. It returns the termination reason for the report.
func (s *Scheduler) Run(ctx context.Context) string {
	for i := 0; i < s.cfg.Workers; i++ {
		go s.worker(ctx)
	}
	defer close(s.tasks)

	inflight := 0
	ctxDone := ctx.Done()

	for {
		if ctx.Err() == nil {
			inflight += s.dispatch(inflight)
		}

		if inflight == 0 {
			switch {
			case ctx.Err() != nil:
				if ctx.Err() == context.DeadlineExceeded {
					return domain.TerminationDeadline
				}
				return domain.TerminationStopped
			case s.budgets.TotalExhausted():
				return domain.TerminationPageBudget
			case s.frontier.Len() == 0:
				return domain.TerminationCompleted
			}
		}

		var timer *time.Timer

		var timerC <-chan time.Time

		if inflight == 0 {
			// Nothing in flight and nothing ready: sleep until the
			// earliest retry hold or pacing window opens.
			wake := s.frontier.NextWakeAt(time.Now())
			timer = time.NewTimer(max(time.Until(wake), 0))
			timerC = timer.C
		}

		select {
		case r := <-s.results:
			inflight--
			s.governor.Release(r.entry.Record.Domain)
			s.handleResult(ctx, r)
		case <-timerC:
		case <-ctxDone:
			// Stop dispatching; remaining results still drain above.
			ctxDone = nil
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// dispatch pops every currently admissible entry, claims its in-flight
// slots, and hands it to the pool. Returns how many fetches were launched.
// Launches are capped at the pool size so task and result channel sends
// never block the loop.
func (s *Scheduler) dispatch(inflight int) int {
	launched := 0

	for inflight+launched < s.cfg.Workers {
		if s.budgets.TotalExhausted() {
			break
		}

		now := time.Now()

		entry := s.frontier.PopReady(now)
		if entry == nil {
			break
		}

		if !s.governor.TryAcquire(entry.Record.Domain) {
			// Global pool saturated; a completion will wake us.
			s.frontier.Requeue(entry, now)
			break
		}

		if entry.Attempts == 0 {
			s.seen.MarkIfNew(entry.Record.CanonicalURL)
		}

		admitAt := s.governor.Admit(entry.Record.Domain)

		s.tasks <- task{
			entry:   entry,
			admitAt: admitAt,
			headers: s.conditionalHeaders(entry.Record.CanonicalURL),
		}

		launched++
	}

	return launched
}

// worker fetches tasks until the task channel closes. Workers touch no
// frontier or budget state; outcomes go back through the results channel.
func (s *Scheduler) worker(ctx context.Context) {
	for t := range s.tasks {
		s.results <- result{entry: t.entry, outcome: s.fetchOne(ctx, t)}
	}
}

// fetchOne waits out the admit time, runs the robots gate, and fetches.
func (s *Scheduler) fetchOne(ctx context.Context, t task) fetcher.Outcome {
	if wait := time.Until(t.admitAt); wait > 0 {
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fetcher.Failed(false, ctx.Err())
		}
	}

	targetURL := t.entry.Record.CanonicalURL

	decision, reason, err := s.policy.Resolve(ctx, targetURL)
	if err != nil {
		return fetcher.Failed(false, fmt.Errorf("resolve robots: %w", err))
	}

	if decision != robots.Allowed {
		return fetcher.Blocked(reason)
	}

	// Robots may declare a crawl delay stricter than the configured one.
	if parsed, parseErr := url.Parse(targetURL); parseErr == nil {
		if delay := s.policy.CrawlDelay(parsed.Host); delay > 0 {
			s.governor.SetMinInterval(t.entry.Record.Domain, delay)
		}
	}

	return s.fetcher.Fetch(ctx, fetcher.Request{
		URL:          targetURL,
		Headers:      t.headers,
		Timeout:      s.cfg.RequestTimeout,
		MaxRedirects: t.entry.HopsRemaining,
	})
}

// conditionalHeaders builds If-None-Match / If-Modified-Since headers when a
// prior fetch of the URL left validators behind.
func (s *Scheduler) conditionalHeaders(canonicalURL string) http.Header {
	v, ok := s.validators[canonicalURL]
	if !ok {
		return nil
	}

	headers := http.Header{}

	if v.etag != "" {
		headers.Set("If-None-Match", v.etag)
	}

	if v.lastModified != "" {
		headers.Set("If-Modified-Since", v.lastModified)
	}

	return headers
}

// retryDelay computes the backoff hold before retry number attempt (1-based).
func (s *Scheduler) retryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryBaseDelay
	policy.MaxInterval = s.cfg.RetryMaxDelay
	policy.MaxElapsedTime = 0

	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}

	return delay
}
