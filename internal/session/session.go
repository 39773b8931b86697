// Package session assembles a complete crawl from configuration: it wires
// the canonicalizer, policy store, rate governor, fetcher, storage, and
// scheduler together, runs the crawl under the wall-clock deadline, and
// produces the end-of-run report.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonesrussell/sitecrawl/internal/canonical"
	"github.com/jonesrussell/sitecrawl/internal/config"
	"github.com/jonesrussell/sitecrawl/internal/domain"
	"github.com/jonesrussell/sitecrawl/internal/extract"
	"github.com/jonesrussell/sitecrawl/internal/fetcher"
	"github.com/jonesrussell/sitecrawl/internal/logger"
	"github.com/jonesrussell/sitecrawl/internal/metrics"
	"github.com/jonesrussell/sitecrawl/internal/ratelimit"
	"github.com/jonesrussell/sitecrawl/internal/robots"
	"github.com/jonesrussell/sitecrawl/internal/scheduler"
	"github.com/jonesrussell/sitecrawl/internal/seen"
	"github.com/jonesrussell/sitecrawl/internal/storage"
)

// Session is a single crawl run. Create one per crawl; sessions are not
// reusable after Run returns.
type Session struct {
	cfg *config.Config
	log logger.Interface

	sched   *scheduler.Scheduler
	policy  *robots.Store
	store   storage.Store
	metrics *metrics.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// Option overrides a collaborator, mainly for tests.
type Option func(*deps)

// deps are the replaceable collaborators.
type deps struct {
	fetcher       fetcher.Fetcher
	robotsFetcher fetcher.RobotsFetcher
	store         storage.Store
}

// WithFetcher substitutes the page fetch capability.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(d *deps) { d.fetcher = f }
}

// WithRobotsFetcher substitutes the robots fetch capability.
func WithRobotsFetcher(f fetcher.RobotsFetcher) Option {
	return func(d *deps) { d.robotsFetcher = f }
}

// WithStore substitutes the persistence layer.
func WithStore(s storage.Store) Option {
	return func(d *deps) { d.store = s }
}

// New validates the configuration and wires a session. A configuration error
// is returned before any network activity.
func New(cfg *config.Config, log logger.Interface, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if log == nil {
		log = logger.NewNoOp()
	}

	crawl := &cfg.Crawler

	var d deps
	for _, opt := range opts {
		opt(&d)
	}

	if d.fetcher == nil || d.robotsFetcher == nil {
		client := &http.Client{Timeout: crawl.RequestTimeout}

		if d.fetcher == nil {
			d.fetcher = fetcher.NewHTTPFetcher(client, crawl.UserAgent, crawl.MaxBodySize)
		}

		if d.robotsFetcher == nil {
			d.robotsFetcher = fetcher.NewHTTPRobotsFetcher(&http.Client{Timeout: crawl.RequestTimeout}, crawl.UserAgent)
		}
	}

	canon, err := canonical.New(crawl.TrackingParams, crawl.OrderSensitivePatterns)
	if err != nil {
		return nil, fmt.Errorf("session: canonicalizer: %w", err)
	}

	policy, err := robots.NewStore(robots.Config{
		RobotsFetcher:      d.robotsFetcher,
		UserAgent:          crawl.UserAgent,
		CacheTTL:           crawl.RobotsCacheTTL,
		AllowedDomains:     crawl.AllowedDomains,
		ExcludeURLPatterns: crawl.ExcludeURLPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("session: policy store: %w", err)
	}

	governor := ratelimit.NewGovernor(ratelimit.Config{
		Delay:             crawl.DelayBetweenRequests,
		JitterMin:         crawl.JitterMin,
		JitterMax:         crawl.JitterMax,
		GlobalConcurrency: int64(crawl.ConcurrentRequests),
		DomainConcurrency: int64(crawl.ConcurrentRequestsPerDomain),
	})

	if d.store == nil && cfg.Storage.Enabled {
		maxFileSize := int64(cfg.Storage.MaxFileSizeMB) * 1024 * 1024

		fileStore, storeErr := storage.NewFileStore(cfg.Storage.OutputDir, cfg.Storage.ManifestFile, maxFileSize)
		if storeErr != nil {
			return nil, fmt.Errorf("session: storage: %w", storeErr)
		}

		d.store = fileStore
	}

	mode, err := crawl.Mode()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	m := metrics.NewMetrics()

	sched := scheduler.New(scheduler.Config{
		Mode:              mode,
		MaxDepth:          crawl.DepthCap(),
		MaxPagesPerDomain: crawl.MaxPagesPerDomain,
		MaxPagesTotal:     crawl.MaxPagesTotal,
		Workers:           crawl.ConcurrentRequests,
		RequestTimeout:    crawl.RequestTimeout,
		MaxRetryAttempts:  crawl.MaxRetryAttempts,
		RedirectHopLimit:  crawl.RedirectHopLimit,
		CountNotModified:  crawl.CountNotModified,
	}, scheduler.Deps{
		Canonicalizer: canon,
		Seen:          seen.NewRegistry(),
		Policy:        policy,
		Governor:      governor,
		Fetcher:       d.fetcher,
		Extractor:     extract.NewHTMLExtractor(),
		Store:         d.store,
		Metrics:       m,
		Logger:        log,
	})

	return &Session{
		cfg:     cfg,
		log:     log.WithComponent("session"),
		sched:   sched,
		policy:  policy,
		store:   d.store,
		metrics: m,
	}, nil
}

// Run executes the crawl and always returns a report. Per-URL failures never
// surface as errors here; they are tallied in the report. When no seed at
// all is admitted the crawl cannot start: the report carries the
// config-error termination and Run also returns an error.
func (s *Session) Run(ctx context.Context) (*domain.Report, error) {
	startedAt := time.Now()

	seeded := 0

	for _, seedURL := range s.cfg.Crawler.Seeds {
		if err := s.sched.Seed(seedURL); err != nil {
			s.log.Warn("seed rejected", "url", seedURL, "error", err)
			continue
		}

		seeded++
	}

	if seeded == 0 {
		report := &domain.Report{
			StartedAt:      startedAt,
			FinishedAt:     time.Now(),
			Termination:    domain.TerminationConfigError,
			BlockedDomains: s.policy.BlockedDomains(),
		}
		s.metrics.Snapshot(report)
		s.log.Error("no seed was admitted, nothing to crawl")

		return report, errors.New("no usable seed URL")
	}

	runCtx, cancel := s.armCancel(ctx)
	defer cancel()

	s.log.Info("crawl starting",
		"seeds", seeded,
		"mode", s.cfg.Crawler.TraversalMode,
		"workers", s.cfg.Crawler.ConcurrentRequests,
	)

	termination := s.sched.Run(runCtx)

	report := &domain.Report{
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
		Termination:    termination,
		Seeds:          seeded,
		BlockedDomains: s.policy.BlockedDomains(),
	}
	s.metrics.Snapshot(report)

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Error("closing store", "error", err)
			report.StorageErrors++
		}
	}

	s.log.WithDuration(report.Duration()).Info("crawl finished",
		"termination", report.Termination,
		"pages", report.Outcomes.Success,
		"failed", report.Outcomes.Failed,
	)

	return report, nil
}

// Stop cancels the run; in-flight fetches finish or time out, nothing new is
// dispatched. Safe to call from any goroutine, including before Run.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	if s.cancel != nil {
		s.cancel()
	}
}

// armCancel derives the run context, applying the wall-clock deadline and
// publishing the cancel func for Stop.
func (s *Session) armCancel(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc

	if timeout := s.cfg.Crawler.WallClockTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	s.mu.Lock()
	s.cancel = cancel

	if s.stopped {
		cancel()
	}
	s.mu.Unlock()

	return ctx, cancel
}
