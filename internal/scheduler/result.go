package scheduler

import (
	"context"
	"net/url"
	"time"

	"github.com/jonesrussell/sitecrawl/internal/canonical"
	"github.com/jonesrussell/sitecrawl/internal/domain"
	"github.com/jonesrussell/sitecrawl/internal/extract"
	"github.com/jonesrussell/sitecrawl/internal/fetcher"
	"github.com/jonesrussell/sitecrawl/internal/frontier"
	"github.com/jonesrussell/sitecrawl/internal/robots"
	"github.com/jonesrussell/sitecrawl/internal/seen"
)

// handleResult folds one fetch outcome into crawl state. Runs only on the
// run loop goroutine; this is the serialization point for every frontier,
// seen-registry, and budget mutation.
func (s *Scheduler) handleResult(ctx context.Context, r result) {
	record := r.entry.Record

	switch r.outcome.Kind {
	case fetcher.KindSuccess:
		s.handleSuccess(ctx, r)
	case fetcher.KindNotModified:
		s.metrics.RecordOutcome(fetcher.KindNotModified)

		if s.cfg.CountNotModified {
			s.budgets.Consume(record.Domain)
		}

		s.log.Debug("page unchanged", "url", record.CanonicalURL)
	case fetcher.KindRedirect:
		s.handleRedirect(r)
	case fetcher.KindBlocked:
		s.metrics.RecordOutcome(fetcher.KindBlocked)
		s.log.Debug("fetch blocked by policy",
			"url", record.CanonicalURL,
			"reason", r.outcome.Reason,
		)
	case fetcher.KindFailed:
		s.handleFailed(ctx, r)
	}
}

// handleSuccess charges the budget, stores the body unless its content was
// already seen, and admits the page's outbound links at depth+1.
func (s *Scheduler) handleSuccess(ctx context.Context, r result) {
	record := r.entry.Record
	outcome := r.outcome

	s.metrics.RecordOutcome(fetcher.KindSuccess)
	s.budgets.Consume(record.Domain)
	s.metrics.RecordPage(record.Domain)
	s.recordValidators(record.CanonicalURL, outcome)

	if !s.seen.MarkContentIfNew(seen.ContentHash(outcome.Body)) {
		// Same bytes under a different URL: count it, skip the store.
		s.metrics.IncrementDuplicateBodies()
		s.log.Debug("duplicate body", "url", record.CanonicalURL)
	} else if s.store != nil {
		if err := s.store.Persist(ctx, record.CanonicalURL, outcome, record); err != nil {
			s.metrics.IncrementStorageErrors()
			s.log.Error("persist failed", "url", record.CanonicalURL, "error", err)
		}
	}

	s.log.WithDomain(record.Domain).WithURL(record.CanonicalURL).WithDepth(record.Depth).
		Info("page fetched", "status", outcome.Status)

	s.discoverLinks(record, outcome)
}

// discoverLinks canonicalizes a page's outbound links and admits them.
func (s *Scheduler) discoverLinks(record *domain.UrlRecord, outcome fetcher.Outcome) {
	if record.Depth >= s.cfg.MaxDepth || !extract.IsHTML(outcome.ContentType) {
		return
	}

	base, err := url.Parse(record.CanonicalURL)
	if err != nil {
		return
	}

	for _, raw := range s.extractor.ExtractLinks(outcome.Body, outcome.ContentType, base) {
		canon, canonErr := s.canon.Canonicalize(raw, base)
		if canonErr != nil {
			s.log.Debug("uncrawlable link", "raw", raw, "error", canonErr)
			continue
		}

		s.admit(domainRecordFor(record, raw, canon), s.cfg.RedirectHopLimit)
	}
}

// handleRedirect admits the redirect target at the origin's depth, spending
// one redirect hop. An exhausted hop budget ends the chain.
func (s *Scheduler) handleRedirect(r result) {
	record := r.entry.Record

	s.metrics.RecordOutcome(fetcher.KindRedirect)

	hops := r.entry.HopsRemaining - 1
	if hops < 0 {
		s.log.WithURL(record.CanonicalURL).WithError(fetcher.ErrTooManyRedirects).
			Warn("redirect chain dropped")
		return
	}

	base, err := url.Parse(record.CanonicalURL)
	if err != nil {
		return
	}

	canon, canonErr := s.canon.Canonicalize(r.outcome.Location, base)
	if canonErr != nil {
		s.log.Warn("unusable redirect target",
			"url", record.CanonicalURL,
			"location", r.outcome.Location,
			"error", canonErr,
		)

		return
	}

	host, hostErr := canonical.Domain(canon)
	if hostErr != nil {
		return
	}

	target := domain.NewRedirectRecord(record, r.outcome.Location, canon, canonical.RegisteredDomain(host))
	s.admit(target, hops)
}

// handleFailed either schedules a retry with exponential backoff or records
// a terminal failure once the attempt budget is spent.
func (s *Scheduler) handleFailed(ctx context.Context, r result) {
	record := r.entry.Record
	attempts := r.entry.Attempts + 1

	if r.outcome.Retryable && attempts < s.cfg.MaxRetryAttempts && ctx.Err() == nil {
		r.entry.Attempts = attempts
		delay := s.retryDelay(attempts)

		s.frontier.Requeue(r.entry, time.Now().Add(delay))
		s.metrics.IncrementRetries()
		s.log.WithURL(record.CanonicalURL).WithAttempt(attempts).WithError(r.outcome.Cause).
			Warn("fetch failed, retrying", "retry_in", delay)

		return
	}

	s.metrics.RecordOutcome(fetcher.KindFailed)
	s.log.WithURL(record.CanonicalURL).WithAttempt(attempts).WithError(r.outcome.Cause).
		Error("fetch failed")
}

// admit gates a record on policy and pushes it into the frontier.
func (s *Scheduler) admit(record *domain.UrlRecord, hops int) {
	if record == nil {
		return
	}

	if decision, reason := s.policy.Check(record.CanonicalURL); decision == robots.Disallowed {
		s.log.Debug("link refused by policy", "url", record.CanonicalURL, "reason", reason)
		return
	}

	if _, reject := s.frontier.Push(record, hops); reject != frontier.RejectNone {
		s.log.Debug("link not admitted", "url", record.CanonicalURL, "reason", reject.String())
		return
	}

	s.metrics.IncrementDiscovered()
}

// recordValidators keeps a page's cache validators for later conditional
// refetches.
func (s *Scheduler) recordValidators(canonicalURL string, outcome fetcher.Outcome) {
	if outcome.Headers == nil {
		return
	}

	etag := outcome.Headers.Get("ETag")
	lastModified := outcome.Headers.Get("Last-Modified")

	if etag == "" && lastModified == "" {
		return
	}

	s.validators[canonicalURL] = validator{etag: etag, lastModified: lastModified}
}

// domainRecordFor builds a child record, or nil when the canonical URL's
// host cannot be determined.
func domainRecordFor(parent *domain.UrlRecord, rawURL, canonicalURL string) *domain.UrlRecord {
	host, err := canonical.Domain(canonicalURL)
	if err != nil {
		return nil
	}

	return domain.NewChildRecord(parent, rawURL, canonicalURL, canonical.RegisteredDomain(host))
}
