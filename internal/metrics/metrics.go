// Package metrics provides crawl metrics collection and reporting functionality.
package metrics

import (
	"sync"
	"time"

	"github.com/jonesrussell/sitecrawl/internal/domain"
	"github.com/jonesrussell/sitecrawl/internal/fetcher"
)

// Metrics holds the running counters for a crawl session. All methods are
// safe for concurrent use; the scheduler's result stage is the main writer.
type Metrics struct {
	// StartTime is when the session began.
	StartTime time.Time
	// LastFetchTime is the time of the last completed fetch.
	LastFetchTime time.Time
	// Outcomes tallies completed fetches by kind.
	Outcomes domain.OutcomeCounts
	// Retries is the number of re-attempted fetches.
	Retries int64
	// StorageErrors is the number of persistence failures.
	StorageErrors int64
	// DuplicateBodies is the number of bodies dropped as content duplicates.
	DuplicateBodies int64
	// Discovered is the number of URLs admitted to the frontier.
	Discovered int64
	// PagesPerDomain counts successful pages per registered domain.
	PagesPerDomain map[string]int
	// mu protects concurrent access to metrics.
	mu sync.Mutex
}

// NewMetrics creates a new Metrics instance with default values.
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:      time.Now(),
		PagesPerDomain: make(map[string]int),
	}
}

// GetStartTime returns the time when the session began.
func (m *Metrics) GetStartTime() time.Time {
	return m.StartTime
}

// RecordOutcome tallies a completed fetch by its outcome kind.
func (m *Metrics) RecordOutcome(kind fetcher.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastFetchTime = time.Now()

	switch kind {
	case fetcher.KindSuccess:
		m.Outcomes.Success++
	case fetcher.KindRedirect:
		m.Outcomes.Redirect++
	case fetcher.KindNotModified:
		m.Outcomes.NotModified++
	case fetcher.KindBlocked:
		m.Outcomes.Blocked++
	case fetcher.KindFailed:
		m.Outcomes.Failed++
	}
}

// RecordPage counts a stored page against its domain.
func (m *Metrics) RecordPage(dom string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PagesPerDomain[dom]++
}

// IncrementRetries increments the retry counter.
func (m *Metrics) IncrementRetries() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Retries++
}

// IncrementStorageErrors increments the persistence failure counter.
func (m *Metrics) IncrementStorageErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StorageErrors++
}

// IncrementDuplicateBodies increments the duplicate content counter.
func (m *Metrics) IncrementDuplicateBodies() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicateBodies++
}

// IncrementDiscovered increments the admitted URL counter.
func (m *Metrics) IncrementDiscovered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Discovered++
}

// GetOutcomes returns a copy of the per-kind totals.
func (m *Metrics) GetOutcomes() domain.OutcomeCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Outcomes
}

// GetRetries returns the number of re-attempted fetches.
func (m *Metrics) GetRetries() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Retries
}

// GetLastFetchTime returns the time of the last completed fetch.
func (m *Metrics) GetLastFetchTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastFetchTime
}

// PageCount returns the number of stored pages for a domain.
func (m *Metrics) PageCount(dom string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PagesPerDomain[dom]
}

// Snapshot copies the counters into a session report. Fields outside the
// metrics' scope (seeds, termination, timestamps) are left for the caller.
func (m *Metrics) Snapshot(report *domain.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report.Outcomes = m.Outcomes
	report.Retries = m.Retries
	report.StorageErrors = m.StorageErrors
	report.DuplicateBodies = m.DuplicateBodies
	report.Discovered = m.Discovered

	report.PagesPerDomain = make(map[string]int, len(m.PagesPerDomain))
	for dom, n := range m.PagesPerDomain {
		report.PagesPerDomain[dom] = n
	}
}
