package domain

import "time"

// Termination reasons for a crawl session.
const (
	TerminationCompleted   = "completed"
	TerminationPageBudget  = "page_budget_exhausted"
	TerminationDeadline    = "deadline_reached"
	TerminationStopped     = "stopped"
	TerminationConfigError = "config_error"
)

// OutcomeCounts holds per-outcome totals for a session.
type OutcomeCounts struct {
	Success     int64 `json:"success"`
	Redirect    int64 `json:"redirect"`
	NotModified int64 `json:"not_modified"`
	Blocked     int64 `json:"blocked"`
	Failed      int64 `json:"failed"`
}

// Report is the end-of-run summary for a crawl session. Per-URL failures
// never abort a session; they are tallied here instead.
type Report struct {
	Outcomes        OutcomeCounts  `json:"outcomes"`
	Retries         int64          `json:"retries"`
	StorageErrors   int64          `json:"storage_errors"`
	DuplicateBodies int64          `json:"duplicate_bodies"`
	BlockedDomains  []string       `json:"blocked_domains"`
	PagesPerDomain  map[string]int `json:"pages_per_domain"`
	Seeds           int            `json:"seeds"`
	Discovered      int64          `json:"discovered"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	Termination     string         `json:"termination"`
}

// Duration returns the wall-clock time the session ran.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TotalFetches returns the number of requests that reached the transport,
// including conditional revalidations.
func (r *Report) TotalFetches() int64 {
	return r.Outcomes.Success + r.Outcomes.Redirect + r.Outcomes.NotModified + r.Outcomes.Failed
}
