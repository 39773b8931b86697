// Package domain defines the shared crawl data model: URL records and the
// end-of-run report.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// UrlRecord represents a discovered URL. Records are immutable once created;
// identity is CanonicalURL. Seed records have Depth 0 and a nil
// DiscoveredFrom; every other record has Depth = parent depth + 1.
type UrlRecord struct {
	ID             string    `json:"id"`
	RawURL         string    `json:"raw_url"`
	CanonicalURL   string    `json:"canonical_url"`
	Domain         string    `json:"domain"`
	Depth          uint      `json:"depth"`
	DiscoveredFrom *string   `json:"discovered_from,omitempty"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

// NewSeedRecord creates a depth-0 record for a seed URL.
func NewSeedRecord(rawURL, canonicalURL, dom string) *UrlRecord {
	return &UrlRecord{
		ID:           uuid.NewString(),
		RawURL:       rawURL,
		CanonicalURL: canonicalURL,
		Domain:       dom,
		Depth:        0,
		DiscoveredAt: time.Now(),
	}
}

// NewChildRecord creates a record for a URL discovered on a parent page.
// The child's depth is parent.Depth + 1.
func NewChildRecord(parent *UrlRecord, rawURL, canonicalURL, dom string) *UrlRecord {
	from := parent.CanonicalURL

	return &UrlRecord{
		ID:             uuid.NewString(),
		RawURL:         rawURL,
		CanonicalURL:   canonicalURL,
		Domain:         dom,
		Depth:          parent.Depth + 1,
		DiscoveredFrom: &from,
		DiscoveredAt:   time.Now(),
	}
}

// NewRedirectRecord creates a record for a redirect target. The target keeps
// the depth of the URL that redirected: following a redirect is not a
// traversal step.
func NewRedirectRecord(origin *UrlRecord, rawURL, canonicalURL, dom string) *UrlRecord {
	from := origin.CanonicalURL

	return &UrlRecord{
		ID:             uuid.NewString(),
		RawURL:         rawURL,
		CanonicalURL:   canonicalURL,
		Domain:         dom,
		Depth:          origin.Depth,
		DiscoveredFrom: &from,
		DiscoveredAt:   time.Now(),
	}
}
