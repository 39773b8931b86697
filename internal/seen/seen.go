// Package seen provides the session-wide dedupe registry: a membership set
// over canonical URLs and a second set over content hashes. Entries are never
// removed during a session; the crawl is a DAG traversal, not a cache.
package seen

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Registry is the URL-level and content-level dedupe gate. Both marks are
// atomic check-and-inserts, safe under concurrent callers.
type Registry struct {
	mu     sync.Mutex
	urls   map[string]struct{}
	hashes map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		urls:   make(map[string]struct{}),
		hashes: make(map[string]struct{}),
	}
}

// MarkIfNew records the canonical URL and reports whether this call was the
// first to see it. This is the sole URL-level dedupe gate for the session:
// exactly one caller observes true per URL.
func (r *Registry) MarkIfNew(canonicalURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.urls[canonicalURL]; ok {
		return false
	}

	r.urls[canonicalURL] = struct{}{}

	return true
}

// Contains reports whether the canonical URL has been marked.
func (r *Registry) Contains(canonicalURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.urls[canonicalURL]

	return ok
}

// MarkContentIfNew records a content hash and reports whether it was new.
// Used after a fetch to suppress storing byte-identical bodies reached via
// different URLs; the page still participates in link discovery.
func (r *Registry) MarkContentIfNew(hash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hashes[hash]; ok {
		return false
	}

	r.hashes[hash] = struct{}{}

	return true
}

// Len returns the number of canonical URLs marked so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.urls)
}

// ContentHash returns the hex-encoded SHA-256 of a response body.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)

	return hex.EncodeToString(sum[:])
}
