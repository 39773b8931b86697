// Package storage implements the persistence collaborator: fetched bodies
// are written under an output directory grouped by domain, and a JSON
// manifest maps each canonical URL to its stored artifact's metadata.
// Storage failures never abort a crawl; callers count them in the report.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/sitecrawl/internal/domain"
	"github.com/jonesrussell/sitecrawl/internal/fetcher"
	"github.com/jonesrussell/sitecrawl/internal/seen"
)

// ErrBodyTooLarge is returned when a body exceeds the configured file size cap.
var ErrBodyTooLarge = errors.New("storage: body exceeds max file size")

// Store is the abstract persistence capability consumed by the scheduler.
type Store interface {
	Persist(ctx context.Context, canonicalURL string, outcome fetcher.Outcome, record *domain.UrlRecord) error
	Close() error
}

// ManifestEntry is the persisted record for one stored artifact.
type ManifestEntry struct {
	FilePath       string    `json:"file_path"`
	Hash           string    `json:"hash"`
	ContentType    string    `json:"content_type"`
	Size           int64     `json:"size"`
	FetchedAt      time.Time `json:"fetched_at"`
	Depth          uint      `json:"depth"`
	DiscoveredFrom string    `json:"discovered_from,omitempty"`
}

// FileStore writes bodies to disk and maintains the crawl manifest.
type FileStore struct {
	baseDir      string
	manifestPath string
	maxFileSize  int64

	mu       sync.Mutex
	manifest map[string]ManifestEntry
}

// NewFileStore creates a FileStore rooted at baseDir. The directory is
// created if missing. maxFileSize <= 0 means no cap.
func NewFileStore(baseDir, manifestPath string, maxFileSize int64) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create output dir: %w", err)
	}

	if manifestPath == "" {
		manifestPath = filepath.Join(baseDir, "crawl_manifest.json")
	}

	return &FileStore{
		baseDir:      baseDir,
		manifestPath: manifestPath,
		maxFileSize:  maxFileSize,
		manifest:     make(map[string]ManifestEntry),
	}, nil
}

// Persist stores a successful fetch's body and records it in the manifest.
// Outcomes without a body (redirects, 304s, failures) are manifest-only.
func (s *FileStore) Persist(_ context.Context, canonicalURL string, outcome fetcher.Outcome, record *domain.UrlRecord) error {
	if outcome.Kind != fetcher.KindSuccess {
		return nil
	}

	if s.maxFileSize > 0 && int64(len(outcome.Body)) > s.maxFileSize {
		return fmt.Errorf("%w: %d bytes for %s", ErrBodyTooLarge, len(outcome.Body), canonicalURL)
	}

	relPath, err := artifactPath(canonicalURL, outcome.ContentType)
	if err != nil {
		return fmt.Errorf("storage: derive path for %s: %w", canonicalURL, err)
	}

	fullPath := filepath.Join(s.baseDir, relPath)

	if mkdirErr := os.MkdirAll(filepath.Dir(fullPath), 0o755); mkdirErr != nil {
		return fmt.Errorf("storage: create dir for %s: %w", canonicalURL, mkdirErr)
	}

	if writeErr := os.WriteFile(fullPath, outcome.Body, 0o644); writeErr != nil {
		return fmt.Errorf("storage: write %s: %w", fullPath, writeErr)
	}

	entry := ManifestEntry{
		FilePath:    relPath,
		Hash:        seen.ContentHash(outcome.Body),
		ContentType: outcome.ContentType,
		Size:        int64(len(outcome.Body)),
		FetchedAt:   time.Now(),
		Depth:       record.Depth,
	}

	if record.DiscoveredFrom != nil {
		entry.DiscoveredFrom = *record.DiscoveredFrom
	}

	s.mu.Lock()
	s.manifest[canonicalURL] = entry
	s.mu.Unlock()

	return s.flush()
}

// Manifest returns a copy of the current manifest.
func (s *FileStore) Manifest() map[string]ManifestEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ManifestEntry, len(s.manifest))
	for k, v := range s.manifest {
		out[k] = v
	}

	return out
}

// Close flushes the manifest.
func (s *FileStore) Close() error {
	return s.flush()
}

// flush writes the manifest file atomically (write-then-rename).
func (s *FileStore) flush() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("storage: encode manifest: %w", err)
	}

	tmp := s.manifestPath + ".tmp"

	if writeErr := os.WriteFile(tmp, data, 0o644); writeErr != nil {
		return fmt.Errorf("storage: write manifest: %w", writeErr)
	}

	if renameErr := os.Rename(tmp, s.manifestPath); renameErr != nil {
		return fmt.Errorf("storage: replace manifest: %w", renameErr)
	}

	return nil
}

// extensionByType maps coarse content types to a fallback file extension
// when the URL path carries none.
var extensionByType = []struct {
	substr string
	ext    string
}{
	{"html", ".html"},
	{"pdf", ".pdf"},
	{"image/jpeg", ".jpg"},
	{"image/png", ".png"},
	{"image/gif", ".gif"},
	{"json", ".json"},
	{"xml", ".xml"},
	{"text/plain", ".txt"},
}

// artifactPath derives the on-disk relative path for a canonical URL:
// <domain>/<domain>_<sanitized-path><ext>.
func artifactPath(canonicalURL, contentType string) (string, error) {
	parsed, err := url.Parse(canonicalURL)
	if err != nil || parsed.Hostname() == "" {
		return "", errors.New("unparseable canonical url")
	}

	dom := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	p := strings.Trim(parsed.Path, "/")
	if p == "" {
		p = "index"
	}

	p = sanitize(p)

	if parsed.RawQuery != "" {
		p += "_" + sanitize(parsed.RawQuery)
	}

	if filepath.Ext(p) == "" {
		p += extensionFor(contentType)
	}

	return filepath.Join(dom, dom+"_"+p), nil
}

// sanitize makes a URL fragment filesystem-safe.
func sanitize(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "?", "_", "&", "_", "=", "-", ":", "_")

	return replacer.Replace(s)
}

// extensionFor picks a fallback extension from the content type.
func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)

	for _, m := range extensionByType {
		if strings.Contains(ct, m.substr) {
			return m.ext
		}
	}

	return ".bin"
}
