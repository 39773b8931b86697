package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/sitecrawl/internal/domain"
	"github.com/jonesrussell/sitecrawl/internal/fetcher"
	"github.com/jonesrussell/sitecrawl/internal/storage"
)

func successOutcome(body []byte, contentType string) fetcher.Outcome {
	return fetcher.Success(200, nil, body, contentType)
}

func TestPersist_WritesBodyAndManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	store, err := storage.NewFileStore(dir, "", 0)
	require.NoError(t, err)

	rec := domain.NewSeedRecord("https://example.com/docs/guide", "https://example.com/docs/guide", "example.com")
	outcome := successOutcome([]byte("<html>guide</html>"), "text/html; charset=utf-8")

	require.NoError(t, store.Persist(context.Background(), rec.CanonicalURL, outcome, rec))

	manifest := store.Manifest()
	require.Len(t, manifest, 1)

	entry, ok := manifest["https://example.com/docs/guide"]
	require.True(t, ok)
	assert.Equal(t, int64(18), entry.Size)
	assert.NotEmpty(t, entry.Hash)
	assert.Equal(t, uint(0), entry.Depth)

	body, err := os.ReadFile(filepath.Join(dir, entry.FilePath))
	require.NoError(t, err)
	assert.Equal(t, "<html>guide</html>", string(body))

	// File lives under a per-domain directory.
	assert.Equal(t, "example.com", filepath.Dir(entry.FilePath))
}

func TestPersist_ManifestFileOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	store, err := storage.NewFileStore(dir, "", 0)
	require.NoError(t, err)

	rec := domain.NewSeedRecord("https://example.com/", "https://example.com/", "example.com")
	require.NoError(t, store.Persist(context.Background(), rec.CanonicalURL, successOutcome([]byte("home"), "text/html"), rec))
	require.NoError(t, store.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "crawl_manifest.json"))
	require.NoError(t, err)

	var decoded map[string]storage.ManifestEntry
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "https://example.com/")
}

func TestPersist_SkipsNonSuccess(t *testing.T) {
	t.Parallel()

	store, err := storage.NewFileStore(t.TempDir(), "", 0)
	require.NoError(t, err)

	rec := domain.NewSeedRecord("https://example.com/a", "https://example.com/a", "example.com")

	require.NoError(t, store.Persist(context.Background(), rec.CanonicalURL, fetcher.NotModified(nil), rec))
	assert.Empty(t, store.Manifest())
}

func TestPersist_BodyTooLarge(t *testing.T) {
	t.Parallel()

	store, err := storage.NewFileStore(t.TempDir(), "", 8)
	require.NoError(t, err)

	rec := domain.NewSeedRecord("https://example.com/big", "https://example.com/big", "example.com")
	err = store.Persist(context.Background(), rec.CanonicalURL, successOutcome([]byte("0123456789"), "text/html"), rec)

	require.ErrorIs(t, err, storage.ErrBodyTooLarge)
	assert.Empty(t, store.Manifest())
}

func TestPersist_ExtensionFromContentType(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	store, err := storage.NewFileStore(dir, "", 0)
	require.NoError(t, err)

	rec := domain.NewSeedRecord("https://example.com/report", "https://example.com/report", "example.com")
	require.NoError(t, store.Persist(context.Background(), rec.CanonicalURL, successOutcome([]byte("%PDF-1.7"), "application/pdf"), rec))

	entry := store.Manifest()["https://example.com/report"]
	assert.Equal(t, ".pdf", filepath.Ext(entry.FilePath))
}
