package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeDetectorCollect(t *testing.T) {
	root := t.TempDir()
	writeSourceTree(t, root, map[string]string{
		"changed.go":     "package changed",
		"docs/notes.md":  "changed text",
		"unchanged.go":   "package unchanged",
		".git/config":    "ignored",
		"cache/blob.pyc": "ignored",
	})

	watermark := time.Now().Add(-time.Hour)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "unchanged.go"), past, past))
	require.NoError(t, os.Chtimes(filepath.Join(root, ".git", "config"), time.Now(), time.Now()))

	detector := &ChangeDetector{
		Root:    root,
		Exclude: DefaultExclusions(),
		Policy:  DefaultCompressionPolicy(),
	}

	staging := t.TempDir()
	manifest, err := detector.Collect(context.Background(), watermark, staging)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"changed.go.gz", "docs/notes.md.gz"}, manifest.Changes.Modified)
	assert.Empty(t, manifest.Changes.Added)
	assert.Empty(t, manifest.Changes.Deleted)
	assert.Equal(t, watermark.UTC().Format(time.RFC3339), manifest.BaseBackup)

	// every listed path exists inside the staging directory
	for _, rel := range manifest.Changes.Modified {
		info, err := os.Stat(filepath.Join(staging, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestChangeDetectorNoChanges(t *testing.T) {
	root := t.TempDir()
	writeSourceTree(t, root, map[string]string{"app.go": "package app"})

	detector := &ChangeDetector{
		Root:    root,
		Exclude: DefaultExclusions(),
		Policy:  DefaultCompressionPolicy(),
	}

	staging := t.TempDir()
	_, err := detector.Collect(context.Background(), time.Now().Add(time.Hour), staging)
	require.ErrorIs(t, err, ErrNoChanges)

	assertDirEmpty(t, staging)
}

func TestChangeDetectorBinaryStoredUncompressed(t *testing.T) {
	root := t.TempDir()
	binary := filepath.Join(root, "blob.bin")
	require.NoError(t, os.WriteFile(binary, []byte{0x00, 0x01, 0x02}, 0o644))

	detector := &ChangeDetector{
		Root:    root,
		Exclude: DefaultExclusions(),
		Policy:  DefaultCompressionPolicy(),
	}

	staging := t.TempDir()
	manifest, err := detector.Collect(context.Background(), time.Now().Add(-time.Hour), staging)
	require.NoError(t, err)

	require.Equal(t, []string{"blob.bin"}, manifest.Changes.Modified)
	raw, err := os.ReadFile(filepath.Join(staging, "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, raw)
}

func TestChangeDetectorLargeFileGetsZstd(t *testing.T) {
	root := t.TempDir()
	large := filepath.Join(root, "big.txt")
	require.NoError(t, os.WriteFile(large, make([]byte, 4096), 0o644))

	policy := DefaultCompressionPolicy()
	policy.LargeFileThreshold = 1024

	detector := &ChangeDetector{
		Root:    root,
		Exclude: DefaultExclusions(),
		Policy:  policy,
	}

	staging := t.TempDir()
	manifest, err := detector.Collect(context.Background(), time.Now().Add(-time.Hour), staging)
	require.NoError(t, err)

	require.Equal(t, []string{"big.txt.zst"}, manifest.Changes.Modified)
	_, err = os.Stat(filepath.Join(staging, "big.txt.zst"))
	require.NoError(t, err)
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	manifest := &Manifest{
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		BaseBackup: "2024-05-17T09:30:00Z",
		Changes: ManifestChanges{
			Modified: []string{"a.go.gz", "b/c.md.gz"},
			Added:    []string{},
			Deleted:  []string{},
		},
	}

	require.NoError(t, writeManifest(dir, manifest, DefaultCompressionPolicy()))

	loaded, err := readManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, manifest.BaseBackup, loaded.BaseBackup)
	assert.Equal(t, manifest.Changes, loaded.Changes)
	assert.True(t, manifest.CreatedAt.Equal(loaded.CreatedAt))
}

func TestReadManifestRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	manifest := &Manifest{} // missing created_at and base_backup

	err := writeManifest(dir, manifest, DefaultCompressionPolicy())
	require.Error(t, err)

	assertDirEmpty(t, dir)
}
