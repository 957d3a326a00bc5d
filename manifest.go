package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/pgzip"
)

const manifestName = "backup_manifest.json.gz"

// ManifestChanges lists the relative paths stored in an incremental backup,
// as they appear inside the backup directory (compression suffix included
// where compression was applied).
type ManifestChanges struct {
	Modified []string `json:"modified"`
	Added    []string `json:"added"`
	Deleted  []string `json:"deleted"`
}

// Manifest is the incremental backup's index of which paths changed since
// the watermark. Written once, immutable after its write-verify.
type Manifest struct {
	CreatedAt  time.Time       `json:"created_at"`
	BaseBackup string          `json:"base_backup"`
	Changes    ManifestChanges `json:"changes"`
}

// Empty reports whether no change at all is recorded.
func (m *Manifest) Empty() bool {
	return len(m.Changes.Modified)+len(m.Changes.Added)+len(m.Changes.Deleted) == 0
}

// writeManifest publishes the manifest into dir atomically, verified by
// re-parsing it.
func writeManifest(dir string, manifest *Manifest, policy CompressionPolicy) error {
	dest := filepath.Join(dir, manifestName)
	return publishFile(dest, func(tmp string) error {
		file, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("failed to create manifest %s: %w", tmp, err)
		}
		defer file.Close()

		gzipWriter, err := pgzip.NewWriterLevel(file, policy.TextLevel)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if err := json.NewEncoder(gzipWriter).Encode(manifest); err != nil {
			gzipWriter.Close()
			return fmt.Errorf("failed to encode manifest: %w", err)
		}
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to finish manifest compression: %w", err)
		}
		return file.Close()
	}, func(tmp string) error {
		_, err := readManifestFile(tmp)
		return err
	})
}

// readManifest loads the manifest of an incremental backup directory.
func readManifest(dir string) (*Manifest, error) {
	return readManifestFile(filepath.Join(dir, manifestName))
}

func readManifestFile(path string) (*Manifest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	gzipReader, err := pgzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest compression: %w", err)
	}
	defer gzipReader.Close()

	var manifest Manifest
	if err := json.NewDecoder(gzipReader).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.CreatedAt.IsZero() || manifest.BaseBackup == "" {
		return nil, errors.New("invalid manifest structure")
	}
	return &manifest, nil
}
