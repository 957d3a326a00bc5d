package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// ChangeDetector walks the source tree and collects every file whose last
// modified time exceeds the watermark into an incremental backup staging
// directory, preserving relative paths. Files are individually compressed
// through the same policy and atomic publish path used for full backups.
//
// The filesystem walk cannot distinguish added from modified files, so every
// change lands in the modified bucket; deletions are not detected and the
// deleted bucket stays empty.
type ChangeDetector struct {
	Root    string
	Exclude ExclusionSet
	Policy  CompressionPolicy
}

// Collect changed files into stagingDir and return the manifest describing
// them. Returns ErrNoChanges when nothing qualified; the caller must not
// publish a backup in that case.
func (d *ChangeDetector) Collect(ctx context.Context, since time.Time, stagingDir string) (*Manifest, error) {
	manifest := &Manifest{
		CreatedAt:  time.Now().UTC(),
		BaseBackup: since.UTC().Format(time.RFC3339),
		Changes: ManifestChanges{
			Modified: []string{},
			Added:    []string{},
			Deleted:  []string{},
		},
	}

	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Warnf("skipping %s: %v", path, err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if path != d.Root && (d.Exclude.MatchName(entry.Name()) || d.Exclude.MatchPath(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Exclude.MatchName(entry.Name()) || d.Exclude.MatchPath(path) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			log.Warnf("failed to stat %s: %v", path, err)
			return nil
		}
		if !info.Mode().IsRegular() || !info.ModTime().After(since) {
			return nil
		}

		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path of %s: %w", path, err)
		}

		stored, err := stageChangedFile(d.Policy, path, stagingDir, rel)
		if err != nil {
			return artifactError(rel, err)
		}
		manifest.Changes.Modified = append(manifest.Changes.Modified, filepath.ToSlash(stored))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if manifest.Empty() {
		return nil, ErrNoChanges
	}
	return manifest, nil
}

// stageChangedFile copies one changed file into the staging directory,
// compressed where worthwhile. Returns the relative path it was stored
// under (compression suffix included where applied).
func stageChangedFile(policy CompressionPolicy, src, stagingDir, rel string) (string, error) {
	if shouldCompress(src) {
		info, err := os.Stat(src)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", src, err)
		}
		suffix := policy.Select(info.Size(), classifyFile(src)).Suffix()
		stored := rel + suffix

		selection, err := compressFile(policy, src, filepath.Join(stagingDir, stored))
		if err != nil {
			return "", err
		}
		log.Debugf("-> %s (%s level %d)", stored, selection.Algorithm, selection.Level)
		return stored, nil
	}

	// binary files are copied as-is, still atomically
	dest := filepath.Join(stagingDir, rel)
	err := publishFile(dest, func(tmp string) error {
		return copyFile(src, tmp)
	}, nil)
	if err != nil {
		return "", err
	}
	log.Debugf("-> %s (stored)", rel)
	return rel, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
