package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetentionPolicy for one backup class.
type RetentionPolicy struct {
	MaxBackups    int
	RetentionDays int
}

type backupEntry struct {
	Path    string
	ModTime time.Time
}

// enforceRetention applies the count-then-age eviction policy to one backup
// class directory. Ordering is driven by directory modification time, not by
// backup internal metadata, so retention survives metadata corruption. The
// count limit is enforced first so the age check can never resurrect a
// backup the count limit already removed.
//
// A failure to remove one backup is logged and does not abort evicting the
// others.
func enforceRetention(classDir string, policy RetentionPolicy) error {
	backups, err := listBackups(classDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	// newest first
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime.After(backups[j].ModTime)
	})

	if len(backups) > policy.MaxBackups {
		for _, backup := range backups[policy.MaxBackups:] {
			removeBackup(backup.Path, "max backups limit")
		}
		backups = backups[:policy.MaxBackups]
	}

	cutoff := time.Now().AddDate(0, 0, -policy.RetentionDays)
	for _, backup := range backups {
		if backup.ModTime.Before(cutoff) {
			removeBackup(backup.Path, "retention period")
		}
	}

	remaining, err := listBackups(classDir)
	if err == nil {
		log.Infof("retention applied to %s, %d backups remaining", classDir, len(remaining))
	}
	return nil
}

// listBackups returns all backup directories of a class with their
// modification times. Staging directories are not backups.
func listBackups(classDir string) ([]backupEntry, error) {
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", classDir, err)
	}

	var backups []backupEntry
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "temp_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Warnf("failed to stat backup %s: %v", entry.Name(), err)
			continue
		}
		backups = append(backups, backupEntry{
			Path:    filepath.Join(classDir, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	return backups, nil
}

func removeBackup(path, reason string) {
	if err := os.RemoveAll(path); err != nil {
		log.Errorf("failed to remove backup %s: %v", path, err)
		return
	}
	log.Infof("removed backup %s (%s)", path, reason)
}
