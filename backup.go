package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const (
	fullBackupDirName  = "full_backups"
	incrementalDirName = "incremental"

	classFull        = "full"
	classIncremental = "incremental"

	timestampLayout = "20060102_150405"
)

// BackupService orchestrates full and incremental backups: it composes the
// snapshot serializer, tree archiver and change detector into one atomically
// published backup directory, gates publication on verification and enforces
// retention afterwards.
//
// Backup runs of the same class must not execute concurrently against the
// same storage root; the cron schedule and the CLI both serialize at the
// call site. Verification of published backups is safe to run in parallel.
type BackupService struct {
	Config  BackupConfig
	Policy  CompressionPolicy
	Exclude ExclusionSet
	Store   Store
	State   *StateManager

	Verifier Verifier

	Cron             *cron.Cron
	fullEntry        cron.EntryID
	incrementalEntry cron.EntryID
}

// NewBackupService wires the orchestrator from an immutable configuration.
func NewBackupService(config BackupConfig, store Store) *BackupService {
	exclude := DefaultExclusions().
		WithPatterns(config.extraExcludePatterns()).
		WithPath(config.Storage)

	policy := DefaultCompressionPolicy()
	policy.LargeFileThreshold = int64(config.LargeFileThresholdMB) * 1024 * 1024

	return &BackupService{
		Config:  config,
		Policy:  policy,
		Exclude: exclude,
		Store:   store,
		State:   NewStateManager(config.Storage),
	}
}

// Prepare the backup directory structure and the persisted state.
func (s *BackupService) Prepare() error {
	for _, dir := range []string{
		s.Config.Storage,
		filepath.Join(s.Config.Storage, fullBackupDirName),
		filepath.Join(s.Config.Storage, incrementalDirName),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create backup dir %s: %w", dir, err)
		}
	}
	return s.State.Load()
}

// FullBackup creates a complete backup: data snapshot plus tree archive,
// staged in a temporary directory, verified, then renamed into place. On any
// failure the staging directory is removed and no backup is visible.
func (s *BackupService) FullBackup(ctx context.Context) (string, error) {
	if err := s.preflight(ctx); err != nil {
		return "", err
	}

	timestamp := time.Now().Format(timestampLayout)
	classDir := filepath.Join(s.Config.Storage, fullBackupDirName)
	stagingDir := filepath.Join(classDir, "temp_"+timestamp)
	backupDir := filepath.Join(classDir, timestamp)

	log.Infof("create full backup %s ...", timestamp)

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", envError("failed to create staging dir: %w", err)
	}
	published := false
	defer func() {
		if !published {
			if err := os.RemoveAll(stagingDir); err != nil {
				log.Errorf("failed to clean up staging dir %s: %v", stagingDir, err)
			}
		}
	}()

	// database snapshot
	log.Info("> dump database")
	serializer := &SnapshotSerializer{
		Store:     s.Store,
		BatchSize: s.Config.BatchSize,
		Policy:    s.Policy,
	}
	tables, err := serializer.Write(ctx, dataSnapshotPath(stagingDir))
	if err != nil {
		return "", artifactError(dataSnapshotName, err)
	}

	// source tree archive
	log.Info("> archive source tree")
	archiver := &TreeArchiver{
		Root:    s.Config.SourceDir,
		Exclude: s.Exclude,
		Policy:  s.Policy,
	}
	fileCount, err := archiver.Create(ctx, filepath.Join(stagingDir, treeArchiveName))
	if err != nil {
		return "", artifactError(treeArchiveName, err)
	}

	// metadata document
	err = writeMeta(stagingDir, &BackupMeta{
		Version:      1,
		Date:         time.Now().UTC(),
		DataSnapshot: filepath.Join(databaseDirName, dataSnapshotName),
		TreeArchive:  treeArchiveName,
		TableCount:   len(tables),
		FileCount:    fileCount,
	})
	if err != nil {
		return "", artifactError(metaName, err)
	}

	// verification gate before publish
	ok, report := s.Verifier.VerifyFull(stagingDir, nil, tables)
	if !ok {
		return "", fmt.Errorf("backup verification failed: %s", strings.Join(report.Errors, "; "))
	}

	if err := os.Rename(stagingDir, backupDir); err != nil {
		return "", fmt.Errorf("failed to publish backup: %w", err)
	}
	published = true

	if err := s.State.Record(classFull, backupDir, tables); err != nil {
		log.Errorf("failed to persist backup state: %v", err)
	}
	s.enforceRetention()

	log.Infof("full backup finished: %d tables, %d files, %.1f%% archive compression, %.2f MB total",
		report.TableCount, report.FileCount, report.CompressionRatio,
		float64(report.TotalSizeBytes)/(1024*1024))
	return backupDir, nil
}

// IncrementalBackup collects every file changed since the watermark into a
// new incremental backup. Returns ErrNoChanges (and creates nothing) when no
// file was touched. Falls back to a full backup when no watermark exists.
func (s *BackupService) IncrementalBackup(ctx context.Context) (string, error) {
	watermark, ok := s.State.Watermark()
	if !ok {
		log.Warn("no previous backup found, creating full backup instead")
		return s.FullBackup(ctx)
	}

	if err := s.checkStorage(); err != nil {
		return "", err
	}

	timestamp := time.Now().Format(timestampLayout)
	classDir := filepath.Join(s.Config.Storage, incrementalDirName)
	stagingDir := filepath.Join(classDir, "temp_"+timestamp)
	backupDir := filepath.Join(classDir, timestamp)

	log.Infof("create incremental backup %s (since %s) ...",
		timestamp, watermark.Format(time.RFC3339))

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", envError("failed to create staging dir: %w", err)
	}
	published := false
	defer func() {
		if !published {
			if err := os.RemoveAll(stagingDir); err != nil {
				log.Errorf("failed to clean up staging dir %s: %v", stagingDir, err)
			}
		}
	}()

	detector := &ChangeDetector{
		Root:    s.Config.SourceDir,
		Exclude: s.Exclude,
		Policy:  s.Policy,
	}
	manifest, err := detector.Collect(ctx, watermark, stagingDir)
	if err != nil {
		if errors.Is(err, ErrNoChanges) {
			log.Info("no changes detected")
		}
		return "", err
	}

	if err := writeManifest(stagingDir, manifest, s.Policy); err != nil {
		return "", artifactError(manifestName, err)
	}

	// verification gate before publish
	ok, report := s.Verifier.VerifyIncremental(stagingDir)
	if !ok {
		return "", fmt.Errorf("backup verification failed: %s", strings.Join(report.Errors, "; "))
	}

	if err := os.Rename(stagingDir, backupDir); err != nil {
		return "", fmt.Errorf("failed to publish backup: %w", err)
	}
	published = true

	if err := s.State.Record(classIncremental, backupDir, nil); err != nil {
		log.Errorf("failed to persist backup state: %v", err)
	}
	s.enforceRetention()

	log.Infof("incremental backup finished: %d changed files, %.2f MB total",
		report.FileCount, float64(report.TotalSizeBytes)/(1024*1024))
	return backupDir, nil
}

// preflight checks the environment before any artifact is touched.
func (s *BackupService) preflight(ctx context.Context) error {
	if s.Store == nil {
		return envError("no data store configured")
	}
	if err := s.Store.Ping(ctx); err != nil {
		return envError("data store not reachable: %w", err)
	}
	return s.checkStorage()
}

func (s *BackupService) checkStorage() error {
	info, err := os.Stat(s.Config.Storage)
	if err != nil || !info.IsDir() {
		return envError("backup storage %s not available", s.Config.Storage)
	}
	return nil
}

// enforceRetention applies both class policies. Eviction failures are logged
// inside the enforcer and never fail a finished backup.
func (s *BackupService) enforceRetention() {
	err := enforceRetention(
		filepath.Join(s.Config.Storage, fullBackupDirName), s.Config.FullRetention())
	if err != nil {
		log.Errorf("retention for full backups failed: %v", err)
	}
	err = enforceRetention(
		filepath.Join(s.Config.Storage, incrementalDirName), s.Config.IncrementalRetention())
	if err != nil {
		log.Errorf("retention for incremental backups failed: %v", err)
	}
}

// StartSchedule of the backup crons.
func (s *BackupService) StartSchedule() error {
	s.Cron = cron.New()
	s.Cron.Start()

	run := func(name string, backup func(context.Context) (string, error)) func() {
		return func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.Config.Timeout())
			defer cancel()

			_, err := backup(ctx)
			if err != nil && !errors.Is(err, ErrNoChanges) {
				log.Errorf("%s backup failed: %v", name, err)
			}
		}
	}

	var err error
	if s.Config.ScheduleFull != "" {
		s.fullEntry, err = s.Cron.AddFunc(s.Config.ScheduleFull, run(classFull, s.FullBackup))
		if err != nil {
			return fmt.Errorf("failed to create full backup schedule: %w", err)
		}
		log.Infof("[Next full backup: %s]", s.Cron.Entry(s.fullEntry).Next)
	}
	if s.Config.ScheduleIncremental != "" {
		s.incrementalEntry, err = s.Cron.AddFunc(s.Config.ScheduleIncremental,
			run(classIncremental, s.IncrementalBackup))
		if err != nil {
			return fmt.Errorf("failed to create incremental backup schedule: %w", err)
		}
		log.Infof("[Next incremental backup: %s]", s.Cron.Entry(s.incrementalEntry).Next)
	}
	return nil
}

// StopSchedule cron of backup.
func (s *BackupService) StopSchedule(timeout time.Duration) {
	if s.Cron != nil {
		ctx := s.Cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		}
	}
}
