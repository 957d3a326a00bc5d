package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// VerificationReport is the outcome of one verification pass. It is produced
// fresh on every call and never persisted: a backup's validity is always
// re-derived, never cached.
type VerificationReport struct {
	StructureOK    bool `json:"structure_ok"`
	DataSnapshotOK bool `json:"data_snapshot_ok"`
	TreeArchiveOK  bool `json:"tree_archive_ok"`

	TableCount int `json:"table_count"`
	FileCount  int `json:"file_count"`

	// CompressionRatio of the tree archive in percent
	CompressionRatio float64 `json:"compression_ratio"`
	TotalSizeBytes   int64   `json:"total_size_bytes"`

	Errors []string `json:"errors"`
}

func (r *VerificationReport) fail(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	r.Errors = append(r.Errors, message)
	log.Errorf("verification: %s", message)
}

// OK reports whether no check failed.
func (r *VerificationReport) OK() bool {
	return len(r.Errors) == 0
}

// BackupMetrics summarizes the size and compression characteristics of a
// published backup.
type BackupMetrics struct {
	TotalSizeBytes   int64   `json:"total_size_bytes"`
	DataSizeBytes    int64   `json:"data_size_bytes"`
	ArchiveSizeBytes int64   `json:"archive_size_bytes"`
	CompressionRatio float64 `json:"compression_ratio"`
	FileCount        int     `json:"file_count"`
}

// Verifier independently re-derives the validity of a published backup. It
// is read only and idempotent: it never trusts prior success flags, never
// repairs data and never deletes anything, so a failed verification keeps
// its forensic evidence intact. Concurrent verification of immutable
// backups is safe.
type Verifier struct{}

// VerifyStructure checks that the required artifacts of a full backup exist
// and are non empty. Structural presence says nothing about content
// validity, that is what the snapshot and archive checks are for.
func (v Verifier) VerifyStructure(dir string) bool {
	report := &VerificationReport{}
	v.verifyStructure(dir, report)
	return report.OK()
}

func (v Verifier) verifyStructure(dir string, report *VerificationReport) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		report.fail("backup directory does not exist: %s", dir)
		return
	}

	databaseDir := filepath.Join(dir, databaseDirName)
	entries, err := os.ReadDir(databaseDir)
	if err != nil {
		report.fail("missing required directory: %s", databaseDirName)
		return
	}
	if len(entries) == 0 {
		report.fail("database backup directory is empty")
		return
	}

	archive := filepath.Join(dir, treeArchiveName)
	archiveInfo, err := os.Stat(archive)
	if err != nil {
		report.fail("tree archive missing: %s", treeArchiveName)
		return
	}
	if archiveInfo.Size() == 0 {
		report.fail("tree archive is empty: %s", treeArchiveName)
		return
	}

	report.StructureOK = true
}

// VerifyDataSnapshot decompresses and parses the data snapshot and cross
// checks every row against its table's declared schema. Catches truncated
// or mismatched dumps that would otherwise parse as valid JSON.
func (v Verifier) VerifyDataSnapshot(dir string, requiredTables []string) bool {
	report := &VerificationReport{}
	v.verifyDataSnapshot(dir, requiredTables, report)
	return report.OK()
}

func (v Verifier) verifyDataSnapshot(dir string, requiredTables []string, report *VerificationReport) {
	snapshot, err := latestDataSnapshot(dir)
	if err != nil {
		report.fail("%v", err)
		return
	}

	document, err := readDataSnapshot(snapshot)
	if err != nil {
		report.fail("failed to read data snapshot: %v", err)
		return
	}
	if len(document) == 0 {
		report.fail("data snapshot contains no tables")
		return
	}

	for _, required := range requiredTables {
		if _, ok := document[required]; !ok {
			report.fail("missing required table: %s", required)
		}
	}

	for table, doc := range document {
		if len(doc.Schema) == 0 {
			report.fail("missing schema for table %s", table)
			continue
		}
		for i, row := range doc.Data {
			if len(row) != len(doc.Schema) {
				report.fail("schema mismatch in table %s row %d", table, i)
				break
			}
			for field := range doc.Schema {
				if _, ok := row[field]; !ok {
					report.fail("missing field %s in table %s row %d", field, table, i)
					break
				}
			}
		}
	}

	if report.OK() {
		report.DataSnapshotOK = true
		report.TableCount = len(document)
	}
}

// latestDataSnapshot finds the newest *.json.gz below database/.
func latestDataSnapshot(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, databaseDirName, "*.json.gz"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no data snapshot found in %s", dir)
	}

	latest := matches[0]
	var latestTime int64
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if t := info.ModTime().UnixNano(); t >= latestTime {
			latest, latestTime = match, t
		}
	}
	return latest, nil
}

func (v Verifier) verifyTreeArchive(dir string, requiredFiles []string, report *VerificationReport) {
	archive := filepath.Join(dir, treeArchiveName)
	members, uncompressed, err := readTarGzMembers(archive)
	if err != nil {
		report.fail("failed to read tree archive: %v", err)
		return
	}
	if members == 0 {
		report.fail("tree archive has no members")
		return
	}

	if len(requiredFiles) > 0 {
		found, err := tarGzBaseNames(archive)
		if err != nil {
			report.fail("failed to list tree archive: %v", err)
			return
		}
		for _, required := range requiredFiles {
			if !found[required] {
				report.fail("missing required file in tree archive: %s", required)
			}
		}
		if !report.OK() {
			return
		}
	}

	report.TreeArchiveOK = true
	report.FileCount = members

	info, err := os.Stat(archive)
	if err == nil && uncompressed > 0 {
		report.CompressionRatio = float64(uncompressed-info.Size()) / float64(uncompressed) * 100
	}
}

// VerifyFull runs the structural, data snapshot and tree archive checks on a
// published full backup and returns the combined report.
func (v Verifier) VerifyFull(dir string, requiredFiles, requiredTables []string) (bool, *VerificationReport) {
	report := &VerificationReport{}

	v.verifyStructure(dir, report)
	if !report.StructureOK {
		return false, report
	}

	v.verifyDataSnapshot(dir, requiredTables, report)
	v.verifyTreeArchive(dir, requiredFiles, report)
	report.TotalSizeBytes = directorySize(dir)

	return report.OK(), report
}

// VerifyIncremental checks that the manifest of an incremental backup is
// readable and that every changed path it lists exists inside the backup
// directory with a readable first byte.
func (v Verifier) VerifyIncremental(dir string) (bool, *VerificationReport) {
	report := &VerificationReport{}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		report.fail("backup directory does not exist: %s", dir)
		return false, report
	}

	manifest, err := readManifest(dir)
	if err != nil {
		report.fail("failed to read manifest: %v", err)
		return false, report
	}
	report.StructureOK = true

	verified := 0
	for _, changes := range [][]string{manifest.Changes.Added, manifest.Changes.Modified} {
		for _, rel := range changes {
			if !isPathWithin(filepath.Join(dir, rel), dir) {
				report.fail("manifest path escapes backup directory: %s", rel)
				continue
			}
			if err := readFirstByte(filepath.Join(dir, rel)); err != nil {
				report.fail("unreadable backup file %s: %v", rel, err)
				continue
			}
			verified++
		}
	}

	report.FileCount = verified
	report.TotalSizeBytes = directorySize(dir)
	return report.OK(), report
}

// Metrics computes size and compression figures of a published backup.
func (v Verifier) Metrics(dir string) (*BackupMetrics, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("backup directory does not exist: %s", dir)
	}

	metrics := &BackupMetrics{
		TotalSizeBytes: directorySize(dir),
	}

	if snapshot, err := latestDataSnapshot(dir); err == nil {
		if info, err := os.Stat(snapshot); err == nil {
			metrics.DataSizeBytes = info.Size()
		}
	}

	archive := filepath.Join(dir, treeArchiveName)
	if info, err := os.Stat(archive); err == nil {
		metrics.ArchiveSizeBytes = info.Size()
		if members, uncompressed, err := readTarGzMembers(archive); err == nil {
			metrics.FileCount = members
			if uncompressed > 0 {
				metrics.CompressionRatio = float64(uncompressed-info.Size()) / float64(uncompressed) * 100
			}
		}
	}

	return metrics, nil
}

func tarGzBaseNames(archive string) (map[string]bool, error) {
	names := map[string]bool{}
	err := walkTarGz(archive, func(name string) {
		names[filepath.Base(name)] = true
	})
	return names, err
}

func directorySize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func readFirstByte(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 1)
	if _, err := f.Read(buf); err != nil {
		return err
	}
	return nil
}

// isPathWithin reports whether path stays inside base after cleaning.
func isPathWithin(path, base string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
