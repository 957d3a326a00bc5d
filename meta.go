package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const metaName = "backup.yml"

// BackupMeta describes a full backup, stored next to its artifacts.
type BackupMeta struct {
	// Version of backup format
	Version int `yaml:"version"`
	// Date of backup creation
	Date time.Time `yaml:"date"`

	// DataSnapshot contains the relative path of the database snapshot
	DataSnapshot string `yaml:"data_snapshot"`
	// TreeArchive contains the name of the source tree archive
	TreeArchive string `yaml:"tree_archive"`

	// TableCount of the serialized data snapshot
	TableCount int `yaml:"table_count"`
	// FileCount of the tree archive
	FileCount int `yaml:"file_count"`
}

// writeMeta publishes the metadata document into the backup directory.
func writeMeta(dir string, meta *BackupMeta) error {
	return publishFile(filepath.Join(dir, metaName), func(tmp string) error {
		file, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", metaName, err)
		}
		defer file.Close()

		if err := yaml.NewEncoder(file).Encode(meta); err != nil {
			return fmt.Errorf("failed to write %s: %w", metaName, err)
		}
		return file.Close()
	}, nil)
}
