package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

const stateFileName = "backup_state.json"

// BackupState records the outcome of the last successful backup. Its
// timestamp is the watermark for incremental change detection, persisted so
// it survives restarts.
type BackupState struct {
	LastBackupTime  time.Time `json:"last_backup_timestamp"`
	LastBackupClass string    `json:"last_backup_class,omitempty"`
	LastBackupPath  string    `json:"last_backup_path,omitempty"`
	DatabaseTables  []string  `json:"database_tables,omitempty"`
}

// StateManager persists the backup state at the storage root.
type StateManager struct {
	path  string
	state BackupState
}

func NewStateManager(storageRoot string) *StateManager {
	return &StateManager{path: filepath.Join(storageRoot, stateFileName)}
}

// Load the persisted state. A missing state file is not an error, it just
// means no backup ever succeeded.
func (m *StateManager) Load() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read backup state: %w", err)
	}
	if err := json.Unmarshal(raw, &m.state); err != nil {
		return fmt.Errorf("failed to parse backup state: %w", err)
	}
	return nil
}

// Watermark returns the last successful backup time, if any.
func (m *StateManager) Watermark() (time.Time, bool) {
	return m.state.LastBackupTime, !m.state.LastBackupTime.IsZero()
}

// Record a successful backup and persist the new state atomically.
func (m *StateManager) Record(class, path string, tables []string) error {
	m.state = BackupState{
		LastBackupTime:  time.Now().UTC(),
		LastBackupClass: class,
		LastBackupPath:  path,
		DatabaseTables:  tables,
	}

	encoded, err := json.MarshalIndent(&m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup state: %w", err)
	}
	if err := atomic.WriteFile(m.path, bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("failed to write backup state: %w", err)
	}
	return nil
}
