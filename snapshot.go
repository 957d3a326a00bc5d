package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

const (
	databaseDirName  = "database"
	dataSnapshotName = "database_backup.json.gz"
)

// SnapshotSerializer dumps every table of the data store into one
// gzip compressed JSON document keyed by table name:
//
//	{"<table>": {"schema": {"col": "type"}, "data": [{...}, ...]}, ...}
//
// Temporal values are encoded as ISO-8601 strings, nothing else is
// transformed. Rows are paged in fixed size batches and streamed into the
// compressor so no table is ever buffered whole.
type SnapshotSerializer struct {
	Store     Store
	BatchSize int
	Policy    CompressionPolicy
}

// Write the snapshot document to dest, published atomically and verified by
// re-reading it. Returns the names of the serialized tables.
func (s *SnapshotSerializer) Write(ctx context.Context, dest string) ([]string, error) {
	tables, err := s.Store.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, errors.New("data store has no tables")
	}

	err = publishFile(dest, func(tmp string) error {
		file, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("failed to create snapshot %s: %w", tmp, err)
		}
		defer file.Close()

		gzipWriter, err := pgzip.NewWriterLevel(file, s.Policy.TextLevel)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}

		if err := s.serialize(ctx, gzipWriter, tables); err != nil {
			gzipWriter.Close()
			return err
		}
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to finish snapshot compression: %w", err)
		}
		return file.Close()
	}, verifyDataSnapshotFile)
	if err != nil {
		return nil, err
	}
	return tables, nil
}

// serialize writes the document table by table, row batch by row batch.
func (s *SnapshotSerializer) serialize(ctx context.Context, w io.Writer, tables []string) error {
	write := func(raw string) error {
		_, err := w.Write([]byte(raw))
		return err
	}

	if err := write("{"); err != nil {
		return err
	}
	for i, table := range tables {
		log.Infof("> dump table %s (%d/%d)", table, i+1, len(tables))

		if i > 0 {
			if err := write(","); err != nil {
				return err
			}
		}
		key, _ := json.Marshal(table)
		if err := write(string(key) + `:{"schema":`); err != nil {
			return err
		}

		columns, err := s.Store.Columns(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to read schema of %s: %w", table, err)
		}
		schema := make(map[string]string, len(columns))
		for _, col := range columns {
			schema[col.Name] = col.Type
		}
		encoded, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("failed to encode schema of %s: %w", table, err)
		}
		if err := write(string(encoded) + `,"data":[`); err != nil {
			return err
		}

		if err := s.serializeRows(ctx, w, table); err != nil {
			return err
		}
		if err := write("]}"); err != nil {
			return err
		}
	}
	return write("}")
}

func (s *SnapshotSerializer) serializeRows(ctx context.Context, w io.Writer, table string) error {
	total, err := s.Store.Count(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to count rows of %s: %w", table, err)
	}

	written := 0
	for offset := 0; offset < total; offset += s.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := s.Store.Page(ctx, table, offset, s.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to page rows of %s: %w", table, err)
		}
		if len(batch) == 0 {
			break
		}

		for _, row := range batch {
			encoded, err := json.Marshal(serializeRow(row))
			if err != nil {
				return fmt.Errorf("failed to encode row of %s: %w", table, err)
			}
			prefix := ""
			if written > 0 {
				prefix = ","
			}
			if _, err := w.Write([]byte(prefix + string(encoded))); err != nil {
				return err
			}
			written++
		}
	}
	return nil
}

// serializeRow converts temporal values to canonical ISO-8601 strings.
// All other values pass through untouched.
func serializeRow(row Row) Row {
	out := make(Row, len(row))
	for name, value := range row {
		out[name] = serializeValue(value)
	}
	return out
}

func serializeValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.Format(time.RFC3339Nano)
	default:
		return value
	}
}

// tableDocument mirrors the per table snapshot structure on read.
type tableDocument struct {
	Schema map[string]string `json:"schema"`
	Data   []Row             `json:"data"`
}

// readDataSnapshot decompresses and parses a snapshot document.
func readDataSnapshot(path string) (map[string]tableDocument, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	gzipReader, err := pgzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot compression: %w", err)
	}
	defer gzipReader.Close()

	var document map[string]tableDocument
	if err := json.NewDecoder(gzipReader).Decode(&document); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return document, nil
}

// verifyDataSnapshotFile is the write-then-read publish gate: the document
// must deserialize to a non empty mapping.
func verifyDataSnapshotFile(path string) error {
	document, err := readDataSnapshot(path)
	if err != nil {
		return err
	}
	if len(document) == 0 {
		return errors.New("snapshot document is empty")
	}
	return nil
}

// dataSnapshotPath of a backup directory.
func dataSnapshotPath(backupDir string) string {
	return filepath.Join(backupDir, databaseDirName, dataSnapshotName)
}
