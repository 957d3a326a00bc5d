package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore reads table schemas and data from a Postgres database.
type PostgresStore struct {
	Config DatabaseConfig

	ConnectionString string

	db *sql.DB
}

// NewPostgresStore from the given configuration.
func NewPostgresStore(config DatabaseConfig) *PostgresStore {
	return &PostgresStore{
		Config: config,
		ConnectionString: fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			config.Username, config.Password,
			config.Host, config.Port, config.Database),
	}
}

// Connect opens the connection pool.
func (s *PostgresStore) Connect() error {
	db, err := sql.Open("postgres", s.ConnectionString)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	s.db = db
	return nil
}

// WaitForConnection for a maximum of duration.
func (s *PostgresStore) WaitForConnection(ctx context.Context, duration time.Duration) error {
	if s.db == nil {
		if err := s.Connect(); err != nil {
			return err
		}
	}

	// ticker to check every second for a connection
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	timeoutExceeded := time.After(duration)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timeoutExceeded:
			return errors.New("timeout while trying to connect to database")

		case <-ticker.C:
			if err := s.db.PingContext(ctx); err == nil {
				return nil
			}
		}
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection not opened")
	}
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Tables lists all base tables of the public schema.
func (s *PostgresStore) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Columns returns name and type of every column of a table.
func (s *PostgresStore) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, table string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(table))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return count, nil
}

// Page returns one fixed size batch of rows.
func (s *PostgresStore) Page(ctx context.Context, table string, offset, limit int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s LIMIT $1 OFFSET $2", pq.QuoteIdentifier(table)),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to page rows of %s: %w", table, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// scanRows converts sql rows into generic Row maps.
func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, name := range columns {
			value := values[i]
			// drivers hand back raw bytes for text-ish types
			if b, ok := value.([]byte); ok {
				value = string(b)
			}
			row[name] = value
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
