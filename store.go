package main

import "context"

// Row is one table row, keyed by column name. Temporal values are native
// time.Time values until the snapshot serializer encodes them.
type Row = map[string]any

// Column describes one column of a table.
type Column struct {
	Name string
	Type string
}

// Store is the read interface of the relational data store that gets
// snapshotted. Tables are discovered dynamically, rows are streamed in
// fixed size pages to bound memory for large tables.
type Store interface {
	// Ping checks connectivity. Used as the environment preflight
	// before any backup artifact is touched.
	Ping(ctx context.Context) error

	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]Column, error)
	Count(ctx context.Context, table string) (int, error)
	Page(ctx context.Context, table string, offset, limit int) ([]Row, error)

	Close() error
}
