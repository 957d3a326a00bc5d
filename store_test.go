package main

import "context"

// fakeStore is an in memory Store used by the snapshot and orchestrator
// tests.
type fakeStore struct {
	tables  []string
	schemas map[string][]Column
	rows    map[string][]Row
	pingErr error
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }
func (s *fakeStore) Close() error                   { return nil }

func (s *fakeStore) Tables(ctx context.Context) ([]string, error) {
	return s.tables, nil
}

func (s *fakeStore) Columns(ctx context.Context, table string) ([]Column, error) {
	return s.schemas[table], nil
}

func (s *fakeStore) Count(ctx context.Context, table string) (int, error) {
	return len(s.rows[table]), nil
}

func (s *fakeStore) Page(ctx context.Context, table string, offset, limit int) ([]Row, error) {
	rows := s.rows[table]
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}
