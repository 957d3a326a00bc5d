package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.txt")

	err := publishFile(dest, func(tmp string) error {
		return os.WriteFile(tmp, []byte("content"), 0o644)
	}, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "content", string(raw))
}

func TestPublishFileReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.txt")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	err := publishFile(dest, func(tmp string) error {
		return os.WriteFile(tmp, []byte("new"), 0o644)
	}, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(raw))
}

func TestPublishFileProducerFailure(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.txt")
	boom := errors.New("boom")

	err := publishFile(dest, func(tmp string) error {
		_ = os.WriteFile(tmp, []byte("partial"), 0o644)
		return boom
	}, nil)
	require.ErrorIs(t, err, boom)

	// neither destination nor temp file remain
	assertDirEmpty(t, dir)
}

func TestPublishFileRejectsEmptyArtifact(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.txt")

	err := publishFile(dest, func(tmp string) error {
		return os.WriteFile(tmp, nil, 0o644)
	}, nil)
	require.Error(t, err)

	assertDirEmpty(t, dir)
}

func TestPublishFileVerifyFailure(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.txt")
	invalid := errors.New("invalid format")

	err := publishFile(dest, func(tmp string) error {
		return os.WriteFile(tmp, []byte("content"), 0o644)
	}, func(tmp string) error {
		return invalid
	})
	require.ErrorIs(t, err, invalid)

	assertDirEmpty(t, dir)
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
