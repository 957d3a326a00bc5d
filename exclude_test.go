package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExclusionMatchName(t *testing.T) {
	exclude := DefaultExclusions()

	for _, name := range []string{
		".git", "node_modules", "__pycache__", ".DS_Store",
		"module.pyc", "dump.sql", "old.tar.gz", "big.zst", "app.log.1",
	} {
		assert.True(t, exclude.MatchName(name), name)
	}

	for _, name := range []string{
		"main.go", "readme.md", "app.log", "git", "data.json",
	} {
		assert.False(t, exclude.MatchName(name), name)
	}
}

func TestExclusionWithPatterns(t *testing.T) {
	base := DefaultExclusions()
	extended := base.WithPatterns([]string{"*.iso"})

	assert.True(t, extended.MatchName("image.iso"))
	// the original set is unchanged
	assert.False(t, base.MatchName("image.iso"))
}

func TestExclusionMatchPath(t *testing.T) {
	storage := t.TempDir()
	exclude := DefaultExclusions().WithPath(storage)

	assert.True(t, exclude.MatchPath(storage))
	assert.True(t, exclude.MatchPath(filepath.Join(storage, "full_backups", "x")))
	assert.False(t, exclude.MatchPath(filepath.Dir(storage)))
	assert.False(t, exclude.MatchPath(storage+"_sibling"))
}
