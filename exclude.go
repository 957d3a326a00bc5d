package main

import (
	"path/filepath"
	"strings"
)

// ExclusionSet decides which directories and files are left out of tree
// archives and change detection: build artifacts, caches, version control
// metadata, prior backups and previously generated archives.
type ExclusionSet struct {
	// Names excluded by exact match (directories or files).
	Names map[string]bool
	// Patterns excluded by filepath.Match on the base name.
	Patterns []string
	// Paths excluded by absolute prefix, e.g. the backup storage root
	// when it lives inside the source tree.
	Paths []string
}

// DefaultExclusions returns the built in exclusion set.
func DefaultExclusions() ExclusionSet {
	return ExclusionSet{
		Names: map[string]bool{
			".git":         true,
			"node_modules": true,
			"__pycache__":  true,
			"venv":         true,
			".cache":       true,
			".local":       true,
			"backups":      true,
			"__MACOSX":     true,
			"Thumbs.db":    true,
			".DS_Store":    true,
		},
		Patterns: []string{
			"*.pyc", "*.tar.gz", "*.zst", "*.sql", "*.so", "*.zip",
			"*.rar", "*.7z", "*.bak", "*.swp", "*.swo", "*.tmp",
			"*.temp", "*.log.*", "*.dat", "*.mo", "*.msgpack",
		},
	}
}

// WithPatterns returns a copy with additional patterns appended.
func (e ExclusionSet) WithPatterns(patterns []string) ExclusionSet {
	e.Patterns = append(append([]string{}, e.Patterns...), patterns...)
	return e
}

// WithPath returns a copy that also prunes the given absolute path.
func (e ExclusionSet) WithPath(path string) ExclusionSet {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	e.Paths = append(append([]string{}, e.Paths...), path)
	return e
}

// MatchName reports whether a base name is excluded.
func (e ExclusionSet) MatchName(name string) bool {
	if e.Names[name] {
		return true
	}
	for _, pattern := range e.Patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// MatchPath reports whether an absolute path falls under an excluded prefix.
func (e ExclusionSet) MatchPath(path string) bool {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	for _, prefix := range e.Paths {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
