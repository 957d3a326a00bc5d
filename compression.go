package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// ContentClass is a coarse bucket derived from a file's extension (with a
// byte sniffing fallback). It is used only to pick a compression level.
type ContentClass string

const (
	ClassText   ContentClass = "text"
	ClassCode   ContentClass = "code"
	ClassData   ContentClass = "data"
	ClassBinary ContentClass = "binary"
)

// Algorithm of a compression selection.
type Algorithm string

const (
	// AlgorithmGzip is the general purpose, ratio oriented algorithm.
	AlgorithmGzip Algorithm = "gzip"
	// AlgorithmZstd is the high throughput algorithm used for large files
	// where ratio oriented compression is too slow for the backup window.
	AlgorithmZstd Algorithm = "zstd"
)

// Compression is the result of a policy selection.
type Compression struct {
	Algorithm Algorithm
	Level     int
}

// Suffix appended to files compressed with this selection.
func (c Compression) Suffix() string {
	if c.Algorithm == AlgorithmZstd {
		return ".zst"
	}
	return ".gz"
}

// NewWriter creates the compressing writer for this selection.
func (c Compression) NewWriter(w io.Writer) (io.WriteCloser, error) {
	if c.Algorithm == AlgorithmZstd {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	}
	return pgzip.NewWriterLevel(w, c.Level)
}

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true,
	".tsx": true, ".vue": true, ".rb": true, ".php": true, ".java": true,
	".cs": true, ".c": true, ".h": true, ".sh": true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true, ".xml": true,
	".yaml": true, ".yml": true, ".ini": true, ".conf": true, ".html": true,
	".css": true, ".log": true, ".env": true, ".properties": true,
	".toml": true,
}

var dataExtensions = map[string]bool{
	".dat": true, ".db": true, ".sqlite": true, ".sql": true,
}

// CompressionPolicy maps (file size, content class) to a compression
// selection. It is an immutable configuration value, the mapping is total
// and deterministic.
type CompressionPolicy struct {
	// LargeFileThreshold above which the high throughput algorithm is
	// always selected, regardless of content class.
	LargeFileThreshold int64

	TextLevel   int
	CodeLevel   int
	DataLevel   int
	BinaryLevel int
}

// DefaultCompressionPolicy used when no overrides are configured.
func DefaultCompressionPolicy() CompressionPolicy {
	return CompressionPolicy{
		LargeFileThreshold: 50 * 1024 * 1024,
		TextLevel:          pgzip.BestCompression,
		CodeLevel:          pgzip.BestCompression,
		DataLevel:          6,
		BinaryLevel:        pgzip.BestSpeed,
	}
}

// Select the compression algorithm and level for a file.
func (p CompressionPolicy) Select(size int64, class ContentClass) Compression {
	if size > p.LargeFileThreshold {
		return Compression{Algorithm: AlgorithmZstd, Level: 1}
	}

	level := p.BinaryLevel
	switch class {
	case ClassText:
		level = p.TextLevel
	case ClassCode:
		level = p.CodeLevel
	case ClassData:
		level = p.DataLevel
	}
	return Compression{Algorithm: AlgorithmGzip, Level: level}
}

// classifyExtension buckets a path by its extension alone.
func classifyExtension(path string) (ContentClass, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case codeExtensions[ext]:
		return ClassCode, true
	case textExtensions[ext]:
		return ClassText, true
	case dataExtensions[ext]:
		return ClassData, true
	}
	return ClassBinary, false
}

// classifyFile buckets a file by extension, falling back to sniffing the
// leading bytes for null bytes to distinguish text from binary content.
func classifyFile(path string) ContentClass {
	if class, ok := classifyExtension(path); ok {
		return class
	}
	if sniffText(path) {
		return ClassText
	}
	return ClassBinary
}

// shouldCompress reports whether a file is worth compressing at all.
// Known text like extensions always are, everything else is sniffed.
func shouldCompress(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if codeExtensions[ext] || textExtensions[ext] || dataExtensions[ext] {
		return true
	}
	return sniffText(path)
}

// sniffText reads the first bytes of a file and reports whether they look
// like text (no null bytes). Unreadable files count as binary.
func sniffText(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 2048)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false
	}
	return !bytes.ContainsRune(buf[:n], 0)
}

// compressFile streams src through the selected compressor into dest,
// published atomically. Returns the selection that was applied.
func compressFile(policy CompressionPolicy, src, dest string) (Compression, error) {
	info, err := os.Stat(src)
	if err != nil {
		return Compression{}, fmt.Errorf("failed to stat %s: %w", src, err)
	}
	selection := policy.Select(info.Size(), classifyFile(src))

	err = publishFile(dest, func(tmp string) error {
		in, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", src, err)
		}
		defer in.Close()

		out, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", tmp, err)
		}
		defer out.Close()

		compressor, err := selection.NewWriter(out)
		if err != nil {
			return fmt.Errorf("failed to create compressor: %w", err)
		}
		// fixed size chunks keep memory bounded for large files
		if _, err := io.CopyBuffer(compressor, in, make([]byte, 1024*1024)); err != nil {
			compressor.Close()
			return fmt.Errorf("failed to compress %s: %w", src, err)
		}
		if err := compressor.Close(); err != nil {
			return fmt.Errorf("failed to finish compressing %s: %w", src, err)
		}
		return out.Close()
	}, nil)
	if err != nil {
		return Compression{}, err
	}
	return selection, nil
}
