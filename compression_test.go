package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionPolicySelect(t *testing.T) {
	policy := DefaultCompressionPolicy()

	tests := []struct {
		name  string
		size  int64
		class ContentClass
		want  Compression
	}{
		{"small text", 1024, ClassText, Compression{AlgorithmGzip, 9}},
		{"small code", 1024, ClassCode, Compression{AlgorithmGzip, 9}},
		{"small data", 1024, ClassData, Compression{AlgorithmGzip, 6}},
		{"small binary", 1024, ClassBinary, Compression{AlgorithmGzip, 1}},
		{"large text", 51 * 1024 * 1024, ClassText, Compression{AlgorithmZstd, 1}},
		{"large binary", 51 * 1024 * 1024, ClassBinary, Compression{AlgorithmZstd, 1}},
		{"exactly threshold", 50 * 1024 * 1024, ClassData, Compression{AlgorithmGzip, 6}},
		{"zero size", 0, ClassCode, Compression{AlgorithmGzip, 9}},
		{"unknown class", 1024, ContentClass("weird"), Compression{AlgorithmGzip, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Select(tt.size, tt.class))
			// deterministic: same input, same output
			assert.Equal(t, tt.want, policy.Select(tt.size, tt.class))
		})
	}
}

func TestCompressionSuffix(t *testing.T) {
	assert.Equal(t, ".gz", Compression{AlgorithmGzip, 9}.Suffix())
	assert.Equal(t, ".zst", Compression{AlgorithmZstd, 1}.Suffix())
}

func TestClassifyFile(t *testing.T) {
	dir := t.TempDir()

	code := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(code, []byte("package main"), 0o644))
	assert.Equal(t, ClassCode, classifyFile(code))

	text := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(text, []byte("# notes"), 0o644))
	assert.Equal(t, ClassText, classifyFile(text))

	data := filepath.Join(dir, "app.sqlite")
	require.NoError(t, os.WriteFile(data, []byte("data"), 0o644))
	assert.Equal(t, ClassData, classifyFile(data))

	// unknown extension but text content sniffs as text
	sniffed := filepath.Join(dir, "LICENSE")
	require.NoError(t, os.WriteFile(sniffed, []byte("plain text content"), 0o644))
	assert.Equal(t, ClassText, classifyFile(sniffed))

	// null bytes sniff as binary
	binary := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(binary, []byte{0x7f, 0x00, 0x01, 0x02}, 0o644))
	assert.Equal(t, ClassBinary, classifyFile(binary))
}

func TestShouldCompress(t *testing.T) {
	dir := t.TempDir()

	binary := filepath.Join(dir, "blob.unknown")
	require.NoError(t, os.WriteFile(binary, []byte{0x00, 0x01}, 0o644))
	assert.False(t, shouldCompress(binary))

	text := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0o644))
	assert.True(t, shouldCompress(text))
}

func TestCompressFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "input.txt")
	content := []byte("some reasonably compressible content\n")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	dest := filepath.Join(dir, "out", "input.txt.gz")
	selection, err := compressFile(DefaultCompressionPolicy(), src, dest)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmGzip, selection.Algorithm)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// no temp artifact left behind
	_, err = os.Stat(filepath.Join(dir, "out", "temp_input.txt.gz"))
	assert.True(t, os.IsNotExist(err))
}

func TestCompressFileLargeUsesZstd(t *testing.T) {
	policy := DefaultCompressionPolicy()
	policy.LargeFileThreshold = 16 // force the high throughput path

	dir := t.TempDir()
	src := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(src, make([]byte, 1024), 0o644))

	selection := policy.Select(1024, classifyFile(src))
	assert.Equal(t, AlgorithmZstd, selection.Algorithm)

	dest := filepath.Join(dir, "big.bin"+selection.Suffix())
	got, err := compressFile(policy, src, dest)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmZstd, got.Algorithm)

	_, err = os.Stat(dest)
	require.NoError(t, err)
}
