package main

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

const treeArchiveName = "code_backup.tar.gz"

// TreeArchiver walks a source tree, applies the exclusion rules and streams
// every surviving file into a single tar.gz archive published atomically.
type TreeArchiver struct {
	Root    string
	Exclude ExclusionSet
	Policy  CompressionPolicy
}

// Create the archive at dest. Returns the number of archived files.
// Failure on an individual file is logged and the file skipped; an archive
// that ends up with zero entries is a construction failure.
func (a *TreeArchiver) Create(ctx context.Context, dest string) (int, error) {
	count := 0

	err := publishFile(dest, func(tmp string) error {
		file, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("failed to create archive %s: %w", tmp, err)
		}
		defer file.Close()

		// archive content is mixed, the stream gets the mid range level
		gzipWriter, err := pgzip.NewWriterLevel(file, a.Policy.DataLevel)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		tarWriter := tar.NewWriter(gzipWriter)

		if err := a.walkInto(ctx, tarWriter, &count); err != nil {
			tarWriter.Close()
			gzipWriter.Close()
			return err
		}

		if err := tarWriter.Close(); err != nil {
			return fmt.Errorf("failed to finish archive: %w", err)
		}
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to finish archive compression: %w", err)
		}
		if count == 0 {
			return errors.New("no files in backup archive")
		}
		return file.Close()
	}, verifyTarGz)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (a *TreeArchiver) walkInto(ctx context.Context, tarWriter *tar.Writer, count *int) error {
	return filepath.WalkDir(a.Root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// vanished or unreadable entries are skipped
			log.Warnf("skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != a.Root && (a.Exclude.MatchName(d.Name()) || a.Exclude.MatchPath(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if a.Exclude.MatchName(d.Name()) || a.Exclude.MatchPath(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Warnf("failed to stat %s: %v", path, err)
			return nil
		}
		if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
			return nil
		}

		if err := addToTar(tarWriter, a.Root, path, info); err != nil {
			log.Warnf("failed to archive %s: %v", path, err)
			return nil
		}
		*count++
		return nil
	})
}

// addToTar writes one file (or symlink) entry under its path relative to root.
func addToTar(tarWriter *tar.Writer, root, file string, info os.FileInfo) error {
	// handle symlinks
	var symLinkTarget string
	if info.Mode()&os.ModeSymlink != 0 {
		var err error
		symLinkTarget, err = os.Readlink(file)
		if err != nil {
			return fmt.Errorf("failed to get symlink target of %s: %w", file, err)
		}
	}

	// generate tar header
	header, err := tar.FileInfoHeader(info, symLinkTarget)
	if err != nil {
		return err
	}

	// make file path relative
	fileRel, err := filepath.Rel(root, file)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}
	header.Name = filepath.ToSlash(fileRel)

	// write tar file entry header
	err = tarWriter.WriteHeader(header)
	if err != nil {
		return err
	}

	// add content of files
	if info.Mode().IsRegular() {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", file, err)
		}
		defer f.Close()

		_, err = io.Copy(tarWriter, f)
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", file, err)
		}
	}
	return nil
}

// verifyTarGz re-opens an archive read only and requires a non empty member
// list. An archive with zero entries is a construction failure, not an
// empty but valid backup.
func verifyTarGz(path string) error {
	members, _, err := readTarGzMembers(path)
	if err != nil {
		return err
	}
	if members == 0 {
		return errors.New("no files in backup archive")
	}
	return nil
}

// readTarGzMembers walks the member list of a tar.gz archive and returns the
// member count and the summed uncompressed size.
func readTarGzMembers(path string) (int, int64, error) {
	count := 0
	var uncompressed int64
	err := walkTarGzHeaders(path, func(header *tar.Header) {
		count++
		uncompressed += header.Size
	})
	if err != nil {
		return 0, 0, err
	}
	return count, uncompressed, nil
}

// walkTarGz visits the member names of a tar.gz archive.
func walkTarGz(path string, fn func(name string)) error {
	return walkTarGzHeaders(path, func(header *tar.Header) {
		fn(header.Name)
	})
}

func walkTarGzHeaders(path string, fn func(header *tar.Header)) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gzipReader, err := pgzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to read archive compression: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt archive: %w", err)
		}
		fn(header)
	}
}
