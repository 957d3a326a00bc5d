package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// publishFile wraps any write producing operation in a write-to-temporary /
// verify / rename-into-place protocol. The destination path is never left in
// a half written state: on any failure the temporary artifact is removed and
// the error propagated.
//
// produce writes the artifact to the temporary path. verify, if given,
// checks that the temporary artifact is well formed (e.g. parseable);
// non-emptiness is always checked.
//
// Every artifact in the system (compressed files, archives, the data
// snapshot, the manifest) goes through this function.
func publishFile(dest string, produce func(tmp string) error, verify func(tmp string) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, "temp_"+filepath.Base(dest))

	if err := produce(tmp); err != nil {
		os.Remove(tmp)
		return err
	}

	info, err := os.Stat(tmp)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to stat %s: %w", tmp, err)
	}
	if info.Size() == 0 {
		os.Remove(tmp)
		return fmt.Errorf("produced empty artifact for %s", dest)
	}

	if verify != nil {
		if err := verify(tmp); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("artifact verification failed for %s: %w", dest, err)
		}
	}

	if err := atomic.ReplaceFile(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}
	return nil
}
