package main

import (
	"fmt"

	"github.com/go-errors/errors"
)

// ErrNoChanges is returned by an incremental backup run when no file was
// touched since the watermark. No backup directory is created in this case.
var ErrNoChanges = errors.New("no changes detected since last backup")

// EnvironmentError marks a failed precondition (unreachable database,
// unwritable storage). The backup run aborts before any artifact is touched.
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment check failed: %v", e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

func envError(format string, args ...any) error {
	return &EnvironmentError{Err: fmt.Errorf(format, args...)}
}

// ArtifactError marks a failed write-verify of a single backup artifact
// (archive, snapshot, manifest). It is fatal to the whole backup run; the
// artifact's temporary state has already been discarded when it is returned.
type ArtifactError struct {
	Artifact string
	Err      error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Artifact, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

func artifactError(artifact string, err error) error {
	return &ArtifactError{Artifact: artifact, Err: err}
}
