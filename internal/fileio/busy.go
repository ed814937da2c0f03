package fileio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

var (
	// ErrSkipped means the file stayed busy for every attempt; the caller
	// keeps its last known state and tries again next cycle.
	ErrSkipped = errors.New("file skipped this cycle")
	// ErrNotFound means the file does not exist (yet).
	ErrNotFound = errors.New("file not found")
)

// TransientIOError describes a file that was locked or held by another
// process for every attempt.
type TransientIOError struct {
	Path     string
	Op       string
	Attempts int
	Err      error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s %s: busy after %d attempts: %v", e.Op, e.Path, e.Attempts, e.Err)
}

func (e *TransientIOError) Unwrap() []error { return []error{ErrSkipped, e.Err} }

// IsBusy reports whether err is a "resource temporarily unavailable" or
// "access denied because another process has it open" condition, as opposed
// to a genuine I/O failure.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return isBusyErrno(errno)
	}
	return false
}
