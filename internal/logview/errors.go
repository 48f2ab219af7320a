package logview

import (
	"errors"

	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/streamindex"
)

var (
	// ErrConflict means a conditional write lost a race. Retry the write.
	ErrConflict = errors.New("logview: conflict")
	// ErrBehind means the summary is ahead of what the index can replay,
	// usually a concurrent writer that has not recorded its entry yet.
	ErrBehind = errors.New("logview: behind")
	// ErrDiverged means the confirmed view holds versions that storage does
	// not back, which happens when notifications arrive from a replica on
	// different storage. It is not retryable.
	ErrDiverged = errors.New("logview: view diverged from storage")
	// ErrNotReady is returned by Write before activation completes.
	ErrNotReady = errors.New("logview: not ready")
	// ErrNoFold is returned by New when Options.Fold is nil.
	ErrNoFold = errors.New("logview: fold callback is required")
)

// IsRetryable reports whether err is transient for the write path.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrBehind) ||
		errors.Is(err, ErrNotReady) ||
		errors.Is(err, streamindex.ErrConflict) ||
		errors.Is(err, commitstore.ErrDuplicateSequenceNumber)
}
