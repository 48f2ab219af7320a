// Package storage defines the key-value persistence contract shared by every
// replog record store: point reads and writes keyed by (kind, key), with
// opaque etags and conditional writes for optimistic concurrency.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Kind partitions the keyspace by record type.
type Kind string

const (
	KindSummary   Kind = "summary"
	KindIndex     Kind = "index"
	KindCommit    Kind = "commit"
	KindSnapshot  Kind = "snapshot"
	KindSequencer Kind = "sequencer"
)

// Kinds lists every record kind a backend must accept.
var Kinds = []Kind{KindSummary, KindIndex, KindCommit, KindSnapshot, KindSequencer}

var (
	// ErrNotFound is returned by Read for an absent key.
	ErrNotFound = errors.New("storage: not found")
	// ErrConditionFailed is returned by Write when the stored etag does not
	// match the expected one (or the key exists on a create-only write).
	ErrConditionFailed = errors.New("storage: condition failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
)

// Record is a stored value with its current etag.
type Record struct {
	Value []byte
	ETag  string
}

// Backend is a durable key-value store with etag-based conditional writes.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Read returns the record at (kind, key) or ErrNotFound.
	Read(ctx context.Context, kind Kind, key []byte) (Record, error)
	// Write stores value if the current etag equals expectedETag. An empty
	// expectedETag means the key must not exist yet. Returns the new etag.
	Write(ctx context.Context, kind Kind, key, value []byte, expectedETag string) (string, error)
	// Put stores value unconditionally and returns the new etag.
	Put(ctx context.Context, kind Kind, key, value []byte) (string, error)
	// Scan visits every record of kind whose key starts with prefix, in key
	// order. Returning an error from fn stops the scan with that error.
	Scan(ctx context.Context, kind Kind, prefix []byte, fn func(key []byte, rec Record) error) error
	Close() error
}

// ValidKind reports an error for kinds outside Kinds.
func ValidKind(k Kind) error {
	for _, known := range Kinds {
		if k == known {
			return nil
		}
	}
	return fmt.Errorf("storage: unknown kind %q", k)
}
