// Package commitstore persists immutable commit records keyed by their
// global sequence number. Slots are write-once: Append is a create-only
// conditional write and there is no update or delete.
package commitstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rzbill/replog/internal/codec"
	"github.com/rzbill/replog/internal/keys"
	"github.com/rzbill/replog/internal/storage"
)

var (
	// ErrDuplicateSequenceNumber is returned by Append for an occupied slot.
	ErrDuplicateSequenceNumber = errors.New("commitstore: duplicate sequence number")
	// ErrNotFound is returned by Read for an unassigned slot.
	ErrNotFound = errors.New("commitstore: not found")
	// ErrCorruptRecord is returned when a stored record fails verification.
	ErrCorruptRecord = errors.New("commitstore: corrupt record")
)

// Commit is one durably stored batch of encoded events.
type Commit struct {
	Sequence uint64   `msgpack:"-" json:"sequence"`
	Stream   string   `msgpack:"stream" json:"stream"`
	Version  uint64   `msgpack:"version" json:"version"`
	Origin   string   `msgpack:"origin" json:"origin"`
	Time     int64    `msgpack:"ts" json:"ts"`
	Events   [][]byte `msgpack:"events" json:"events"`
}

// Store reads and appends commits in a storage backend.
type Store struct {
	backend storage.Backend
	now     func() time.Time
}

// New returns a Store over backend.
func New(backend storage.Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// Append writes c at c.Sequence and returns the slot's etag.
func (s *Store) Append(ctx context.Context, c Commit) (string, error) {
	if c.Time == 0 {
		c.Time = s.now().UnixMilli()
	}
	b, err := encode(c)
	if err != nil {
		return "", err
	}
	etag, err := s.backend.Write(ctx, storage.KindCommit, keys.Commit(c.Sequence), b, "")
	if errors.Is(err, storage.ErrConditionFailed) {
		return "", fmt.Errorf("%w: %d", ErrDuplicateSequenceNumber, c.Sequence)
	}
	if err != nil {
		return "", fmt.Errorf("commitstore: append %d: %w", c.Sequence, err)
	}
	return etag, nil
}

// Read returns the commit at seq.
func (s *Store) Read(ctx context.Context, seq uint64) (Commit, error) {
	rec, err := s.backend.Read(ctx, storage.KindCommit, keys.Commit(seq))
	if errors.Is(err, storage.ErrNotFound) {
		return Commit{}, fmt.Errorf("%w: %d", ErrNotFound, seq)
	}
	if err != nil {
		return Commit{}, fmt.Errorf("commitstore: read %d: %w", seq, err)
	}
	c, err := decode(rec.Value)
	if err != nil {
		return Commit{}, err
	}
	if c.Sequence != seq {
		return Commit{}, fmt.Errorf("%w: slot %d holds %d", ErrCorruptRecord, seq, c.Sequence)
	}
	return c, nil
}

// Scan visits every commit in sequence order. Corrupt records are reported
// through fn's error path by returning ErrCorruptRecord from Scan.
func (s *Store) Scan(ctx context.Context, fn func(Commit) error) error {
	return s.backend.Scan(ctx, storage.KindCommit, nil, func(_ []byte, rec storage.Record) error {
		c, err := decode(rec.Value)
		if err != nil {
			return err
		}
		return fn(c)
	})
}

func encode(c Commit) ([]byte, error) {
	body, err := msgpack.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("commitstore: encode: %w", err)
	}
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], c.Sequence)
	return codec.EncodeRecord(hdr[:], body), nil
}

func decode(b []byte) (Commit, error) {
	dec, err := codec.DecodeRecord(b)
	if err != nil {
		return Commit{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if len(dec.Header) != 8 {
		return Commit{}, ErrCorruptRecord
	}
	var c Commit
	if err := msgpack.Unmarshal(dec.Payload, &c); err != nil {
		return Commit{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	c.Sequence = binary.BigEndian.Uint64(dec.Header)
	return c, nil
}
