// Package streamindex maps (stream, local version) to global sequence numbers
// and holds each stream's summary: the current commit number and the write
// vector. Index entries are create-only; the summary is updated with
// etag-conditional writes.
package streamindex

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rzbill/replog/internal/keys"
	"github.com/rzbill/replog/internal/storage"
)

var (
	// ErrVersionConflict is returned by RecordEntry when the version is
	// already mapped to a different sequence number.
	ErrVersionConflict = errors.New("streamindex: version conflict")
	// ErrConflict is returned by WriteSummary when the summary changed since
	// it was read.
	ErrConflict = errors.New("streamindex: summary conflict")
	// ErrCorruptEntry is returned for an index entry that is not 8 bytes.
	ErrCorruptEntry = errors.New("streamindex: corrupt entry")
)

// Summary is the per-stream commit counter.
type Summary struct {
	CurrentCommitNumber uint64
	WriteVector         WriteVector
}

type summaryWire struct {
	Current     uint64 `msgpack:"cur"`
	WriteVector string `msgpack:"wv"`
}

// Index is the stream index over a storage backend.
type Index struct {
	backend storage.Backend
}

// New returns an Index over backend.
func New(backend storage.Backend) *Index { return &Index{backend: backend} }

// RecordEntry maps (stream, version) to seq. Re-recording the same mapping
// succeeds; a different seq yields ErrVersionConflict.
func (x *Index) RecordEntry(ctx context.Context, stream string, version, seq uint64) error {
	if err := keys.Validate(stream); err != nil {
		return err
	}
	key := keys.IndexEntry(stream, version)
	_, err := x.backend.Write(ctx, storage.KindIndex, key, encodeSeq(seq), "")
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrConditionFailed) {
		return fmt.Errorf("streamindex: record %s@%d: %w", stream, version, err)
	}
	existing, err := x.entry(ctx, key)
	if err != nil {
		return err
	}
	if existing != seq {
		return fmt.Errorf("%w: %s@%d holds %d, not %d", ErrVersionConflict, stream, version, existing, seq)
	}
	return nil
}

// Lookup returns the sequence number recorded for (stream, version).
func (x *Index) Lookup(ctx context.Context, stream string, version uint64) (uint64, bool, error) {
	seq, err := x.entry(ctx, keys.IndexEntry(stream, version))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

// ReadRange returns the sequence numbers of versions from..to in order,
// stopping without error at the first missing version.
func (x *Index) ReadRange(ctx context.Context, stream string, from, to uint64) ([]uint64, error) {
	if from == 0 {
		from = 1
	}
	if to < from {
		return nil, nil
	}
	n := to - from + 1
	if n > 1024 {
		n = 1024
	}
	out := make([]uint64, 0, n)
	for v := from; v <= to; v++ {
		seq, ok, err := x.Lookup(ctx, stream, v)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, seq)
	}
	return out, nil
}

func (x *Index) entry(ctx context.Context, key []byte) (uint64, error) {
	rec, err := x.backend.Read(ctx, storage.KindIndex, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("streamindex: read entry: %w", err)
	}
	if len(rec.Value) != 8 {
		return 0, ErrCorruptEntry
	}
	return binary.BigEndian.Uint64(rec.Value), nil
}

// ReadSummary returns the stream summary and its etag. An absent summary is
// the zero summary with an empty etag.
func (x *Index) ReadSummary(ctx context.Context, stream string) (Summary, string, error) {
	if err := keys.Validate(stream); err != nil {
		return Summary{}, "", err
	}
	rec, err := x.backend.Read(ctx, storage.KindSummary, keys.Summary(stream))
	if errors.Is(err, storage.ErrNotFound) {
		return Summary{WriteVector: WriteVector{}}, "", nil
	}
	if err != nil {
		return Summary{}, "", fmt.Errorf("streamindex: read summary %s: %w", stream, err)
	}
	var w summaryWire
	if err := msgpack.Unmarshal(rec.Value, &w); err != nil {
		return Summary{}, "", fmt.Errorf("streamindex: decode summary %s: %w", stream, err)
	}
	return Summary{CurrentCommitNumber: w.Current, WriteVector: ParseWriteVector(w.WriteVector)}, rec.ETag, nil
}

// WriteSummary stores s if the persisted summary still has expectedETag
// (empty for a stream that has none yet) and returns the new etag.
func (x *Index) WriteSummary(ctx context.Context, stream string, s Summary, expectedETag string) (string, error) {
	if err := keys.Validate(stream); err != nil {
		return "", err
	}
	b, err := msgpack.Marshal(&summaryWire{Current: s.CurrentCommitNumber, WriteVector: s.WriteVector.String()})
	if err != nil {
		return "", fmt.Errorf("streamindex: encode summary: %w", err)
	}
	etag, err := x.backend.Write(ctx, storage.KindSummary, keys.Summary(stream), b, expectedETag)
	if errors.Is(err, storage.ErrConditionFailed) {
		return "", fmt.Errorf("%w: %s", ErrConflict, stream)
	}
	if err != nil {
		return "", fmt.Errorf("streamindex: write summary %s: %w", stream, err)
	}
	return etag, nil
}

func encodeSeq(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}
