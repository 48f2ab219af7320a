// Package keys derives storage keys for stream-scoped records.
//
// Layout (byte-wise, lexicographically sortable within a kind):
//   - summary:   {stream}/s
//   - index:     {stream}/v/{version_be8}
//   - snapshot:  {stream}/snap
//   - commit:    {seq_be8}
//   - sequencer: {cluster}/seq
package keys

import (
	"encoding/binary"
	"errors"
	"strings"
)

const sep = '/'

const (
	SuffixSummary   = "s"
	SuffixSnapshot  = "snap"
	SuffixSequencer = "seq"
	suffixVersion   = "v/"
)

// ErrInvalidStreamID is returned by Validate.
var ErrInvalidStreamID = errors.New("keys: stream id must be non-empty and contain no '/'")

// Validate checks that id can be used as a key prefix without colliding
// with another stream's keys.
func Validate(id string) error {
	if id == "" || strings.IndexByte(id, sep) >= 0 {
		return ErrInvalidStreamID
	}
	return nil
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// StorageKey derives the key of a record owned by streamID.
func StorageKey(streamID, suffix string) []byte {
	k := make([]byte, 0, len(streamID)+1+len(suffix))
	k = append(k, streamID...)
	k = append(k, sep)
	k = append(k, suffix...)
	return k
}

// Summary is the key of the stream summary.
func Summary(streamID string) []byte { return StorageKey(streamID, SuffixSummary) }

// Snapshot is the key of the stream's latest snapshot.
func Snapshot(streamID string) []byte { return StorageKey(streamID, SuffixSnapshot) }

// IndexEntry is the key of the index entry for a local version.
func IndexEntry(streamID string, version uint64) []byte {
	k := StorageKey(streamID, suffixVersion)
	return appendBE8(k, version)
}

// IndexPrefix covers every index entry of a stream.
func IndexPrefix(streamID string) []byte { return StorageKey(streamID, suffixVersion) }

// VersionFromIndexKey extracts the version from an IndexEntry key.
func VersionFromIndexKey(k []byte) (uint64, bool) {
	if len(k) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(k[len(k)-8:]), true
}

// Commit is the key of the commit record with the given sequence number.
func Commit(seq uint64) []byte { return appendBE8(make([]byte, 0, 8), seq) }

// SeqFromCommitKey reverses Commit.
func SeqFromCommitKey(k []byte) (uint64, bool) {
	if len(k) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(k), true
}

// Sequencer is the key of a cluster's sequence counter.
func Sequencer(clusterID string) []byte { return StorageKey(clusterID, SuffixSequencer) }
