// Package snapshot keeps the latest checkpoint of each stream's materialized
// view. Saves overwrite unconditionally; a snapshot that cannot be decoded is
// reported as absent so callers fall back to full replay.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rzbill/replog/internal/codec"
	"github.com/rzbill/replog/internal/keys"
	"github.com/rzbill/replog/internal/storage"
	"github.com/rzbill/replog/pkg/log"
)

// Snapshot is a view checkpointed at Version.
type Snapshot[V any] struct {
	View    V
	Version uint64
	// WriteVector is the summary's write vector when the snapshot was taken.
	// Diagnostic only.
	WriteVector string
}

type wire struct {
	Version     uint64 `msgpack:"v"`
	WriteVector string `msgpack:"wv"`
	Codec       string `msgpack:"c"`
	View        []byte `msgpack:"view"`
}

// Store saves and loads snapshots of views of type V.
type Store[V any] struct {
	backend storage.Backend
	codec   codec.Codec[V]
	logger  log.Logger
}

// New returns a Store encoding views with c (msgpack when nil).
func New[V any](backend storage.Backend, c codec.Codec[V], logger log.Logger) *Store[V] {
	if c == nil {
		c = codec.Msgpack[V]{}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Store[V]{backend: backend, codec: c, logger: logger.With(log.Component("snapshot"))}
}

// Save overwrites the stream's snapshot.
func (s *Store[V]) Save(ctx context.Context, stream string, snap Snapshot[V]) error {
	view, err := s.codec.Marshal(snap.View)
	if err != nil {
		return fmt.Errorf("snapshot: encode view: %w", err)
	}
	b, err := msgpack.Marshal(&wire{Version: snap.Version, WriteVector: snap.WriteVector, Codec: s.codec.Name(), View: view})
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if _, err := s.backend.Put(ctx, storage.KindSnapshot, keys.Snapshot(stream), b); err != nil {
		return fmt.Errorf("snapshot: save %s: %w", stream, err)
	}
	return nil
}

// Load returns the stream's snapshot. ok is false when there is none or it
// cannot be decoded; err is reserved for storage failures.
func (s *Store[V]) Load(ctx context.Context, stream string) (snap Snapshot[V], ok bool, err error) {
	rec, err := s.backend.Read(ctx, storage.KindSnapshot, keys.Snapshot(stream))
	if errors.Is(err, storage.ErrNotFound) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("snapshot: load %s: %w", stream, err)
	}
	var w wire
	if err := msgpack.Unmarshal(rec.Value, &w); err != nil {
		s.logger.Warn("discarding undecodable snapshot", log.Stream(stream), log.Err(err))
		return snap, false, nil
	}
	if w.Codec != "" && w.Codec != s.codec.Name() {
		s.logger.Warn("discarding snapshot written with another codec",
			log.Stream(stream), log.Str("codec", w.Codec))
		return snap, false, nil
	}
	view, err := s.codec.Unmarshal(w.View)
	if err != nil {
		s.logger.Warn("discarding incompatible snapshot", log.Stream(stream), log.Uint64("version", w.Version), log.Err(err))
		return snap, false, nil
	}
	return Snapshot[V]{View: view, Version: w.Version, WriteVector: w.WriteVector}, true, nil
}
