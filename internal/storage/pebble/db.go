package pebblestore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/replog/internal/storage"
)

// FsyncMode selects when a committed write reaches the WAL on disk.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL before every write returns.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble group WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble.
	FsyncModeNever
)

// ParseFsyncMode maps always|interval|never to a FsyncMode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "always", "":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	default:
		return FsyncModeUnspecified, errors.New("pebble: fsync must be always|interval|never")
	}
}

// Options configures a pebble-backed store.
type Options struct {
	DataDir       string
	Fsync         FsyncMode
	FsyncInterval time.Duration
	// PebbleOptions tunes Pebble directly. Nil means defaults.
	PebbleOptions *pebble.Options
	// Metrics observes reads and writes per record kind. Optional.
	Metrics MetricsHook
}

// MetricsHook observes storage traffic by record kind.
type MetricsHook interface {
	ObserveRead(kind storage.Kind, elapsed time.Duration, bytes int)
	ObserveWrite(kind storage.Kind, elapsed time.Duration, bytes int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRead(storage.Kind, time.Duration, int)  {}
func (noopMetrics) ObserveWrite(storage.Kind, time.Duration, int) {}

// db is the raw keyspace: {kind}/{key} -> envelope(etag, value).
type db struct {
	inner   *pebble.DB
	wo      *pebble.WriteOptions
	metrics MetricsHook
	closed  atomic.Bool
}

func openDB(opts Options) (*db, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	switch opts.Fsync {
	case FsyncModeAlways, FsyncModeNever:
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return opts.FsyncInterval }
	default:
		opts.Fsync = FsyncModeAlways
	}
	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	d := &db{inner: inner, wo: pebble.NoSync, metrics: opts.Metrics}
	if opts.Fsync == FsyncModeAlways {
		d.wo = pebble.Sync
	}
	if d.metrics == nil {
		d.metrics = noopMetrics{}
	}
	return d, nil
}

func kindKey(kind storage.Kind, key []byte) []byte {
	k := make([]byte, 0, len(kind)+1+len(key))
	k = append(k, kind...)
	k = append(k, '/')
	return append(k, key...)
}

// prefixEnd returns the smallest key greater than every key with prefix p,
// or nil when no such key exists.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func (d *db) get(kind storage.Kind, key []byte) (storage.Record, error) {
	if d.closed.Load() {
		return storage.Record{}, storage.ErrClosed
	}
	start := time.Now()
	val, closer, err := d.inner.Get(kindKey(kind, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, err
	}
	defer closer.Close()
	// DecodeEnvelope copies out of val, which is only valid until closer runs.
	rec, err := storage.DecodeEnvelope(val)
	d.metrics.ObserveRead(kind, time.Since(start), len(val))
	return rec, err
}

func (d *db) set(ctx context.Context, kind storage.Kind, key []byte, etag string, value []byte) error {
	if d.closed.Load() {
		return storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	env := storage.EncodeEnvelope(etag, value)
	b := d.inner.NewBatch()
	defer b.Close()
	if err := b.Set(kindKey(kind, key), env, nil); err != nil {
		return err
	}
	if err := b.Commit(d.wo); err != nil {
		return err
	}
	d.metrics.ObserveWrite(kind, time.Since(start), len(env))
	return nil
}

func (d *db) scan(ctx context.Context, kind storage.Kind, prefix []byte, fn func(key []byte, rec storage.Record) error) error {
	if d.closed.Load() {
		return storage.ErrClosed
	}
	lower := kindKey(kind, prefix)
	it, err := d.inner.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(lower)})
	if err != nil {
		return err
	}
	defer it.Close()

	start, n := time.Now(), 0
	defer func() { d.metrics.ObserveRead(kind, time.Since(start), n) }()
	strip := len(kind) + 1
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := storage.DecodeEnvelope(it.Value())
		if err != nil {
			return err
		}
		n += len(it.Value())
		key := append([]byte(nil), it.Key()[strip:]...)
		if err := fn(key, rec); err != nil {
			return err
		}
	}
	return it.Error()
}

func (d *db) close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.inner.Close()
}
