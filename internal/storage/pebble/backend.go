package pebblestore

import (
	"context"
	"errors"
	"sync"

	"github.com/rzbill/replog/internal/storage"
	"github.com/rzbill/replog/pkg/id"
)

// Backend implements storage.Backend on Pebble. Conditional writes are
// serialized by a mutex around read-compare-commit; Pebble's directory lock
// keeps other processes out.
type Backend struct {
	db    *db
	mu    sync.Mutex
	etags *id.Generator
}

// OpenBackend opens the database in opts.DataDir.
func OpenBackend(opts Options) (*Backend, error) {
	d, err := openDB(opts)
	if err != nil {
		return nil, err
	}
	return &Backend{db: d, etags: id.NewGenerator()}, nil
}

func (b *Backend) Read(ctx context.Context, kind storage.Kind, key []byte) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	return b.db.get(kind, key)
}

func (b *Backend) Write(ctx context.Context, kind storage.Kind, key, value []byte, expectedETag string) (string, error) {
	if err := storage.ValidKind(kind); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, err := b.db.get(kind, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if expectedETag != "" {
			return "", storage.ErrConditionFailed
		}
	case err != nil:
		return "", err
	case cur.ETag != expectedETag:
		return "", storage.ErrConditionFailed
	}
	return b.put(ctx, kind, key, value)
}

func (b *Backend) Put(ctx context.Context, kind storage.Kind, key, value []byte) (string, error) {
	if err := storage.ValidKind(kind); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.put(ctx, kind, key, value)
}

func (b *Backend) put(ctx context.Context, kind storage.Kind, key, value []byte) (string, error) {
	etag := b.etags.ETag()
	if err := b.db.set(ctx, kind, key, etag, value); err != nil {
		return "", err
	}
	return etag, nil
}

func (b *Backend) Scan(ctx context.Context, kind storage.Kind, prefix []byte, fn func(key []byte, rec storage.Record) error) error {
	return b.db.scan(ctx, kind, prefix, fn)
}

func (b *Backend) Close() error { return b.db.close() }
