// Package boltstore implements storage.Backend on bbolt, one bucket per
// record kind. bbolt serializes update transactions, which gives conditional
// writes their atomicity without extra locking.
package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rzbill/replog/internal/storage"
	"github.com/rzbill/replog/pkg/id"
)

// Options configures the bolt backend.
type Options struct {
	// Path is the database file.
	Path string
	// NoSync skips fsync on commit. Test use only.
	NoSync bool
	// Timeout bounds waiting for the file lock.
	Timeout time.Duration
}

// Backend stores envelopes in bbolt buckets.
type Backend struct {
	db    *bolt.DB
	etags *id.Generator
}

// Open opens or creates the database at opts.Path and ensures every bucket.
func Open(opts Options) (*Backend, error) {
	if opts.Path == "" {
		return nil, errors.New("bolt: Options.Path is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: opts.Timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", opts.Path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, k := range storage.Kinds {
			if _, err := tx.CreateBucketIfNotExists([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}
	return &Backend{db: db, etags: id.NewGenerator()}, nil
}

func bucket(tx *bolt.Tx, kind storage.Kind) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(kind))
	if b == nil {
		return nil, fmt.Errorf("storage: unknown kind %q", kind)
	}
	return b, nil
}

func (b *Backend) Read(ctx context.Context, kind storage.Kind, key []byte) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	var rec storage.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		bk, err := bucket(tx, kind)
		if err != nil {
			return err
		}
		raw := bk.Get(key)
		if raw == nil {
			return storage.ErrNotFound
		}
		rec, err = storage.DecodeEnvelope(raw)
		return err
	})
	return rec, err
}

func (b *Backend) Write(ctx context.Context, kind storage.Kind, key, value []byte, expectedETag string) (string, error) {
	return b.update(ctx, kind, key, value, func(cur []byte) error {
		if cur == nil {
			if expectedETag != "" {
				return storage.ErrConditionFailed
			}
			return nil
		}
		rec, err := storage.DecodeEnvelope(cur)
		if err != nil {
			return err
		}
		if expectedETag == "" || rec.ETag != expectedETag {
			return storage.ErrConditionFailed
		}
		return nil
	})
}

func (b *Backend) Put(ctx context.Context, kind storage.Kind, key, value []byte) (string, error) {
	return b.update(ctx, kind, key, value, nil)
}

func (b *Backend) update(ctx context.Context, kind storage.Kind, key, value []byte, check func(cur []byte) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	etag := b.etags.ETag()
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk, err := bucket(tx, kind)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(bk.Get(key)); err != nil {
				return err
			}
		}
		return bk.Put(key, storage.EncodeEnvelope(etag, value))
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

func (b *Backend) Scan(ctx context.Context, kind storage.Kind, prefix []byte, fn func(key []byte, rec storage.Record) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		bk, err := bucket(tx, kind)
		if err != nil {
			return err
		}
		c := bk.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := storage.DecodeEnvelope(v)
			if err != nil {
				return err
			}
			if err := fn(append([]byte(nil), k...), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) Close() error { return b.db.Close() }
