// Package memory is an in-process storage.Backend used by tests and by the
// `memory` engine for throwaway nodes.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/rzbill/replog/internal/storage"
	"github.com/rzbill/replog/pkg/id"
)

// Backend keeps records in maps guarded by a mutex.
type Backend struct {
	mu     sync.RWMutex
	data   map[storage.Kind]map[string]storage.Record
	etags  *id.Generator
	closed bool
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{data: make(map[storage.Kind]map[string]storage.Record), etags: id.NewGenerator()}
}

func (b *Backend) Read(_ context.Context, kind storage.Kind, key []byte) (storage.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return storage.Record{}, storage.ErrClosed
	}
	rec, ok := b.data[kind][string(key)]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return storage.Record{Value: append([]byte(nil), rec.Value...), ETag: rec.ETag}, nil
}

func (b *Backend) Write(_ context.Context, kind storage.Kind, key, value []byte, expectedETag string) (string, error) {
	if err := storage.ValidKind(kind); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", storage.ErrClosed
	}
	cur, exists := b.data[kind][string(key)]
	switch {
	case expectedETag == "" && exists:
		return "", storage.ErrConditionFailed
	case expectedETag != "" && (!exists || cur.ETag != expectedETag):
		return "", storage.ErrConditionFailed
	}
	return b.store(kind, key, value), nil
}

func (b *Backend) Put(_ context.Context, kind storage.Kind, key, value []byte) (string, error) {
	if err := storage.ValidKind(kind); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", storage.ErrClosed
	}
	return b.store(kind, key, value), nil
}

func (b *Backend) store(kind storage.Kind, key, value []byte) string {
	m := b.data[kind]
	if m == nil {
		m = make(map[string]storage.Record)
		b.data[kind] = m
	}
	etag := b.etags.ETag()
	m[string(key)] = storage.Record{Value: append([]byte(nil), value...), ETag: etag}
	return etag
}

func (b *Backend) Scan(ctx context.Context, kind storage.Kind, prefix []byte, fn func(key []byte, rec storage.Record) error) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return storage.ErrClosed
	}
	type kv struct {
		k string
		r storage.Record
	}
	var items []kv
	for k, r := range b.data[kind] {
		if bytes.HasPrefix([]byte(k), prefix) {
			items = append(items, kv{k, r})
		}
	}
	b.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].k < items[j].k })
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn([]byte(it.k), storage.Record{Value: append([]byte(nil), it.r.Value...), ETag: it.r.ETag}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
