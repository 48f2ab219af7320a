// Package storagetest holds the conformance suite every storage.Backend
// implementation runs from its own tests.
package storagetest

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/replog/internal/storage"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) storage.Backend

// Run executes the conformance suite against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("ReadMissing", func(t *testing.T) { testReadMissing(t, newBackend(t)) })
	t.Run("CreateOnly", func(t *testing.T) { testCreateOnly(t, newBackend(t)) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, newBackend(t)) })
	t.Run("PutOverwrites", func(t *testing.T) { testPut(t, newBackend(t)) })
	t.Run("KindsAreIsolated", func(t *testing.T) { testKinds(t, newBackend(t)) })
	t.Run("ScanPrefix", func(t *testing.T) { testScan(t, newBackend(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newBackend(t)) })
	t.Run("ConcurrentCAS", func(t *testing.T) { testConcurrentCAS(t, newBackend(t)) })
}

func testReadMissing(t *testing.T, b storage.Backend) {
	_, err := b.Read(context.Background(), storage.KindCommit, []byte("nope"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testCreateOnly(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	etag, err := b.Write(ctx, storage.KindCommit, []byte("k"), []byte("first"), "")
	require.NoError(t, err)
	require.NotEmpty(t, etag)

	_, err = b.Write(ctx, storage.KindCommit, []byte("k"), []byte("second"), "")
	require.ErrorIs(t, err, storage.ErrConditionFailed)

	rec, err := b.Read(ctx, storage.KindCommit, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "first", string(rec.Value))
	require.Equal(t, etag, rec.ETag)
}

func testConditionalUpdate(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	key := []byte("stream/s")
	e1, err := b.Write(ctx, storage.KindSummary, key, []byte("v1"), "")
	require.NoError(t, err)

	e2, err := b.Write(ctx, storage.KindSummary, key, []byte("v2"), e1)
	require.NoError(t, err)
	require.NotEqual(t, e1, e2)

	_, err = b.Write(ctx, storage.KindSummary, key, []byte("stale"), e1)
	require.ErrorIs(t, err, storage.ErrConditionFailed)

	_, err = b.Write(ctx, storage.KindSummary, []byte("missing"), []byte("x"), e1)
	require.ErrorIs(t, err, storage.ErrConditionFailed)

	rec, err := b.Read(ctx, storage.KindSummary, key)
	require.NoError(t, err)
	require.Equal(t, "v2", string(rec.Value))
	require.Equal(t, e2, rec.ETag)
}

func testPut(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	_, err := b.Put(ctx, storage.KindSnapshot, []byte("s/snap"), []byte("a"))
	require.NoError(t, err)
	e2, err := b.Put(ctx, storage.KindSnapshot, []byte("s/snap"), []byte("b"))
	require.NoError(t, err)
	rec, err := b.Read(ctx, storage.KindSnapshot, []byte("s/snap"))
	require.NoError(t, err)
	require.Equal(t, "b", string(rec.Value))
	require.Equal(t, e2, rec.ETag)
}

func testKinds(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	_, err := b.Write(ctx, storage.KindIndex, []byte("same"), []byte("index"), "")
	require.NoError(t, err)
	_, err = b.Write(ctx, storage.KindCommit, []byte("same"), []byte("commit"), "")
	require.NoError(t, err)

	rec, err := b.Read(ctx, storage.KindIndex, []byte("same"))
	require.NoError(t, err)
	require.Equal(t, "index", string(rec.Value))
	_, err = b.Read(ctx, storage.KindSummary, []byte("same"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testScan(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	for _, k := range []string{"b/2", "a/1", "b/1", "c/1", "b/3"} {
		_, err := b.Write(ctx, storage.KindIndex, []byte(k), []byte(k), "")
		require.NoError(t, err)
	}
	var got []string
	err := b.Scan(ctx, storage.KindIndex, []byte("b/"), func(key []byte, rec storage.Record) error {
		require.Equal(t, string(key), string(rec.Value))
		got = append(got, string(key))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"b/1", "b/2", "b/3"}, got)

	stop := errors.New("stop")
	n := 0
	err = b.Scan(ctx, storage.KindIndex, nil, func([]byte, storage.Record) error {
		n++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, n)
}

func testConcurrentCreate(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Write(ctx, storage.KindCommit, []byte("slot"), []byte{byte(i)}, "")
			if err == nil {
				wins.Add(1)
				return
			}
			if !errors.Is(err, storage.ErrConditionFailed) {
				t.Errorf("create: %v", err)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func testConcurrentCAS(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	key := []byte("counter")
	const workers, perWorker = 8, 10

	incr := func() {
		for {
			var cur uint64
			etag := ""
			rec, err := b.Read(ctx, storage.KindSequencer, key)
			switch {
			case err == nil:
				cur = binary.BigEndian.Uint64(rec.Value)
				etag = rec.ETag
			case !errors.Is(err, storage.ErrNotFound):
				t.Errorf("read: %v", err)
				return
			}
			var next [8]byte
			binary.BigEndian.PutUint64(next[:], cur+1)
			_, err = b.Write(ctx, storage.KindSequencer, key, next[:], etag)
			if errors.Is(err, storage.ErrConditionFailed) {
				continue
			}
			if err != nil {
				t.Errorf("write: %v", err)
			}
			return
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				incr()
			}
		}()
	}
	wg.Wait()

	rec, err := b.Read(ctx, storage.KindSequencer, key)
	require.NoError(t, err)
	require.Equal(t, uint64(workers*perWorker), binary.BigEndian.Uint64(rec.Value))
}
