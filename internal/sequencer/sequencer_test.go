package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/replog/internal/storage"
	"github.com/rzbill/replog/internal/storage/memory"
)

func TestBumpIsSequential(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New(), "c1", nil)

	cur, err := s.Current(ctx)
	require.NoError(t, err)
	require.Zero(t, cur)

	var last uint64
	for want := uint64(1); want <= 5; want++ {
		got, err := s.Bump(ctx)
		require.NoError(t, err)
		require.Greater(t, got, last)
		tag, n := Split(got)
		require.Equal(t, Tag("c1"), tag)
		require.Equal(t, want, n)
		last = got
	}
	cur, err = s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, last, cur)
}

func TestBumpNeverRepeats(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	// Two instances over one backend stand in for two processes.
	a := New(backend, "c1", nil)
	b := New(backend, "c1", nil)

	const workers, perWorker = 8, 25
	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		s := a
		if w%2 == 1 {
			s = b
		}
		wg.Add(1)
		go func(s *Sequencer) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v, err := s.Bump(ctx)
				if err != nil {
					t.Errorf("bump: %v", err)
					return
				}
				mu.Lock()
				if seen[v] {
					t.Errorf("sequence %d issued twice", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	require.Len(t, seen, workers*perWorker)
	cur, err := a.Current(ctx)
	require.NoError(t, err)
	_, n := Split(cur)
	require.Equal(t, uint64(workers*perWorker), n)
}

func TestClustersAreIndependent(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	a := New(backend, "east", nil)
	b := New(backend, "west", nil)
	_, err := a.Bump(ctx)
	require.NoError(t, err)
	_, err = a.Bump(ctx)
	require.NoError(t, err)
	v, err := b.Bump(ctx)
	require.NoError(t, err)
	tag, n := Split(v)
	require.Equal(t, Tag("west"), tag)
	require.Equal(t, uint64(1), n)
}

func TestClustersOnSharedBackendIssueDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	require.NotEqual(t, Tag("cluster-east"), Tag("cluster-west"))

	seen := make(map[uint64]string)
	for _, cluster := range []string{"cluster-east", "cluster-west"} {
		s := New(backend, cluster, nil)
		for i := 0; i < 3; i++ {
			v, err := s.Bump(ctx)
			require.NoError(t, err)
			require.NotContains(t, seen, v, "issued by %s and %s", seen[v], cluster)
			seen[v] = cluster
		}
	}
}

func TestExhaustedCounter(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	_, err := backend.Put(ctx, storage.KindSequencer, []byte("c1/seq"), encode(maxCounter))
	require.NoError(t, err)
	_, err = New(backend, "c1", nil).Bump(ctx)
	require.ErrorIs(t, err, ErrExhausted)
}

type failingBackend struct {
	storage.Backend
	err error
}

func (f failingBackend) Write(context.Context, storage.Kind, []byte, []byte, string) (string, error) {
	return "", f.err
}

func TestBumpFailsWhenPersistFails(t *testing.T) {
	boom := errors.New("disk full")
	s := New(failingBackend{Backend: memory.New(), err: boom}, "c1", nil)
	v, err := s.Bump(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, v)
}

func TestCorruptCounter(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	_, err := backend.Put(ctx, storage.KindSequencer, []byte("c1/seq"), []byte("bad"))
	require.NoError(t, err)
	_, err = New(backend, "c1", nil).Bump(ctx)
	require.ErrorIs(t, err, ErrCorruptCounter)
}
