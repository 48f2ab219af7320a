package snapshot

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/replog/internal/codec"
	"github.com/rzbill/replog/internal/keys"
	"github.com/rzbill/replog/internal/storage"
	"github.com/rzbill/replog/internal/storage/memory"
	"github.com/rzbill/replog/pkg/log"
)

type counterView struct {
	Total int            `json:"total" msgpack:"total"`
	Seen  map[string]int `json:"seen" msgpack:"seen"`
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := New[counterView](memory.New(), nil, nil)

	_, ok, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)

	want := counterView{Total: 3, Seen: map[string]int{"a": 2, "b": 1}}
	require.NoError(t, s.Save(ctx, "s1", Snapshot[counterView]{View: want, Version: 2, WriteVector: "east"}))

	got, ok, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), got.Version)
	require.Equal(t, "east", got.WriteVector)
	require.Equal(t, want, got.View)
}

func TestSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := New[int](memory.New(), nil, nil)
	require.NoError(t, s.Save(ctx, "s1", Snapshot[int]{View: 1, Version: 1}))
	require.NoError(t, s.Save(ctx, "s1", Snapshot[int]{View: 5, Version: 4}))
	got, ok, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, got.View)
	require.Equal(t, uint64(4), got.Version)
}

func TestIncompatibleViewIsAbsent(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	var buf bytes.Buffer
	logger := log.NewLogger(log.WithOutput(&log.ConsoleOutput{Writer: &buf}), log.WithFormatter(&log.TextFormatter{DisableTimestamp: true}))

	old := New[map[string]string](backend, codec.JSON[map[string]string]{}, nil)
	require.NoError(t, old.Save(ctx, "s1", Snapshot[map[string]string]{View: map[string]string{"x": "y"}, Version: 3}))

	type reshaped struct {
		Count int `json:"count"`
	}
	cur := New[reshaped](backend, codec.JSON[reshaped]{}, logger)
	_, ok, err := cur.Load(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, buf.String(), "incompatible snapshot")
}

func TestGarbageIsAbsent(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	_, err := backend.Put(ctx, storage.KindSnapshot, keys.Snapshot("s1"), []byte{0xc1})
	require.NoError(t, err)
	_, ok, err := New[int](backend, nil, nil).Load(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCodecMismatchIsAbsent(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, New[int](backend, codec.JSON[int]{}, nil).Save(ctx, "s1", Snapshot[int]{View: 1, Version: 1}))
	_, ok, err := New[int](backend, nil, nil).Load(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}
