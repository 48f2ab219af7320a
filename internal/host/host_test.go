package host

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/replog/internal/codec"
	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/internal/sequencer"
	"github.com/rzbill/replog/internal/snapshot"
	"github.com/rzbill/replog/internal/storage"
	"github.com/rzbill/replog/internal/storage/memory"
	"github.com/rzbill/replog/internal/streamindex"
)

type counter map[string]int

func sumFold(v counter, key string) (counter, error) {
	out := make(counter, len(v)+1)
	for k, n := range v {
		out[k] = n
	}
	out[key]++
	return out, nil
}

type hook struct {
	mu          sync.Mutex
	activated   int
	deactivated int
}

func (h *hook) Activated(string) {
	h.mu.Lock()
	h.activated++
	h.mu.Unlock()
}

func (h *hook) Deactivated(string) {
	h.mu.Lock()
	h.deactivated++
	h.mu.Unlock()
}

func stores(b storage.Backend, cluster string) logview.Stores[counter] {
	return logview.Stores[counter]{
		Sequencer: sequencer.New(b, cluster, nil),
		Commits:   commitstore.New(b),
		Index:     streamindex.New(b),
		Snapshots: snapshot.New[counter](b, nil, nil),
	}
}

func newHost(t *testing.T, b storage.Backend, cluster string, mod func(*Config[counter, string])) *Host[counter, string] {
	t.Helper()
	cfg := Config[counter, string]{
		ClusterID: cluster,
		Stores:    stores(b, cluster),
		Template: logview.Options[counter, string]{
			Initial: func() counter { return counter{} },
			Fold:    sumFold,
		},
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	}
	if mod != nil {
		mod(&cfg)
	}
	h, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config[counter, string]{Template: logview.Options[counter, string]{Fold: sumFold}})
	require.Error(t, err)
	_, err = New(Config[counter, string]{ClusterID: "east"})
	require.ErrorIs(t, err, logview.ErrNoFold)
}

func TestAppendAndView(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, memory.New(), "east", nil)
	require.Equal(t, "east", h.ClusterID())

	v, err := h.Append(ctx, "s1", "a", "b")
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
	v, err = h.Append(ctx, "s1", "a")
	require.NoError(t, err)
	require.Equal(t, uint64(2), v)

	view, version, err := h.View(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), version)
	require.Equal(t, counter{"a": 2, "b": 1}, view)

	events, err := h.Segment(ctx, "s1", 1, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "a"}, events)

	_, err = h.Append(ctx, "bad/id", "a")
	require.Error(t, err)
}

func TestConcurrentAppendsAreSerialized(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, memory.New(), "east", nil)

	const writers, each = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if _, err := h.Append(ctx, "s1", "k"); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	view, _, err := h.View(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, writers*each, view["k"])
}

func TestTwoHostsSharingStorageConverge(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	east := newHost(t, b, "east", nil)
	west := newHost(t, b, "west", nil)

	// Without gossip the hosts only learn from storage; every append has to
	// catch up with the other host's commits first.
	for i := 0; i < 5; i++ {
		_, err := east.Append(ctx, "s1", "e")
		require.NoError(t, err)
		_, err = west.Append(ctx, "s1", "w")
		require.NoError(t, err)
	}

	eview, ev, err := east.Sync(ctx, "s1")
	require.NoError(t, err)
	wview, wv, err := west.Sync(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(10), ev)
	require.Equal(t, ev, wv)
	require.Equal(t, eview, wview)
	require.Equal(t, counter{"e": 5, "w": 5}, eview)
}

func TestDeliverRoutesToActiveStreams(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	var west *Host[counter, string]
	delivered := make(chan bool, 4)
	east := newHost(t, b, "east", func(c *Config[counter, string]) {
		c.Template.Broadcast = func(ctx context.Context, n logview.Notification) {
			// Called on east's activation goroutine; deliver asynchronously
			// the way a transport would.
			go func() {
				ok, _ := west.Deliver(context.Background(), n)
				delivered <- ok
			}()
		}
	})
	west = newHost(t, b, "west", nil)

	_, err := east.Append(ctx, "s1", "x")
	require.NoError(t, err)
	require.False(t, <-delivered, "inactive streams ignore notifications")

	// activation replays the version the notification announced
	view, version, err := west.View(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)
	require.Equal(t, counter{"x": 1}, view)

	_, err = east.Append(ctx, "s1", "y")
	require.NoError(t, err)
	require.True(t, <-delivered)
	view, version, err = west.View(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), version)
	require.Equal(t, counter{"x": 1, "y": 1}, view)
}

func TestAppendAfterNotificationFromOtherStorage(t *testing.T) {
	ctx := context.Background()
	west := newHost(t, memory.New(), "west", nil)
	_, _, err := west.View(ctx, "s1")
	require.NoError(t, err)

	upd, err := codec.Msgpack[string]{}.Marshal("x")
	require.NoError(t, err)
	ok, err := west.Deliver(ctx, logview.Notification{Stream: "s1", StartVersion: 0, Version: 1, Origin: "east", Updates: [][]byte{upd}})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = west.Append(ctx, "s1", "y")
	require.ErrorIs(t, err, logview.ErrDiverged)

	view, version, err := west.View(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)
	require.Equal(t, counter{"x": 1}, view)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, memory.New(), "east", nil)
	_, err := h.Append(ctx, "b", "x")
	require.NoError(t, err)
	_, err = h.Append(ctx, "a", "x")
	require.NoError(t, err)

	st, err := h.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, st, 2)
	require.Equal(t, "a", st[0].Stream)
	require.Equal(t, "ready", st[0].State)
	require.Equal(t, uint64(1), st[0].Version)
	require.True(t, st[0].Activated)

	_, ok, err := h.StreamStats(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIdleSweep(t *testing.T) {
	ctx := context.Background()
	hk := &hook{}
	b := memory.New()
	h := newHost(t, b, "east", func(c *Config[counter, string]) {
		c.IdleTimeout = time.Minute
		c.Hook = hk
	})
	for i := 0; i < 3; i++ {
		_, err := h.Append(ctx, fmt.Sprintf("s%d", i), "x")
		require.NoError(t, err)
	}
	require.Equal(t, 3, h.Active())

	require.Zero(t, h.sweep(time.Now()))
	require.Equal(t, 3, h.sweep(time.Now().Add(2*time.Minute)))
	require.Zero(t, h.Active())
	require.Equal(t, 3, hk.activated)
	require.Equal(t, 3, hk.deactivated)

	// reactivation recovers from storage
	view, version, err := h.View(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)
	require.Equal(t, counter{"x": 1}, view)
}

func TestRunStopsWithContext(t *testing.T) {
	h := newHost(t, memory.New(), "east", func(c *Config[counter, string]) { c.SweepEvery = time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestClosedHost(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, memory.New(), "east", nil)
	_, err := h.Append(ctx, "s1", "x")
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err = h.Append(ctx, "s1", "x")
	require.ErrorIs(t, err, ErrClosed)
	ok, err := h.Deliver(ctx, logview.Notification{Stream: "s1"})
	require.ErrorIs(t, err, ErrClosed)
	require.False(t, ok)
}

func TestWaitVersion(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, memory.New(), "east", nil)
	_, err := h.Append(ctx, "s1", "a")
	require.NoError(t, err)

	view, v, moved, err := h.WaitVersion(ctx, "s1", 0, time.Second)
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, uint64(1), v)
	require.Equal(t, counter{"a": 1}, view)

	_, v, moved, err = h.WaitVersion(ctx, "s1", 1, 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, moved)
	require.Equal(t, uint64(1), v)

	go func() {
		time.Sleep(20 * time.Millisecond)
		if _, err := h.Append(ctx, "s1", "b"); err != nil {
			t.Errorf("append: %v", err)
		}
	}()
	view, v, moved, err = h.WaitVersion(ctx, "s1", 1, 5*time.Second)
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, uint64(2), v)
	require.Equal(t, counter{"a": 1, "b": 1}, view)
}

func TestWaitVersionWokenByGossip(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, memory.New(), "west", nil)
	_, _, err := h.View(ctx, "s1")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		upd, _ := codec.Msgpack[string]{}.Marshal("x")
		_, _ = h.Deliver(ctx, logview.Notification{Stream: "s1", StartVersion: 0, Version: 1, Origin: "east", Updates: [][]byte{upd}})
	}()
	view, v, moved, err := h.WaitVersion(ctx, "s1", 0, 5*time.Second)
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, uint64(1), v)
	require.Equal(t, counter{"x": 1}, view)
}
