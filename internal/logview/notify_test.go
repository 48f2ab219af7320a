package logview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeAdjacentSameOrigin(t *testing.T) {
	earlier := note(t, "east", 5, 7, "a", "b")
	later := note(t, "east", 7, 8, "c")

	merged, ok := earlier.Merge(later)
	require.True(t, ok)
	require.Equal(t, uint64(5), merged.StartVersion)
	require.Equal(t, uint64(8), merged.Version)
	require.Equal(t, []string{"a", "b", "c"}, decode(t, merged.Updates))
	require.Equal(t, later.ETag, merged.ETag)
	require.Equal(t, "east", merged.Origin)
	// inputs untouched
	require.Len(t, earlier.Updates, 2)
}

func TestMergeRejects(t *testing.T) {
	tests := []struct {
		name           string
		earlier, later Notification
	}{
		{"gap", note(t, "east", 5, 7, "a"), note(t, "east", 8, 9, "b")},
		{"overlap", note(t, "east", 5, 7, "a"), note(t, "east", 6, 8, "b")},
		{"other origin", note(t, "east", 5, 7, "a"), note(t, "west", 7, 8, "b")},
		{"reversed", note(t, "east", 7, 8, "a"), note(t, "east", 5, 7, "b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tt.earlier.Merge(tt.later)
			require.False(t, ok)
		})
	}
}

func TestMergeCap(t *testing.T) {
	big := make([]string, 150)
	for i := range big {
		big[i] = "x"
	}
	earlier := note(t, "east", 1, 2, big...)

	_, ok := earlier.Merge(note(t, "east", 2, 3, make([]string, MaxMergedUpdates-150)...))
	require.False(t, ok, "merged count must stay under the cap")

	_, ok = earlier.Merge(note(t, "east", 2, 3, make([]string, MaxMergedUpdates-151)...))
	require.True(t, ok)
}

func TestBufferedNotificationsMerge(t *testing.T) {
	c := newCluster()
	m := newCountingMetrics()
	a := c.ready(t, "west", func(_ *Stores[[]string], o *Options[[]string, string]) { o.Metrics = m })

	a.OnNotification(note(t, "east", 5, 7, "a", "b"))
	a.OnNotification(note(t, "east", 7, 8, "c"))
	require.Equal(t, 1, a.BufferedNotifications())
	n := a.buffer[5]
	require.Equal(t, uint64(8), n.Version)
	require.Equal(t, []string{"a", "b", "c"}, decode(t, n.Updates))
	require.Equal(t, 1, m.get("merged"))
	require.Equal(t, 1, m.buffered)

	// nothing applied: version 0..5 is still missing
	require.Zero(t, a.ConfirmedVersion())
	require.Empty(t, a.ConfirmedView())
}

func TestBufferedNonAdjacentStaySeparate(t *testing.T) {
	c := newCluster()
	a := c.ready(t, "west", nil)
	a.OnNotification(note(t, "east", 5, 7, "a"))
	a.OnNotification(note(t, "east", 8, 9, "b"))
	a.OnNotification(note(t, "north", 9, 10, "c"))
	require.Equal(t, 3, a.BufferedNotifications())
}

func TestStaleNotificationDiscarded(t *testing.T) {
	c := newCluster()
	m := newCountingMetrics()
	a := c.ready(t, "west", func(_ *Stores[[]string], o *Options[[]string, string]) { o.Metrics = m })
	a.confirmed = 10

	a.OnNotification(note(t, "east", 8, 9, "old"))
	require.Zero(t, a.BufferedNotifications())
	require.Equal(t, uint64(10), a.ConfirmedVersion())
	require.Empty(t, a.ConfirmedView())
	require.Equal(t, 1, m.get("discarded"))
	require.Zero(t, m.get("applied"))
}

func TestOutOfOrderNotificationsApplyInOrder(t *testing.T) {
	c := newCluster()
	m := newCountingMetrics()
	a := c.ready(t, "west", func(_ *Stores[[]string], o *Options[[]string, string]) { o.Metrics = m })

	a.OnNotification(note(t, "east", 2, 3, "c"))
	a.OnNotification(note(t, "north", 1, 2, "b"))
	require.Equal(t, 2, a.BufferedNotifications())
	require.Empty(t, a.ConfirmedView())

	a.OnNotification(note(t, "east", 0, 1, "a"))
	require.Zero(t, a.BufferedNotifications())
	require.Equal(t, uint64(3), a.ConfirmedVersion())
	require.Equal(t, []string{"a", "b", "c"}, a.ConfirmedView())
	require.Equal(t, 3, m.get("applied"))
	require.Zero(t, m.buffered)
}

func TestDuplicateNotificationAppliedOnce(t *testing.T) {
	c := newCluster()
	a := c.ready(t, "west", nil)
	n := note(t, "east", 0, 1, "a")
	a.OnNotification(n)
	a.OnNotification(n)
	require.Equal(t, []string{"a"}, a.ConfirmedView())
	require.Equal(t, uint64(1), a.ConfirmedVersion())
}

func TestIgnoredNotifications(t *testing.T) {
	c := newCluster()
	a := c.ready(t, "west", nil)

	own := note(t, "west", 0, 1, "echo")
	other := note(t, "east", 0, 1, "x")
	other.Stream = "acct-2"
	malformed := note(t, "east", 3, 3, "x")

	a.OnNotification(own)
	a.OnNotification(other)
	a.OnNotification(malformed)
	require.Zero(t, a.BufferedNotifications())
	require.Empty(t, a.ConfirmedView())
}

func TestUndecodableUpdateIsAFault(t *testing.T) {
	c := newCluster()
	m := newCountingMetrics()
	a := c.ready(t, "west", func(_ *Stores[[]string], o *Options[[]string, string]) { o.Metrics = m })
	n := note(t, "east", 0, 1, "x")
	n.Updates = append([][]byte{{0xc1}}, n.Updates...)

	a.OnNotification(n)
	require.Equal(t, []string{"x"}, a.ConfirmedView())
	require.Equal(t, uint64(1), a.ConfirmedVersion())
	require.Equal(t, 1, m.get("faults"))
}

func TestNotificationsBeforeActivationWait(t *testing.T) {
	c := newCluster()
	a := c.adaptor(t, "west", nil)
	a.OnNotification(note(t, "east", 0, 1, "a"))
	require.Equal(t, 1, a.BufferedNotifications())
	require.Empty(t, a.ConfirmedView())

	require.NoError(t, a.Activate(context.Background()))
	require.Zero(t, a.BufferedNotifications())
	require.Equal(t, []string{"a"}, a.ConfirmedView())
}

func TestSyncSupersedesGap(t *testing.T) {
	ctx := context.Background()
	c := newCluster()
	east := c.ready(t, "east", nil)
	west := c.ready(t, "west", nil)

	write(t, east, "x")
	write(t, east, "y")
	// west missed the first notification
	west.OnNotification(note(t, "east", 1, 2, "y"))
	require.Equal(t, 1, west.BufferedNotifications())

	v, err := west.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), v)
	require.Equal(t, []string{"x", "y"}, west.ConfirmedView())
	require.Zero(t, west.BufferedNotifications())
}

func TestGossipConvergesWithoutStorageReads(t *testing.T) {
	c := newCluster()
	west := c.ready(t, "west", nil)
	east := c.ready(t, "east", func(_ *Stores[[]string], o *Options[[]string, string]) {
		o.Broadcast = func(_ context.Context, n Notification) { west.OnNotification(n) }
	})

	write(t, east, "a")
	write(t, east, "b", "c")
	write(t, east, "d")

	require.Equal(t, east.ConfirmedVersion(), west.ConfirmedVersion())
	require.Equal(t, east.ConfirmedView(), west.ConfirmedView())

	// west can now write on top without catching up from storage
	write(t, west, "e")
	require.Equal(t, uint64(4), west.ConfirmedVersion())
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, west.ConfirmedView())
}
