package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/internal/storage"
	pebblestore "github.com/rzbill/replog/internal/storage/pebble"
)

var (
	_ logview.MetricsHook     = (*Metrics)(nil)
	_ pebblestore.MetricsHook = (*Metrics)(nil)
)

func TestBufferedGaugePerStream(t *testing.T) {
	m := New()
	m.Activated("a")
	m.Activated("b")
	m.NotificationsBuffered("a", 3)
	m.NotificationsBuffered("b", 1)
	require.Equal(t, 3.0, testutil.ToFloat64(m.buffered.WithLabelValues("a")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.activations))

	m.Deactivated("a")
	require.Equal(t, 1, testutil.CollectAndCount(m.buffered))
	require.Equal(t, 1.0, testutil.ToFloat64(m.activations))
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.CommitWritten("s", 4, 3*time.Millisecond)
	m.WriteConflict("s")
	m.NotificationApplied("s")
	m.NotificationApplied("s")
	m.NotificationDiscarded("s")
	m.SnapshotSaved("s", nil)
	m.SnapshotSaved("s", errors.New("x"))
	m.GossipSent(nil)
	m.ObserveWrite(storage.KindCommit, time.Millisecond, 120)
	m.ObserveWrite(storage.KindCommit, time.Millisecond, 30)

	require.Equal(t, 1.0, testutil.ToFloat64(m.commits))
	require.Equal(t, 4.0, testutil.ToFloat64(m.commitEvents))
	require.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues("applied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.snapshots.WithLabelValues("error")))
	require.Equal(t, 150.0, testutil.ToFloat64(m.storageBytes.WithLabelValues("write", "commit")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "replog_commits_written_total 1"))
	require.True(t, strings.Contains(string(body), "replog_write_conflicts_total 1"))
}
