package logview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/sequencer"
	"github.com/rzbill/replog/internal/snapshot"
	"github.com/rzbill/replog/internal/storage/memory"
	"github.com/rzbill/replog/internal/streamindex"
)

const testStream = "acct-1"

var errUnavailable = errors.New("storage unavailable")

// appendFold records events in order; "bad" fails and "panic" panics.
func appendFold(v []string, e string) ([]string, error) {
	switch e {
	case "bad":
		return v, errors.New("bad event")
	case "panic":
		panic("boom")
	}
	out := make([]string, 0, len(v)+1)
	out = append(out, v...)
	return append(out, e), nil
}

type cluster struct {
	backend *memory.Backend
	seq     *sequencer.Sequencer
	commits *commitstore.Store
	index   *streamindex.Index
	snaps   *snapshot.Store[[]string]
}

func newCluster() *cluster {
	b := memory.New()
	return &cluster{
		backend: b,
		seq:     sequencer.New(b, "test", nil),
		commits: commitstore.New(b),
		index:   streamindex.New(b),
		snaps:   snapshot.New[[]string](b, nil, nil),
	}
}

func (c *cluster) stores() Stores[[]string] {
	return Stores[[]string]{Sequencer: c.seq, Commits: c.commits, Index: c.index, Snapshots: c.snaps}
}

type testAdaptor = Adaptor[[]string, string]

func (c *cluster) adaptor(t *testing.T, replica string, mod func(*Stores[[]string], *Options[[]string, string])) *testAdaptor {
	t.Helper()
	stores := c.stores()
	opts := Options[[]string, string]{
		Stream:    testStream,
		ReplicaID: replica,
		Initial:   func() []string { return []string{} },
		Fold:      appendFold,
	}
	if mod != nil {
		mod(&stores, &opts)
	}
	a, err := New(stores, opts)
	require.NoError(t, err)
	return a
}

func (c *cluster) ready(t *testing.T, replica string, mod func(*Stores[[]string], *Options[[]string, string])) *testAdaptor {
	t.Helper()
	a := c.adaptor(t, replica, mod)
	require.NoError(t, a.Activate(context.Background()))
	return a
}

func (c *cluster) commitCount(t *testing.T) int {
	t.Helper()
	n := 0
	require.NoError(t, c.commits.Scan(context.Background(), func(commitstore.Commit) error {
		n++
		return nil
	}))
	return n
}

func write(t *testing.T, a *testAdaptor, events ...string) {
	t.Helper()
	require.NoError(t, a.Submit(events...))
	n, err := a.Write(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(events), n)
}

func encode(t *testing.T, events ...string) [][]byte {
	t.Helper()
	out := make([][]byte, len(events))
	for i, e := range events {
		b, err := msgpack.Marshal(e)
		require.NoError(t, err)
		out[i] = b
	}
	return out
}

func decode(t *testing.T, raws [][]byte) []string {
	t.Helper()
	out := make([]string, len(raws))
	for i, b := range raws {
		require.NoError(t, msgpack.Unmarshal(b, &out[i]))
	}
	return out
}

func note(t *testing.T, origin string, start, version uint64, events ...string) Notification {
	return Notification{
		Stream:       testStream,
		StartVersion: start,
		Version:      version,
		Updates:      encode(t, events...),
		Origin:       origin,
		ETag:         fmt.Sprintf("%s-%d", origin, version),
	}
}

type countingMetrics struct {
	mu       sync.Mutex
	counts   map[string]int
	buffered int
}

func newCountingMetrics() *countingMetrics { return &countingMetrics{counts: map[string]int{}} }

func (m *countingMetrics) inc(k string, n int) {
	m.mu.Lock()
	m.counts[k] += n
	m.mu.Unlock()
}

func (m *countingMetrics) get(k string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[k]
}

func (m *countingMetrics) CommitWritten(string, int, time.Duration) {
	m.inc("commits", 1)
}
func (m *countingMetrics) WriteConflict(string)         { m.inc("conflicts", 1) }
func (m *countingMetrics) EventsFolded(_ string, n int) { m.inc("folded", n) }
func (m *countingMetrics) FoldFault(string)             { m.inc("faults", 1) }
func (m *countingMetrics) NotificationApplied(string)   { m.inc("applied", 1) }
func (m *countingMetrics) NotificationDiscarded(string) { m.inc("discarded", 1) }
func (m *countingMetrics) NotificationMerged(string)    { m.inc("merged", 1) }
func (m *countingMetrics) NotificationsBuffered(_ string, n int) {
	m.mu.Lock()
	m.buffered = n
	m.mu.Unlock()
}
func (m *countingMetrics) SnapshotSaved(_ string, err error) {
	if err != nil {
		m.inc("snapshot_failures", 1)
		return
	}
	m.inc("snapshots", 1)
}

// testSeq is the n-th sequence number of newCluster's sequencer.
func testSeq(n uint64) uint64 { return sequencer.Tag("test")<<sequencer.CounterBits | n }

// fixedSequencer hands out the given numbers in order.
type fixedSequencer struct {
	next []uint64
}

func (s *fixedSequencer) Bump(context.Context) (uint64, error) {
	v := s.next[0]
	s.next = s.next[1:]
	return v, nil
}

type countingSequencer struct {
	Sequencer
	bumps int
}

func (s *countingSequencer) Bump(ctx context.Context) (uint64, error) {
	s.bumps++
	return s.Sequencer.Bump(ctx)
}

// flakyCommits fails Append (before or after persisting) and Read on demand.
type flakyCommits struct {
	CommitStore
	failAppends int
	lostReplies int
	failReadSeq uint64
}

func (f *flakyCommits) Append(ctx context.Context, c commitstore.Commit) (string, error) {
	if f.failAppends > 0 {
		f.failAppends--
		return "", errUnavailable
	}
	etag, err := f.CommitStore.Append(ctx, c)
	if err == nil && f.lostReplies > 0 {
		f.lostReplies--
		return "", errUnavailable
	}
	return etag, err
}

func (f *flakyCommits) Read(ctx context.Context, seq uint64) (commitstore.Commit, error) {
	if f.failReadSeq != 0 && seq == f.failReadSeq {
		f.failReadSeq = 0
		return commitstore.Commit{}, errUnavailable
	}
	return f.CommitStore.Read(ctx, seq)
}

// flakyIndex fails RecordEntry on demand and can run a hook right before
// the next summary write.
type flakyIndex struct {
	StreamIndex
	failRecords        int
	beforeWriteSummary func()
}

func (f *flakyIndex) RecordEntry(ctx context.Context, stream string, version, seq uint64) error {
	if f.failRecords > 0 {
		f.failRecords--
		return errUnavailable
	}
	return f.StreamIndex.RecordEntry(ctx, stream, version, seq)
}

func (f *flakyIndex) WriteSummary(ctx context.Context, stream string, s streamindex.Summary, etag string) (string, error) {
	if hook := f.beforeWriteSummary; hook != nil {
		f.beforeWriteSummary = nil
		hook()
	}
	return f.StreamIndex.WriteSummary(ctx, stream, s, etag)
}

type failingSnapshots struct{}

func (failingSnapshots) Save(context.Context, string, snapshot.Snapshot[[]string]) error {
	return errUnavailable
}

func (failingSnapshots) Load(context.Context, string) (snapshot.Snapshot[[]string], bool, error) {
	return snapshot.Snapshot[[]string]{}, false, errUnavailable
}
