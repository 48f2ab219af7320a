package logview

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/replog/internal/codec"
	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/keys"
	"github.com/rzbill/replog/internal/snapshot"
	"github.com/rzbill/replog/internal/streamindex"
	"github.com/rzbill/replog/pkg/id"
	"github.com/rzbill/replog/pkg/log"
)

// State is the adaptor lifecycle state.
type State int

const (
	Uninitialized State = iota
	Recovering
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Recovering:
		return "recovering"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultSnapshotInterval is used when snapshots are enabled without an
// interval.
const DefaultSnapshotInterval = 100

// DefaultMaxWriteAttempts bounds summary bump retries inside one Write.
const DefaultMaxWriteAttempts = 5

// Defaults for index hole repair. A hole is filled once writes have seen it
// DefaultHoleRepairAttempts times over at least DefaultHoleRepairAfter.
const (
	DefaultHoleRepairAttempts = 3
	DefaultHoleRepairAfter    = 2 * time.Second
)

// Fold applies one event to a view. It must be deterministic.
type Fold[V, E any] func(view V, event E) (V, error)

// Sequencer issues cluster-wide sequence numbers.
type Sequencer interface {
	Bump(ctx context.Context) (uint64, error)
}

// CommitStore is the subset of commitstore.Store used by the adaptor.
type CommitStore interface {
	Append(ctx context.Context, c commitstore.Commit) (string, error)
	Read(ctx context.Context, seq uint64) (commitstore.Commit, error)
}

// StreamIndex is the subset of streamindex.Index used by the adaptor.
type StreamIndex interface {
	RecordEntry(ctx context.Context, stream string, version, seq uint64) error
	ReadRange(ctx context.Context, stream string, from, to uint64) ([]uint64, error)
	ReadSummary(ctx context.Context, stream string) (streamindex.Summary, string, error)
	WriteSummary(ctx context.Context, stream string, s streamindex.Summary, expectedETag string) (string, error)
}

// SnapshotStore is the subset of snapshot.Store used by the adaptor.
type SnapshotStore[V any] interface {
	Save(ctx context.Context, stream string, snap snapshot.Snapshot[V]) error
	Load(ctx context.Context, stream string) (snapshot.Snapshot[V], bool, error)
}

// Stores bundles the durable collaborators of an adaptor.
type Stores[V any] struct {
	Sequencer Sequencer
	Commits   CommitStore
	Index     StreamIndex
	Snapshots SnapshotStore[V]
}

// Options configures an Adaptor.
type Options[V, E any] struct {
	Stream    string
	ReplicaID string

	// Initial returns the view of an empty stream. Zero value of V when nil.
	Initial func() V
	Fold    Fold[V, E]
	// EventCodec encodes events for commits and notifications. Msgpack when nil.
	EventCodec codec.Codec[E]

	TakeSnapshots    bool
	SnapshotInterval uint64
	MaxWriteAttempts int

	// HoleRepairAttempts and HoleRepairAfter decide when a write fills an
	// index hole left by a writer that reserved a version and never recorded
	// it. Both must be reached.
	HoleRepairAttempts int
	HoleRepairAfter    time.Duration

	// PostCommit runs after every successful write. Errors are logged only.
	PostCommit func(ctx context.Context, c commitstore.Commit) error
	// Broadcast sends a local write's notification to peer replicas.
	Broadcast func(ctx context.Context, n Notification)

	Logger  log.Logger
	Metrics MetricsHook
	IDs     *id.Generator
}

// reservation is a summary bump that has not yet been fully committed.
type reservation struct {
	version  uint64
	etag     string
	seq      uint64
	appended bool
	events   [][]byte
}

// holeWatch tracks the lowest index hole writes have run into.
type holeWatch struct {
	version uint64
	seen    int
	since   time.Time
}

// Adaptor is the per-stream log-view state machine.
type Adaptor[V, E any] struct {
	opts   Options[V, E]
	stores Stores[V]
	codec  codec.Codec[E]
	logger log.Logger
	mx     MetricsHook
	id     string
	now    func() time.Time

	state       State
	view        V
	confirmed   uint64
	writeVector string
	// replayed is the highest version folded from storage or from one of
	// this adaptor's own writes. Versions above it came from notifications.
	replayed    uint64

	pending [][]byte
	res     *reservation
	buffer  map[uint64]Notification
	hole    holeWatch
}

// New builds an adaptor in the Uninitialized state.
func New[V, E any](stores Stores[V], opts Options[V, E]) (*Adaptor[V, E], error) {
	if err := keys.Validate(opts.Stream); err != nil {
		return nil, err
	}
	if opts.ReplicaID == "" {
		return nil, fmt.Errorf("logview: replica id is required")
	}
	if opts.Fold == nil {
		return nil, ErrNoFold
	}
	if stores.Sequencer == nil || stores.Commits == nil || stores.Index == nil {
		return nil, fmt.Errorf("logview: sequencer, commit store and index are required")
	}
	if opts.EventCodec == nil {
		opts.EventCodec = codec.Msgpack[E]{}
	}
	if opts.TakeSnapshots && opts.SnapshotInterval == 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.MaxWriteAttempts <= 0 {
		opts.MaxWriteAttempts = DefaultMaxWriteAttempts
	}
	if opts.HoleRepairAttempts <= 0 {
		opts.HoleRepairAttempts = DefaultHoleRepairAttempts
	}
	if opts.HoleRepairAfter <= 0 {
		opts.HoleRepairAfter = DefaultHoleRepairAfter
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.IDs == nil {
		opts.IDs = id.NewGenerator()
	}
	instance := opts.IDs.Instance("logview")
	a := &Adaptor[V, E]{
		opts:   opts,
		stores: stores,
		codec:  opts.EventCodec,
		mx:     opts.Metrics,
		id:     instance,
		now:    time.Now,
		buffer: make(map[uint64]Notification),
	}
	a.logger = opts.Logger.With(
		log.Component("logview"),
		log.Stream(opts.Stream),
		log.Str(log.ReplicaKey, opts.ReplicaID),
		log.Str("instance", instance),
	)
	a.view = a.initial()
	return a, nil
}

func (a *Adaptor[V, E]) initial() V {
	if a.opts.Initial != nil {
		return a.opts.Initial()
	}
	var zero V
	return zero
}

// ID is the adaptor's instance identifier, unique within its id generator.
func (a *Adaptor[V, E]) ID() string { return a.id }

// Stream returns the stream id.
func (a *Adaptor[V, E]) Stream() string { return a.opts.Stream }

// State returns the lifecycle state.
func (a *Adaptor[V, E]) State() State { return a.state }

// ConfirmedView returns the folded view at ConfirmedVersion.
func (a *Adaptor[V, E]) ConfirmedView() V { return a.view }

// ConfirmedVersion returns the local version folded into the view.
func (a *Adaptor[V, E]) ConfirmedVersion() uint64 { return a.confirmed }

// PendingCount returns the number of submitted, uncommitted events.
func (a *Adaptor[V, E]) PendingCount() int { return len(a.pending) }

// BufferedNotifications returns the number of notifications waiting on a gap.
func (a *Adaptor[V, E]) BufferedNotifications() int { return len(a.buffer) }

// Activate recovers the confirmed view. A failed recovery keeps the progress
// made so far; calling Activate again resumes from there.
func (a *Adaptor[V, E]) Activate(ctx context.Context) error {
	switch a.state {
	case Ready:
		return nil
	case Uninitialized:
		a.state = Recovering
		if err := a.loadSnapshot(ctx); err != nil {
			a.state = Uninitialized
			return err
		}
	}

	target, err := a.Sync(ctx)
	if err != nil {
		a.logger.Warn("recovery incomplete", log.Uint64("confirmed", a.confirmed), log.Err(err))
		return err
	}
	a.state = Ready
	a.drain()
	a.logger.Info("activated", log.Uint64("version", target), log.Uint64("confirmed", a.confirmed))
	return nil
}

func (a *Adaptor[V, E]) loadSnapshot(ctx context.Context) error {
	summary, _, err := a.stores.Index.ReadSummary(ctx, a.opts.Stream)
	if err != nil {
		return fmt.Errorf("logview: read summary: %w", err)
	}
	a.writeVector = summary.WriteVector.String()
	a.view = a.initial()
	a.confirmed = 0
	a.replayed = 0

	if !a.opts.TakeSnapshots || a.stores.Snapshots == nil {
		return nil
	}
	snap, ok, err := a.stores.Snapshots.Load(ctx, a.opts.Stream)
	switch {
	case err != nil:
		a.logger.Warn("snapshot unavailable, replaying from start", log.Err(err))
	case !ok:
	case snap.Version > summary.CurrentCommitNumber:
		a.logger.Warn("snapshot ahead of summary, replaying from start",
			log.Uint64("snapshot", snap.Version), log.Uint64("summary", summary.CurrentCommitNumber))
	default:
		a.view = snap.View
		a.confirmed = snap.Version
		a.replayed = snap.Version
		a.logger.Debug("loaded snapshot", log.Uint64("version", snap.Version))
	}
	return nil
}

// Sync replays committed versions newer than ConfirmedVersion up to the
// current summary and returns the resulting confirmed version. It stops
// without error at an index gap.
func (a *Adaptor[V, E]) Sync(ctx context.Context) (uint64, error) {
	summary, _, err := a.stores.Index.ReadSummary(ctx, a.opts.Stream)
	if err != nil {
		return a.confirmed, fmt.Errorf("logview: read summary: %w", err)
	}
	a.writeVector = summary.WriteVector.String()
	if err := a.catchUp(ctx, summary.CurrentCommitNumber); err != nil {
		return a.confirmed, err
	}
	return a.confirmed, nil
}

// catchUp folds index entries (confirmed, target] in order, advancing the
// confirmed version after each commit.
func (a *Adaptor[V, E]) catchUp(ctx context.Context, target uint64) error {
	if a.confirmed >= target {
		return nil
	}
	seqs, err := a.stores.Index.ReadRange(ctx, a.opts.Stream, a.confirmed+1, target)
	for _, seq := range seqs {
		c, rerr := a.stores.Commits.Read(ctx, seq)
		if rerr != nil {
			return fmt.Errorf("logview: read commit %d: %w", seq, rerr)
		}
		a.apply(c.Events)
		a.confirmed++
		a.replayed = a.confirmed
	}
	if err != nil {
		return fmt.Errorf("logview: read index: %w", err)
	}
	if len(seqs) > 0 {
		a.drain()
	}
	return nil
}

// apply folds encoded events. Undecodable events and fold failures are
// logged, counted and skipped.
func (a *Adaptor[V, E]) apply(events [][]byte) {
	folded := 0
	for i, raw := range events {
		ev, err := a.codec.Unmarshal(raw)
		if err != nil {
			a.fault(i, err)
			continue
		}
		next, err := a.fold(ev)
		if err != nil {
			a.fault(i, err)
			continue
		}
		a.view = next
		folded++
	}
	if folded > 0 {
		a.mx.EventsFolded(a.opts.Stream, folded)
	}
}

func (a *Adaptor[V, E]) fold(ev E) (next V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fold panicked: %v", r)
		}
	}()
	return a.opts.Fold(a.view, ev)
}

func (a *Adaptor[V, E]) fault(i int, err error) {
	a.mx.FoldFault(a.opts.Stream)
	a.logger.Error("event skipped", log.Uint64("version", a.confirmed+1), log.Int("index", i), log.Err(err))
}

// RetrieveLogSegment returns the events of committed versions from..to,
// clamped to the current summary. It reads storage only and leaves the view
// untouched.
func (a *Adaptor[V, E]) RetrieveLogSegment(ctx context.Context, from, to uint64) ([]E, error) {
	summary, _, err := a.stores.Index.ReadSummary(ctx, a.opts.Stream)
	if err != nil {
		return nil, fmt.Errorf("logview: read summary: %w", err)
	}
	if to > summary.CurrentCommitNumber {
		to = summary.CurrentCommitNumber
	}
	if from == 0 {
		from = 1
	}
	seqs, err := a.stores.Index.ReadRange(ctx, a.opts.Stream, from, to)
	if err != nil {
		return nil, fmt.Errorf("logview: read index: %w", err)
	}
	var out []E
	for _, seq := range seqs {
		c, err := a.stores.Commits.Read(ctx, seq)
		if err != nil {
			return out, fmt.Errorf("logview: read commit %d: %w", seq, err)
		}
		for _, raw := range c.Events {
			ev, err := a.codec.Unmarshal(raw)
			if err != nil {
				return out, fmt.Errorf("logview: decode event of commit %d: %w", seq, err)
			}
			out = append(out, ev)
		}
	}
	return out, nil
}
