package logview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/snapshot"
	"github.com/rzbill/replog/internal/streamindex"
	"github.com/rzbill/replog/pkg/log"
)

// Submit encodes events and appends them to the pending batch. It is
// accepted in every state.
func (a *Adaptor[V, E]) Submit(events ...E) error {
	raws := make([][]byte, 0, len(events))
	for i, ev := range events {
		b, err := a.codec.Marshal(ev)
		if err != nil {
			return fmt.Errorf("logview: encode event #%d: %w", i, err)
		}
		raws = append(raws, b)
	}
	a.pending = append(a.pending, raws...)
	return nil
}

// Write commits the pending batch and returns the number of events
// committed. On failure it returns 0 and the batch stays pending, except for
// ErrDiverged after the commit became durable: the batch is consumed and the
// adaptor drops back to Uninitialized so the next Activate rebuilds the view
// from storage.
func (a *Adaptor[V, E]) Write(ctx context.Context) (int, error) {
	if a.state != Ready {
		return 0, ErrNotReady
	}
	if a.res == nil && len(a.pending) == 0 {
		return 0, nil
	}
	start := time.Now()

	if a.res == nil {
		batch := append([][]byte(nil), a.pending...)
		version, etag, err := a.reserve(ctx)
		if err != nil {
			return 0, err
		}
		a.res = &reservation{version: version, etag: etag, events: batch}
	}
	r := a.res

	if r.seq == 0 {
		seq, err := a.stores.Sequencer.Bump(ctx)
		if err != nil {
			return 0, fmt.Errorf("logview: bump sequencer: %w", err)
		}
		r.seq = seq
	}

	c := commitstore.Commit{
		Sequence: r.seq,
		Stream:   a.opts.Stream,
		Version:  r.version,
		Origin:   a.opts.ReplicaID,
		Events:   r.events,
	}
	if !r.appended {
		if err := a.append(ctx, c); err != nil {
			return 0, err
		}
		r.appended = true
	}

	if err := a.stores.Index.RecordEntry(ctx, a.opts.Stream, r.version, r.seq); err != nil {
		if errors.Is(err, streamindex.ErrVersionConflict) {
			// Another writer owns this version; the commit we appended is
			// unreferenced and harmless. Start over with a fresh summary.
			a.res = nil
			a.mx.WriteConflict(a.opts.Stream)
			return 0, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return 0, fmt.Errorf("logview: record index entry: %w", err)
	}

	// Durable. Everything below is in-memory or best-effort.
	a.res = nil
	a.pending = a.pending[len(r.events):]
	switch {
	case a.confirmed < r.version:
		a.apply(r.events)
		a.confirmed = r.version
		a.replayed = r.version
	case a.replayed < r.version:
		// Notifications carried the view past our own version, so they
		// describe a history storage does not have.
		a.state = Uninitialized
		a.buffer = make(map[uint64]Notification)
		a.logger.Error("view diverged from storage",
			log.Uint64("version", r.version), log.Uint64("confirmed", a.confirmed), log.Uint64("replayed", a.replayed))
		return 0, fmt.Errorf("%w: committed version %d was already confirmed from notifications", ErrDiverged, r.version)
	}
	// Otherwise a Sync between a failed attempt and this one already
	// replayed the commit.
	a.drain()
	a.mx.CommitWritten(a.opts.Stream, len(r.events), time.Since(start))
	a.logger.Debug("committed",
		log.Uint64("version", r.version), log.Uint64("seq", r.seq), log.Int("events", len(r.events)))

	a.maybeSnapshot(ctx)
	a.broadcast(ctx, r.version, r.events, r.etag)
	if a.opts.PostCommit != nil {
		if err := a.opts.PostCommit(ctx, c); err != nil {
			a.logger.Warn("post-commit callback failed", log.Uint64("version", r.version), log.Err(err))
		}
	}
	return len(r.events), nil
}

// reserve bumps the summary by one version, flipping this replica's write
// vector bit. The adaptor catches up first when the summary is ahead, and
// fills an index hole that outlived the repair thresholds.
func (a *Adaptor[V, E]) reserve(ctx context.Context) (uint64, string, error) {
	for attempt := 1; ; attempt++ {
		summary, etag, err := a.stores.Index.ReadSummary(ctx, a.opts.Stream)
		if err != nil {
			return 0, "", fmt.Errorf("logview: read summary: %w", err)
		}
		if summary.CurrentCommitNumber < a.confirmed {
			return 0, "", fmt.Errorf("%w: confirmed %d, summary %d", ErrDiverged, a.confirmed, summary.CurrentCommitNumber)
		}
		if summary.CurrentCommitNumber > a.confirmed {
			if err := a.catchUp(ctx, summary.CurrentCommitNumber); err != nil {
				return 0, "", err
			}
			if a.confirmed < summary.CurrentCommitNumber {
				hole := a.confirmed + 1
				if !a.holeExpired(hole) {
					return 0, "", fmt.Errorf("%w: confirmed %d, summary %d", ErrBehind, a.confirmed, summary.CurrentCommitNumber)
				}
				if err := a.fillHole(ctx, hole); err != nil {
					return 0, "", err
				}
				continue
			}
		}
		a.hole = holeWatch{}

		next := streamindex.Summary{
			CurrentCommitNumber: summary.CurrentCommitNumber + 1,
			WriteVector:         summary.WriteVector.Clone(),
		}
		next.WriteVector.Flip(a.opts.ReplicaID)
		newETag, err := a.stores.Index.WriteSummary(ctx, a.opts.Stream, next, etag)
		if err == nil {
			a.writeVector = next.WriteVector.String()
			return next.CurrentCommitNumber, newETag, nil
		}
		if !errors.Is(err, streamindex.ErrConflict) {
			return 0, "", fmt.Errorf("logview: write summary: %w", err)
		}
		a.mx.WriteConflict(a.opts.Stream)
		if attempt >= a.opts.MaxWriteAttempts {
			return 0, "", fmt.Errorf("%w: summary changed %d times", ErrConflict, attempt)
		}
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}
	}
}

// append writes the commit. A duplicate slot is ours when an earlier attempt
// succeeded without us seeing the reply; otherwise the sequence number is
// dropped so the retry bumps a new one.
func (a *Adaptor[V, E]) append(ctx context.Context, c commitstore.Commit) error {
	_, err := a.stores.Commits.Append(ctx, c)
	if err == nil {
		return nil
	}
	if !errors.Is(err, commitstore.ErrDuplicateSequenceNumber) {
		return fmt.Errorf("logview: append commit: %w", err)
	}
	existing, rerr := a.stores.Commits.Read(ctx, c.Sequence)
	if rerr == nil && existing.Stream == c.Stream && existing.Version == c.Version && existing.Origin == c.Origin {
		return nil
	}
	a.res.seq = 0
	a.mx.WriteConflict(a.opts.Stream)
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

// holeExpired records a sighting of the index hole at version and reports
// whether it is old enough to fill.
func (a *Adaptor[V, E]) holeExpired(version uint64) bool {
	now := a.now()
	if a.hole.version != version {
		a.hole = holeWatch{version: version, since: now}
	}
	a.hole.seen++
	return a.hole.seen >= a.opts.HoleRepairAttempts && now.Sub(a.hole.since) >= a.opts.HoleRepairAfter
}

// fillHole records an empty commit at version. A writer that reserved the
// version and finishes afterwards gets ErrVersionConflict and starts over.
func (a *Adaptor[V, E]) fillHole(ctx context.Context, version uint64) error {
	seq, err := a.stores.Sequencer.Bump(ctx)
	if err != nil {
		return fmt.Errorf("logview: bump sequencer: %w", err)
	}
	c := commitstore.Commit{Sequence: seq, Stream: a.opts.Stream, Version: version, Origin: a.opts.ReplicaID}
	if _, err := a.stores.Commits.Append(ctx, c); err != nil {
		if errors.Is(err, commitstore.ErrDuplicateSequenceNumber) {
			a.mx.WriteConflict(a.opts.Stream)
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("logview: append filler commit: %w", err)
	}
	err = a.stores.Index.RecordEntry(ctx, a.opts.Stream, version, seq)
	switch {
	case errors.Is(err, streamindex.ErrVersionConflict):
		a.logger.Debug("hole filled by its writer", log.Uint64("version", version))
	case err != nil:
		return fmt.Errorf("logview: record filler entry: %w", err)
	default:
		a.logger.Warn("filled index hole",
			log.Uint64("version", version), log.Uint64("seq", seq), log.Int("sightings", a.hole.seen))
		a.broadcast(ctx, version, nil, "")
	}
	a.hole = holeWatch{}
	return nil
}

func (a *Adaptor[V, E]) broadcast(ctx context.Context, version uint64, events [][]byte, etag string) {
	if a.opts.Broadcast == nil {
		return
	}
	a.opts.Broadcast(ctx, Notification{
		Stream:       a.opts.Stream,
		StartVersion: version - 1,
		Version:      version,
		Updates:      events,
		Origin:       a.opts.ReplicaID,
		ETag:         etag,
	})
}

func (a *Adaptor[V, E]) maybeSnapshot(ctx context.Context) {
	if !a.opts.TakeSnapshots || a.stores.Snapshots == nil || a.confirmed%a.opts.SnapshotInterval != 0 {
		return
	}
	err := a.stores.Snapshots.Save(ctx, a.opts.Stream, snapshot.Snapshot[V]{
		View:        a.view,
		Version:     a.confirmed,
		WriteVector: a.writeVector,
	})
	a.mx.SnapshotSaved(a.opts.Stream, err)
	if err != nil {
		a.logger.Warn("snapshot failed", log.Uint64("version", a.confirmed), log.Err(err))
	}
}
