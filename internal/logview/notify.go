package logview

import (
	"sort"

	"github.com/rzbill/replog/pkg/log"
)

// MaxMergedUpdates caps the update count of a merged notification.
const MaxMergedUpdates = 200

// Notification announces that versions (StartVersion, Version] of Stream
// were committed by Origin with the given encoded updates.
type Notification struct {
	Stream       string   `msgpack:"stream" json:"stream"`
	StartVersion uint64   `msgpack:"start" json:"start_version"`
	Version      uint64   `msgpack:"version" json:"version"`
	Updates      [][]byte `msgpack:"updates" json:"updates"`
	Origin       string   `msgpack:"origin" json:"origin"`
	ETag         string   `msgpack:"etag" json:"etag"`
}

// Merge combines n and later when both come from the same origin, later
// starts where n ends, and the result stays under MaxMergedUpdates.
func (n Notification) Merge(later Notification) (Notification, bool) {
	if n.Origin != later.Origin || n.Version != later.StartVersion ||
		len(n.Updates)+len(later.Updates) >= MaxMergedUpdates {
		return n, false
	}
	updates := make([][]byte, 0, len(n.Updates)+len(later.Updates))
	updates = append(updates, n.Updates...)
	updates = append(updates, later.Updates...)
	return Notification{
		Stream:       n.Stream,
		StartVersion: n.StartVersion,
		Version:      later.Version,
		Updates:      updates,
		Origin:       n.Origin,
		ETag:         later.ETag,
	}, true
}

// OnNotification buffers a peer notification and applies every buffered
// notification that continues the confirmed version.
func (a *Adaptor[V, E]) OnNotification(n Notification) {
	switch {
	case n.Stream != "" && n.Stream != a.opts.Stream:
		a.logger.Warn("notification for another stream dropped", log.Str("target", n.Stream))
		return
	case n.Origin == a.opts.ReplicaID:
		return
	case n.Version <= n.StartVersion:
		a.logger.Warn("malformed notification dropped",
			log.Uint64("start", n.StartVersion), log.Uint64("version", n.Version))
		return
	}

	if cur, ok := a.buffer[n.StartVersion]; ok && cur.Version >= n.Version {
		// duplicate delivery, or a shorter copy of what we hold
		a.mx.NotificationDiscarded(a.opts.Stream)
	} else {
		a.buffer[n.StartVersion] = n
	}
	a.drain()
}

// drain discards subsumed notifications, applies the ones that continue the
// confirmed version, and merges adjacent same-origin leftovers. Notifications
// are only applied once the adaptor is recovering or ready.
func (a *Adaptor[V, E]) drain() {
	defer func() { a.mx.NotificationsBuffered(a.opts.Stream, len(a.buffer)) }()
	if len(a.buffer) == 0 {
		return
	}

	for start := range a.buffer {
		if start < a.confirmed {
			a.logger.Debug("discarding subsumed notification",
				log.Uint64("start", start), log.Uint64("confirmed", a.confirmed))
			delete(a.buffer, start)
			a.mx.NotificationDiscarded(a.opts.Stream)
		}
	}

	if a.state != Uninitialized {
		for {
			n, ok := a.buffer[a.confirmed]
			if !ok {
				break
			}
			delete(a.buffer, a.confirmed)
			a.apply(n.Updates)
			a.confirmed = n.Version
			a.mx.NotificationApplied(a.opts.Stream)
		}
		// Applying may have jumped past other entries.
		for start := range a.buffer {
			if start < a.confirmed {
				delete(a.buffer, start)
				a.mx.NotificationDiscarded(a.opts.Stream)
			}
		}
	}

	a.merge()
}

func (a *Adaptor[V, E]) merge() {
	starts := make([]uint64, 0, len(a.buffer))
	for s := range a.buffer {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for _, s := range starts {
		n, ok := a.buffer[s]
		if !ok {
			continue
		}
		for {
			later, ok := a.buffer[n.Version]
			if !ok {
				break
			}
			merged, ok := n.Merge(later)
			if !ok {
				break
			}
			delete(a.buffer, later.StartVersion)
			n = merged
			a.buffer[s] = n
			a.mx.NotificationMerged(a.opts.Stream)
		}
	}
}
