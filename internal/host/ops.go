package host

import (
	"context"
	"errors"
	"sort"

	"github.com/cenkalti/backoff/v4"

	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/pkg/log"
)

// StreamStats describes one activation.
type StreamStats struct {
	Stream    string `json:"stream"`
	Adaptor   string `json:"adaptor"`
	State     string `json:"state"`
	Version   uint64 `json:"version"`
	Pending   int    `json:"pending"`
	Buffered  int    `json:"buffered_notifications"`
	Activated bool   `json:"activated"`
}

func ensureReady[V, E any](ctx context.Context, ad *logview.Adaptor[V, E]) error {
	if ad.State() == logview.Ready {
		return nil
	}
	return ad.Activate(ctx)
}

func (h *Host[V, E]) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = h.cfg.RetryInitial
	eb.MaxInterval = h.cfg.RetryMax
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(h.cfg.WriteRetries)), ctx)
}

// Append submits events to stream and writes until they are committed,
// retrying failed writes with exponential backoff. It returns the confirmed
// version that includes the events.
func (h *Host[V, E]) Append(ctx context.Context, stream string, events ...E) (uint64, error) {
	act, err := h.acquire(stream, true)
	if err != nil {
		return 0, err
	}
	defer h.release(act)

	var submitErr error
	if err := h.turn(ctx, act, func(ad *logview.Adaptor[V, E]) { submitErr = ad.Submit(events...) }); err != nil {
		return 0, err
	}
	if submitErr != nil {
		return 0, submitErr
	}

	var version uint64
	attempt := 0
	op := func() error {
		attempt++
		var opErr error
		err := h.turn(ctx, act, func(ad *logview.Adaptor[V, E]) {
			if opErr = ensureReady(ctx, ad); opErr != nil {
				return
			}
			// A concurrent Append may already have committed our events as
			// part of its batch; keep writing until nothing is pending.
			for ad.PendingCount() > 0 {
				if _, opErr = ad.Write(ctx); opErr != nil {
					return
				}
			}
			version = ad.ConfirmedVersion()
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		if opErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			if errors.Is(opErr, logview.ErrDiverged) {
				return backoff.Permanent(opErr)
			}
			h.logger.Debug("write failed, retrying",
				log.Stream(stream), log.Int("attempt", attempt), log.Bool("retryable", logview.IsRetryable(opErr)), log.Err(opErr))
			return opErr
		}
		return nil
	}
	if err := backoff.Retry(op, h.policy(ctx)); err != nil {
		h.logger.Warn("append failed", log.Stream(stream), log.Int("attempts", attempt), log.Err(err))
		return 0, err
	}
	return version, nil
}

// View returns the stream's confirmed view and version, activating the
// stream if needed.
func (h *Host[V, E]) View(ctx context.Context, stream string) (V, uint64, error) {
	var (
		view    V
		version uint64
		opErr   error
	)
	err := h.with(ctx, stream, func(ad *logview.Adaptor[V, E]) {
		if opErr = ensureReady(ctx, ad); opErr != nil {
			return
		}
		view, version = ad.ConfirmedView(), ad.ConfirmedVersion()
	})
	if err == nil {
		err = opErr
	}
	return view, version, err
}

// Sync catches the stream up with storage and returns its view.
func (h *Host[V, E]) Sync(ctx context.Context, stream string) (V, uint64, error) {
	var (
		view    V
		version uint64
		opErr   error
	)
	err := h.with(ctx, stream, func(ad *logview.Adaptor[V, E]) {
		if opErr = ensureReady(ctx, ad); opErr != nil {
			return
		}
		if _, opErr = ad.Sync(ctx); opErr != nil {
			return
		}
		view, version = ad.ConfirmedView(), ad.ConfirmedVersion()
	})
	if err == nil {
		err = opErr
	}
	return view, version, err
}

// Segment returns the events of committed versions from..to.
func (h *Host[V, E]) Segment(ctx context.Context, stream string, from, to uint64) ([]E, error) {
	var (
		out   []E
		opErr error
	)
	err := h.with(ctx, stream, func(ad *logview.Adaptor[V, E]) {
		out, opErr = ad.RetrieveLogSegment(ctx, from, to)
	})
	if err == nil {
		err = opErr
	}
	return out, err
}

// Deliver hands a peer notification to the stream's activation. Inactive
// streams ignore notifications: peers share this host's storage, so the
// next activation replays what the notification announced. It reports
// whether the notification reached an activation.
func (h *Host[V, E]) Deliver(ctx context.Context, n logview.Notification) (bool, error) {
	act, err := h.acquire(n.Stream, false)
	if err != nil || act == nil {
		return false, err
	}
	defer h.release(act)
	if err := h.turn(ctx, act, func(ad *logview.Adaptor[V, E]) { ad.OnNotification(n) }); err != nil {
		if errors.Is(err, ErrClosed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stats reports every current activation.
func (h *Host[V, E]) Stats(ctx context.Context) ([]StreamStats, error) {
	h.mu.Lock()
	streams := make([]string, 0, len(h.activations))
	for s := range h.activations {
		streams = append(streams, s)
	}
	h.mu.Unlock()
	sort.Strings(streams)

	out := make([]StreamStats, 0, len(streams))
	for _, s := range streams {
		st, ok, err := h.StreamStats(ctx, s)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// StreamStats reports one stream without activating it.
func (h *Host[V, E]) StreamStats(ctx context.Context, stream string) (StreamStats, bool, error) {
	act, err := h.acquire(stream, false)
	if err != nil || act == nil {
		return StreamStats{Stream: stream}, false, err
	}
	defer h.release(act)
	var st StreamStats
	err = h.turn(ctx, act, func(ad *logview.Adaptor[V, E]) {
		st = StreamStats{
			Stream:    stream,
			Adaptor:   ad.ID(),
			State:     ad.State().String(),
			Version:   ad.ConfirmedVersion(),
			Pending:   ad.PendingCount(),
			Buffered:  ad.BufferedNotifications(),
			Activated: true,
		}
	})
	return st, err == nil, err
}
