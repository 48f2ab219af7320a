package host

import (
	"context"
	"time"

	"github.com/rzbill/replog/internal/logview"
)

// advance records the confirmed version after a turn and wakes waiters when
// it moved forward.
func (a *activation[V, E]) advance(v uint64) {
	a.vmu.Lock()
	defer a.vmu.Unlock()
	if v <= a.version {
		return
	}
	a.version = v
	close(a.notifyCh)
	a.notifyCh = make(chan struct{})
}

func (a *activation[V, E]) watch() (uint64, <-chan struct{}) {
	a.vmu.Lock()
	defer a.vmu.Unlock()
	return a.version, a.notifyCh
}

// WaitVersion blocks until the stream's confirmed version exceeds after or
// timeout elapses, then returns the confirmed view. It reports whether the
// version moved past after. A non-positive timeout does not wait.
func (h *Host[V, E]) WaitVersion(ctx context.Context, stream string, after uint64, timeout time.Duration) (V, uint64, bool, error) {
	var zero V
	act, err := h.acquire(stream, true)
	if err != nil {
		return zero, 0, false, err
	}
	defer h.release(act)

	var opErr error
	if err := h.turn(ctx, act, func(ad *logview.Adaptor[V, E]) { opErr = ensureReady(ctx, ad) }); err != nil {
		return zero, 0, false, err
	}
	if opErr != nil {
		return zero, 0, false, opErr
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
	wait:
		for {
			v, ch := act.watch()
			if v > after {
				break
			}
			select {
			case <-ch:
			case <-timer.C:
				break wait
			case <-act.stopped:
				return zero, 0, false, ErrClosed
			case <-ctx.Done():
				return zero, 0, false, ctx.Err()
			}
		}
	}

	var (
		view    V
		version uint64
	)
	if err := h.turn(ctx, act, func(ad *logview.Adaptor[V, E]) {
		view, version = ad.ConfirmedView(), ad.ConfirmedVersion()
	}); err != nil {
		return zero, 0, false, err
	}
	return view, version, version > after, nil
}
