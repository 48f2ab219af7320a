// Package host is a minimal actor runtime for log-view adaptors. It activates
// one adaptor per stream on first use and runs every operation on that
// adaptor as a message processed by the activation's own goroutine, so an
// adaptor only ever sees one turn at a time. Idle activations are released
// by Run's sweeper.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/pkg/id"
	"github.com/rzbill/replog/pkg/log"
)

// ErrClosed is returned by operations after Close.
var ErrClosed = errors.New("host: closed")

// ActivationHook observes activation lifecycle. Optional.
type ActivationHook interface {
	Activated(stream string)
	Deactivated(stream string)
}

type noopHook struct{}

func (noopHook) Activated(string)   {}
func (noopHook) Deactivated(string) {}

// Config configures a Host.
type Config[V, E any] struct {
	// ClusterID identifies this replica; adaptors use it as their replica id.
	ClusterID string
	Stores    logview.Stores[V]
	// Template is copied for every stream; Stream and ReplicaID are set by
	// the host.
	Template logview.Options[V, E]

	MailboxSize  int
	IdleTimeout  time.Duration
	SweepEvery   time.Duration
	WriteRetries int
	RetryInitial time.Duration
	RetryMax     time.Duration

	Logger log.Logger
	Hook   ActivationHook
}

func (c *Config[V, E]) setDefaults() {
	if c.MailboxSize <= 0 {
		c.MailboxSize = 64
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = c.IdleTimeout / 4
	}
	if c.WriteRetries < 0 {
		c.WriteRetries = 0
	} else if c.WriteRetries == 0 {
		c.WriteRetries = 8
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 20 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = time.Second
	}
	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}
	if c.Hook == nil {
		c.Hook = noopHook{}
	}
}

// Host owns the activations of one replica.
type Host[V, E any] struct {
	cfg    Config[V, E]
	logger log.Logger
	ids    *id.Generator

	mu          sync.Mutex
	activations map[string]*activation[V, E]
	closed      bool
	wg          sync.WaitGroup
}

// New returns a Host. It does not start the idle sweeper; call Run for that.
func New[V, E any](cfg Config[V, E]) (*Host[V, E], error) {
	if cfg.ClusterID == "" {
		return nil, fmt.Errorf("host: cluster id is required")
	}
	if cfg.Template.Fold == nil {
		return nil, logview.ErrNoFold
	}
	cfg.setDefaults()
	ids := cfg.Template.IDs
	if ids == nil {
		ids = id.NewGenerator()
	}
	return &Host[V, E]{
		cfg:         cfg,
		logger:      cfg.Logger.With(log.Component("host"), log.Str(log.ReplicaKey, cfg.ClusterID)),
		ids:         ids,
		activations: make(map[string]*activation[V, E]),
	}, nil
}

// ClusterID returns the replica identity of this host.
func (h *Host[V, E]) ClusterID() string { return h.cfg.ClusterID }

type activation[V, E any] struct {
	stream   string
	adaptor  *logview.Adaptor[V, E]
	mailbox  chan func(*logview.Adaptor[V, E])
	quit     chan struct{}
	stopped  chan struct{}
	inflight int       // guarded by Host.mu
	lastUsed time.Time // guarded by Host.mu

	vmu      sync.Mutex
	version  uint64
	notifyCh chan struct{}
}

func (a *activation[V, E]) loop(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(a.stopped)
	for {
		select {
		case fn := <-a.mailbox:
			fn(a.adaptor)
			a.advance(a.adaptor.ConfirmedVersion())
		case <-a.quit:
			return
		}
	}
}

// acquire returns the stream's activation, creating it when create is set.
// The caller must release it.
func (h *Host[V, E]) acquire(stream string, create bool) (*activation[V, E], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	act, ok := h.activations[stream]
	if !ok {
		if !create {
			return nil, nil
		}
		opts := h.cfg.Template
		opts.Stream = stream
		opts.ReplicaID = h.cfg.ClusterID
		opts.IDs = h.ids
		if opts.Logger == nil {
			opts.Logger = h.cfg.Logger
		}
		ad, err := logview.New(h.cfg.Stores, opts)
		if err != nil {
			return nil, err
		}
		act = &activation[V, E]{
			stream:   stream,
			adaptor:  ad,
			mailbox:  make(chan func(*logview.Adaptor[V, E]), h.cfg.MailboxSize),
			quit:     make(chan struct{}),
			stopped:  make(chan struct{}),
			notifyCh: make(chan struct{}),
		}
		h.activations[stream] = act
		h.wg.Add(1)
		go act.loop(&h.wg)
		h.cfg.Hook.Activated(stream)
		h.logger.Debug("stream activated", log.Stream(stream), log.Str("adaptor", ad.ID()))
	}
	act.inflight++
	act.lastUsed = time.Now()
	return act, nil
}

func (h *Host[V, E]) release(act *activation[V, E]) {
	h.mu.Lock()
	act.inflight--
	act.lastUsed = time.Now()
	h.mu.Unlock()
}

// turn runs fn on the activation's goroutine and waits for it to finish.
func (h *Host[V, E]) turn(ctx context.Context, act *activation[V, E], fn func(*logview.Adaptor[V, E])) error {
	done := make(chan struct{})
	msg := func(ad *logview.Adaptor[V, E]) {
		defer close(done)
		fn(ad)
	}
	select {
	case act.mailbox <- msg:
	case <-act.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-act.stopped:
		return ErrClosed
	case <-ctx.Done():
		// The turn still runs to completion; only the caller stops waiting.
		return ctx.Err()
	}
}

// with acquires the stream's activation, runs fn in one turn and releases it.
func (h *Host[V, E]) with(ctx context.Context, stream string, fn func(*logview.Adaptor[V, E])) error {
	act, err := h.acquire(stream, true)
	if err != nil {
		return err
	}
	defer h.release(act)
	return h.turn(ctx, act, fn)
}

// Run sweeps idle activations until ctx is done.
func (h *Host[V, E]) Run(ctx context.Context) error {
	t := time.NewTicker(h.cfg.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			h.sweep(now)
		}
	}
}

// sweep deactivates streams idle since before now-IdleTimeout that have no
// caller in flight and no uncommitted events.
func (h *Host[V, E]) sweep(now time.Time) int {
	h.mu.Lock()
	var idle []*activation[V, E]
	for stream, act := range h.activations {
		if act.inflight > 0 || now.Sub(act.lastUsed) < h.cfg.IdleTimeout {
			continue
		}
		delete(h.activations, stream)
		idle = append(idle, act)
	}
	h.mu.Unlock()

	n := 0
	for _, act := range idle {
		// Pending events are only reachable from the adaptor; keep such
		// activations around instead of dropping them.
		keep := false
		if err := h.turn(context.Background(), act, func(ad *logview.Adaptor[V, E]) { keep = ad.PendingCount() > 0 }); err != nil {
			keep = false
		}
		if keep {
			h.mu.Lock()
			if _, taken := h.activations[act.stream]; !taken && !h.closed {
				h.activations[act.stream] = act
				h.mu.Unlock()
				continue
			}
			h.mu.Unlock()
			h.logger.Warn("deactivating stream with pending events", log.Stream(act.stream))
		}
		close(act.quit)
		<-act.stopped
		h.cfg.Hook.Deactivated(act.stream)
		h.logger.Debug("stream deactivated", log.Stream(act.stream))
		n++
	}
	return n
}

// Active returns the number of activated streams.
func (h *Host[V, E]) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.activations)
}

// Close stops every activation. Pending uncommitted events are dropped.
func (h *Host[V, E]) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	acts := h.activations
	h.activations = map[string]*activation[V, E]{}
	h.mu.Unlock()

	for _, act := range acts {
		close(act.quit)
	}
	h.wg.Wait()
	for stream := range acts {
		h.cfg.Hook.Deactivated(stream)
	}
	return nil
}
