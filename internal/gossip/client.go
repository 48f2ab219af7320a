package gossip

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/pkg/log"
)

// Client calls one peer's gossip service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. Extra options are appended after the
// insecure transport and msgpack codec defaults.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Notify sends n and reports whether the peer had the stream activated.
func (c *Client) Notify(ctx context.Context, n logview.Notification) (bool, error) {
	var res NotifyResponse
	if err := c.conn.Invoke(ctx, notifyMethod, &n, &res); err != nil {
		return false, err
	}
	return res.Delivered, nil
}

// Health asks the peer for its status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var res HealthResponse
	if err := c.conn.Invoke(ctx, healthMethod, &HealthRequest{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// SendHook observes each peer send. Optional.
type SendHook interface {
	GossipSent(err error)
}

type peer struct {
	addr   string
	client *Client
}

// Broadcaster fans notifications out to a fixed peer list. Sends are
// asynchronous and best-effort: failures are logged and counted, never
// retried. A peer that misses a notification catches up from storage.
type Broadcaster struct {
	peers   []peer
	timeout time.Duration
	logger  log.Logger
	hook    SendHook
	wg      sync.WaitGroup
}

// BroadcasterOptions configures NewBroadcaster.
type BroadcasterOptions struct {
	Timeout time.Duration
	Logger  log.Logger
	Hook    SendHook
	Dial    []grpc.DialOption
}

// NewBroadcaster dials every peer address.
func NewBroadcaster(addrs []string, opts BroadcasterOptions) (*Broadcaster, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	b := &Broadcaster{timeout: opts.Timeout, logger: opts.Logger.With(log.Component("gossip")), hook: opts.Hook}
	for _, addr := range addrs {
		c, err := Dial(addr, opts.Dial...)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.peers = append(b.peers, peer{addr: addr, client: c})
	}
	return b, nil
}

// Peers returns the configured peer count.
func (b *Broadcaster) Peers() int { return len(b.peers) }

// Broadcast sends n to every peer in the background. It has the signature of
// logview.Options.Broadcast; the caller's context only carries values, the
// sends use their own timeout.
func (b *Broadcaster) Broadcast(_ context.Context, n logview.Notification) {
	for _, p := range b.peers {
		b.wg.Add(1)
		go func(p peer) {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			defer cancel()
			_, err := p.client.Notify(ctx, n)
			if b.hook != nil {
				b.hook.GossipSent(err)
			}
			if err != nil {
				b.logger.Warn("notify peer failed", log.Str("peer", p.addr), log.Stream(n.Stream),
					log.Uint64("version", n.Version), log.Err(err))
			}
		}(p)
	}
}

// Wait blocks until in-flight sends finish.
func (b *Broadcaster) Wait() { b.wg.Wait() }

// Close waits for in-flight sends and closes every connection.
func (b *Broadcaster) Close() error {
	b.wg.Wait()
	var first error
	for _, p := range b.peers {
		if err := p.client.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
