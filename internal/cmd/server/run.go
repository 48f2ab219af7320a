package serverrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/replog/internal/config"
	"github.com/rzbill/replog/internal/gossip"
	"github.com/rzbill/replog/internal/host"
	"github.com/rzbill/replog/internal/kvview"
	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/internal/metrics"
	"github.com/rzbill/replog/internal/publish"
	"github.com/rzbill/replog/internal/publish/kafka"
	"github.com/rzbill/replog/internal/publish/rabbitmq"
	"github.com/rzbill/replog/internal/runtime"
	grpcserver "github.com/rzbill/replog/internal/server/grpc"
	httpserver "github.com/rzbill/replog/internal/server/http"
	logpkg "github.com/rzbill/replog/pkg/log"
)

type Options struct {
	Config cfgpkg.Config
	// Logger defaults to one built from Config.Log.
	Logger logpkg.Logger
}

// Node is one fully wired replica: storage, the stream host, gossip,
// publishers and both servers.
type Node struct {
	Runtime     *runtime.Runtime
	Host        *host.Host[kvview.View, kvview.Event]
	Metrics     *metrics.Metrics
	Broadcaster *gossip.Broadcaster
	Publisher   publish.Multi
	GRPC        *grpcserver.Server
	HTTP        *httpserver.Server

	logger logpkg.Logger
}

// Build opens the runtime and wires every component without serving.
func Build(opts Options) (*Node, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = logpkg.ApplyConfig(&cfg.Log); err != nil {
			return nil, err
		}
	}
	n := &Node{Metrics: metrics.New(), logger: logger}

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger, StorageMetrics: n.Metrics})
	if err != nil {
		return nil, err
	}
	n.Runtime = rt

	if n.Publisher, err = Publishers(cfg.Publish); err != nil {
		_ = n.Close()
		return nil, err
	}
	if n.Broadcaster, err = gossip.NewBroadcaster(cfg.Gossip.Peers, gossip.BroadcasterOptions{
		Timeout: cfg.Gossip.Timeout,
		Logger:  logger,
		Hook:    n.Metrics,
	}); err != nil {
		_ = n.Close()
		return nil, err
	}

	template := logview.Options[kvview.View, kvview.Event]{
		Initial:          kvview.Initial,
		Fold:             kvview.Fold,
		TakeSnapshots:    cfg.Snapshots.Enabled,
		SnapshotInterval: uint64(cfg.Snapshots.Interval),
		MaxWriteAttempts: cfg.Host.MaxWriteAttempts,
		Logger:           logger,
		Metrics:          n.Metrics,
	}
	if n.Broadcaster.Peers() > 0 {
		template.Broadcast = n.Broadcaster.Broadcast
	}
	if len(n.Publisher) > 0 {
		template.PostCommit = publish.PostCommit(n.Publisher, n.Metrics.PublishFailed)
	}
	if n.Host, err = host.New(host.Config[kvview.View, kvview.Event]{
		ClusterID:    rt.ClusterID(),
		Stores:       runtime.Stores[kvview.View](rt, nil),
		Template:     template,
		IdleTimeout:  cfg.Host.IdleTimeout,
		WriteRetries: cfg.Host.WriteRetries,
		Logger:       logger,
		Hook:         n.Metrics,
	}); err != nil {
		_ = n.Close()
		return nil, err
	}

	n.GRPC = grpcserver.New(rt, n.Host, logger)
	n.HTTP = httpserver.New(rt, n.Host, n.Metrics.Handler(), logger)
	return n, nil
}

// Publishers opens every enabled publisher.
func Publishers(cfg cfgpkg.PublishConfig) (publish.Multi, error) {
	var out publish.Multi
	if cfg.Kafka.Enabled {
		p, err := kafka.New(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, ClientID: "replog"}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if cfg.RabbitMQ.Enabled {
		p, err := rabbitmq.New(rabbitmq.Config{URL: cfg.RabbitMQ.URL, Exchange: cfg.RabbitMQ.Exchange}, nil)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Close releases everything Build opened, stream activations first so no
// write is in flight when gossip, publishers and storage go away.
func (n *Node) Close() error {
	var errs []error
	if n.Host != nil {
		errs = append(errs, n.Host.Close())
	}
	if n.Broadcaster != nil {
		errs = append(errs, n.Broadcaster.Close())
	}
	if n.Publisher != nil {
		errs = append(errs, n.Publisher.Close())
	}
	if n.Runtime != nil {
		errs = append(errs, n.Runtime.Close())
	}
	return errors.Join(errs...)
}

// Serve runs the gRPC and HTTP servers and the idle sweeper until ctx is
// done or one of them fails.
func (n *Node) Serve(ctx context.Context) error {
	cfg := n.Runtime.Config()
	n.logger.Info("starting replog server",
		logpkg.Str(logpkg.ReplicaKey, n.Runtime.ClusterID()),
		logpkg.Str("engine", cfg.Storage.Engine),
		logpkg.Str("grpc", cfg.Server.GRPCAddr),
		logpkg.Str("http", cfg.Server.HTTPAddr),
		logpkg.Int("peers", n.Broadcaster.Peers()),
		logpkg.Int("publishers", len(n.Publisher)),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.GRPC.ListenAndServe(gctx, cfg.Server.GRPCAddr) })
	g.Go(func() error { return n.HTTP.ListenAndServe(gctx, cfg.Server.HTTPAddr) })
	g.Go(func() error { return n.Host.Run(gctx) })
	err := g.Wait()
	n.GRPC.Close()
	n.HTTP.Close()
	if err != nil {
		n.logger.Error("server stopped", logpkg.Err(err))
	}
	return err
}

// Run builds a node and serves until ctx is cancelled or the process gets
// SIGINT/SIGTERM.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	n, err := Build(opts)
	if err != nil {
		return err
	}
	logpkg.RedirectStdLog(n.logger)
	defer n.Close()
	return n.Serve(sctx)
}
