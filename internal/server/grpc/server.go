package grpcserver

import (
	"context"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/rzbill/replog/internal/gossip"
	"github.com/rzbill/replog/internal/runtime"
	"github.com/rzbill/replog/pkg/log"
)

// Server serves the gossip service of one replica.
type Server struct {
	grpc   *grpc.Server
	logger log.Logger

	mu  sync.Mutex
	lis net.Listener
}

// New registers a gossip handler that hands notifications to d and answers
// health probes from rt. rt may be nil in which case health always succeeds.
func New(rt *runtime.Runtime, d gossip.Deliverer, logger log.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{logger: logger.With(log.Component("grpc"))}
	base := []grpc.ServerOption{
		grpc.ForceServerCodec(gossip.Codec{}),
		grpc.ChainUnaryInterceptor(s.recoverCalls, s.traceCalls),
		grpc.KeepaliveParams(keepalive.ServerParameters{MaxConnectionIdle: 5 * time.Minute}),
	}
	s.grpc = grpc.NewServer(append(base, opts...)...)

	var health func(context.Context) error
	if rt != nil {
		health = rt.CheckHealth
	}
	gossip.Register(s.grpc, gossip.NewHandler(d, health, logger))
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts peer connections on l until ctx is done or serving fails.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.lis = l
	s.mu.Unlock()
	s.logger.Info("gossip listening", log.Str("addr", l.Addr().String()))

	served := make(chan error, 1)
	go func() { served <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.grpc.GracefulStop()
		return nil
	case err := <-served:
		return err
	}
}

// Close drains in-flight calls and releases the listener.
func (s *Server) Close() {
	s.grpc.GracefulStop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
}

// recoverCalls turns a handler panic into an Internal status so a bad
// notification cannot take the replica down.
func (s *Server) recoverCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("gossip handler panicked", log.Str("method", info.FullMethod), log.Any("panic", r), log.Str("stack", string(debug.Stack())))
			err = status.Errorf(codes.Internal, "panic in %s", info.FullMethod)
		}
	}()
	return next(ctx, req)
}

func (s *Server) traceCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	if !s.logger.Enabled(log.DebugLevel) {
		return next(ctx, req)
	}
	start := time.Now()
	res, err := next(ctx, req)
	s.logger.Debug("gossip call", log.Str("method", info.FullMethod), log.Str("code", status.Code(err).String()), log.Str("took", time.Since(start).String()))
	return res, err
}
