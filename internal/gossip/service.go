// Package gossip carries update notifications between replicas over gRPC.
// The service is described by hand (no protoc) and uses a msgpack codec:
//
//	/replog.gossip.v1.Gossip/Notify  logview.Notification -> NotifyResponse
//	/replog.gossip.v1.Gossip/Health  HealthRequest        -> HealthResponse
package gossip

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rzbill/replog/internal/logview"
)

const (
	ServiceName  = "replog.gossip.v1.Gossip"
	notifyMethod = "/" + ServiceName + "/Notify"
	healthMethod = "/" + ServiceName + "/Health"
)

// NotifyResponse reports whether the receiving replica had the stream
// activated.
type NotifyResponse struct {
	Delivered bool `msgpack:"delivered"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status    string `msgpack:"status"`
	ClusterID string `msgpack:"cluster_id"`
}

// Server is implemented by the receiving side.
type Server interface {
	Notify(ctx context.Context, n *logview.Notification) (*NotifyResponse, error)
	Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error)
}

// ServiceDesc describes the gossip service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Notify", Handler: notifyHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replog/gossip/v1",
}

// Register adds srv to s.
func Register(s *grpc.Server, srv Server) { s.RegisterService(&ServiceDesc, srv) }

func notifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(logview.Notification)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Notify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: notifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Notify(ctx, req.(*logview.Notification))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: healthMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}
