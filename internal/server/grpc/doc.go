// Package grpcserver hosts the gRPC server of a replog replica. It serves
// the gossip service: peers deliver update notifications to the local host
// and probe its health.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	s := grpcserver.New(rt, h, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":7070")
package grpcserver
