// Package transports provides the transports the CLI uses to reach a node:
// the HTTP API for stream operations and the gossip gRPC endpoint for peer
// checks.
package transports

import (
	"context"

	"github.com/rzbill/replog/internal/gossip"
)

// GrpcTransport talks to a node's gossip endpoint.
type GrpcTransport struct {
	dial func(ctx context.Context) (*gossip.Client, error)
}

// NewGrpcTransport constructs a new GrpcTransport using the provided dialer.
func NewGrpcTransport(dial func(ctx context.Context) (*gossip.Client, error)) *GrpcTransport {
	return &GrpcTransport{dial: dial}
}

func (t *GrpcTransport) withClient(ctx context.Context, fn func(cli *gossip.Client) error) error {
	cli, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()
	return fn(cli)
}

// Health asks the peer for its health and cluster id.
func (t *GrpcTransport) Health(ctx context.Context) (Health, error) {
	var h Health
	err := t.withClient(ctx, func(cli *gossip.Client) error {
		resp, err := cli.Health(ctx)
		if err != nil {
			return err
		}
		h = Health{Status: resp.Status, ClusterID: resp.ClusterID}
		return nil
	})
	return h, err
}
