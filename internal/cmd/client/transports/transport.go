package transports

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/replog/internal/host"
	"github.com/rzbill/replog/internal/kvview"
)

// ErrNotActive is returned by StreamStats when the stream has no activation
// on the node.
var ErrNotActive = errors.New("stream not active")

// View is a stream's confirmed view as reported by a node.
type View struct {
	Stream  string      `json:"stream"`
	Version uint64      `json:"version"`
	View    kvview.View `json:"view"`
}

// Segment is a range of committed events.
type Segment struct {
	Stream string         `json:"stream"`
	From   uint64         `json:"from"`
	To     uint64         `json:"to"`
	Events []kvview.Event `json:"events"`
}

// Health is a node's health report.
type Health struct {
	Status    string `json:"status"`
	ClusterID string `json:"cluster_id"`
}

// StreamsTransport abstracts how the CLI reaches a node.
type StreamsTransport interface {
	Health(ctx context.Context) (Health, error)
	Append(ctx context.Context, stream string, events []kvview.Event) (uint64, error)
	View(ctx context.Context, stream string, sync bool) (View, error)
	// WaitView long-polls until the confirmed version passes after or wait
	// elapses.
	WaitView(ctx context.Context, stream string, after uint64, wait time.Duration) (View, error)
	// Segment returns events of versions from..to; to == 0 means up to the
	// node's confirmed version.
	Segment(ctx context.Context, stream string, from, to uint64) (Segment, error)
	Stats(ctx context.Context) ([]host.StreamStats, error)
	StreamStats(ctx context.Context, stream string) (host.StreamStats, error)
}
