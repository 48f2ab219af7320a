package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/rzbill/replog/internal/host"
	"github.com/rzbill/replog/internal/kvview"
	"github.com/rzbill/replog/pkg/log"
)

// HealthChecker reports whether the replica can serve.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// StreamService is the stream surface the controllers expose. It is
// satisfied by *host.Host[kvview.View, kvview.Event].
type StreamService interface {
	ClusterID() string
	Append(ctx context.Context, stream string, events ...kvview.Event) (uint64, error)
	View(ctx context.Context, stream string) (kvview.View, uint64, error)
	Sync(ctx context.Context, stream string) (kvview.View, uint64, error)
	WaitVersion(ctx context.Context, stream string, after uint64, timeout time.Duration) (kvview.View, uint64, bool, error)
	Segment(ctx context.Context, stream string, from, to uint64) ([]kvview.Event, error)
	Stats(ctx context.Context) ([]host.StreamStats, error)
	StreamStats(ctx context.Context, stream string) (host.StreamStats, bool, error)
}

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	streams *StreamsController
}

// NewControllerRegistry creates a new controller registry. metrics may be
// nil, in which case /metrics is not served.
func NewControllerRegistry(hc HealthChecker, svc StreamService, metrics http.Handler, logger log.Logger) *ControllerRegistry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ControllerRegistry{
		general: NewGeneralController(hc, svc, metrics),
		streams: NewStreamsController(svc, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.streams.RegisterRoutes(mux)
}
