package gossip

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/pkg/log"
)

// Deliverer routes a notification to a stream activation.
type Deliverer interface {
	Deliver(ctx context.Context, n logview.Notification) (bool, error)
	ClusterID() string
}

// Handler implements Server on top of a Deliverer.
type Handler struct {
	d      Deliverer
	health func(context.Context) error
	logger log.Logger
}

// NewHandler returns a Handler. health may be nil.
func NewHandler(d Deliverer, health func(context.Context) error, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{d: d, health: health, logger: logger.With(log.Component("gossip"))}
}

func (h *Handler) Notify(ctx context.Context, n *logview.Notification) (*NotifyResponse, error) {
	if n.Stream == "" {
		return nil, status.Error(codes.InvalidArgument, "stream is required")
	}
	ok, err := h.d.Deliver(ctx, *n)
	if err != nil {
		h.logger.Warn("deliver failed", log.Stream(n.Stream), log.Str("origin", n.Origin), log.Err(err))
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &NotifyResponse{Delivered: ok}, nil
}

func (h *Handler) Health(ctx context.Context, _ *HealthRequest) (*HealthResponse, error) {
	res := &HealthResponse{Status: "ok", ClusterID: h.d.ClusterID()}
	if h.health != nil {
		if err := h.health(ctx); err != nil {
			res.Status = "not_serving"
		}
	}
	return res, nil
}
