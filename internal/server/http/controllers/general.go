package controllers

import (
	"net/http"
)

// GeneralController serves health and metrics.
type GeneralController struct {
	hc      HealthChecker
	svc     StreamService
	metrics http.Handler
}

func NewGeneralController(hc HealthChecker, svc StreamService, metrics http.Handler) *GeneralController {
	return &GeneralController{hc: hc, svc: svc, metrics: metrics}
}

// RegisterRoutes registers:
// - Health checks (/v1/healthz)
// - Prometheus metrics (/metrics)
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/healthz", c.handleHealth)
	if c.metrics != nil {
		mux.Handle("GET /metrics", c.metrics)
	}
}

// handleHealth returns 200 OK with {"status": "ok"} if healthy, 503 Service
// Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.hc.CheckHealth(r.Context()); err != nil {
		fail(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	respond(w, http.StatusOK, healthResp{Status: "ok", ClusterID: c.svc.ClusterID()})
}
