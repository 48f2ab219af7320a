package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rzbill/replog/internal/host"
	"github.com/rzbill/replog/internal/keys"
	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/pkg/log"
)

const (
	// maxAppendBody bounds the request body of an append.
	maxAppendBody = 1 << 20
	// maxWait caps the long-poll duration of a view request.
	maxWait = time.Minute
)

// StreamsController serves stream views, appends, segments and stats.
type StreamsController struct {
	svc    StreamService
	logger log.Logger
}

func NewStreamsController(svc StreamService, logger log.Logger) *StreamsController {
	return &StreamsController{svc: svc, logger: logger.With(log.Component("http"))}
}

// RegisterRoutes registers:
// - GET  /v1/streams               active streams
// - GET  /v1/streams/{id}          view and confirmed version (?sync=true reads storage first,
//                                   ?after=N&wait=10s waits for a version past N)
// - POST /v1/streams/{id}/events   append events
// - GET  /v1/streams/{id}/events   committed events (?from=&to=)
// - GET  /v1/streams/{id}/stats    activation stats
func (c *StreamsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/streams", c.handleList)
	mux.HandleFunc("GET /v1/streams/{id}", c.handleView)
	mux.HandleFunc("POST /v1/streams/{id}/events", c.handleAppend)
	mux.HandleFunc("GET /v1/streams/{id}/events", c.handleSegment)
	mux.HandleFunc("GET /v1/streams/{id}/stats", c.handleStats)
}

func (c *StreamsController) handleList(w http.ResponseWriter, r *http.Request) {
	st, err := c.svc.Stats(r.Context())
	if err != nil {
		c.fail(w, "", err)
		return
	}
	respond(w, http.StatusOK, statsResp{Streams: st})
}

func (c *StreamsController) handleView(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.URL.Query().Has("wait") {
		c.handleWait(w, r, id)
		return
	}
	read := c.svc.View
	if parseBool(r.URL.Query().Get("sync")) {
		read = c.svc.Sync
	}
	view, version, err := read(r.Context(), id)
	if err != nil {
		c.fail(w, id, err)
		return
	}
	respond(w, http.StatusOK, viewResp{Stream: id, Version: version, View: view})
}

func (c *StreamsController) handleWait(w http.ResponseWriter, r *http.Request, id string) {
	q := r.URL.Query()
	wait, err := time.ParseDuration(q.Get("wait"))
	if err != nil || wait < 0 {
		fail(w, http.StatusBadRequest, "invalid wait duration")
		return
	}
	after, ok := parseVersion(q.Get("after"), 0)
	if !ok {
		fail(w, http.StatusBadRequest, "invalid after version")
		return
	}
	view, version, _, err := c.svc.WaitVersion(r.Context(), id, after, min(wait, maxWait))
	if err != nil {
		c.fail(w, id, err)
		return
	}
	respond(w, http.StatusOK, viewResp{Stream: id, Version: version, View: view})
}

func (c *StreamsController) handleAppend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req appendReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAppendBody)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Events) == 0 {
		fail(w, http.StatusBadRequest, "events are required")
		return
	}
	for _, e := range req.Events {
		if err := e.Validate(); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	version, err := c.svc.Append(r.Context(), id, req.Events...)
	if err != nil {
		c.fail(w, id, err)
		return
	}
	respond(w, http.StatusCreated, appendResp{Stream: id, Version: version})
}

func (c *StreamsController) handleSegment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()
	from, ok := parseVersion(q.Get("from"), 1)
	if !ok {
		fail(w, http.StatusBadRequest, "invalid from")
		return
	}
	to := uint64(0)
	if q.Get("to") == "" {
		_, v, err := c.svc.View(r.Context(), id)
		if err != nil {
			c.fail(w, id, err)
			return
		}
		to = v
	} else if to, ok = parseVersion(q.Get("to"), 0); !ok {
		fail(w, http.StatusBadRequest, "invalid to")
		return
	}
	events, err := c.svc.Segment(r.Context(), id, from, to)
	if err != nil {
		c.fail(w, id, err)
		return
	}
	respond(w, http.StatusOK, segmentResp{Stream: id, From: from, To: to, Events: events})
}

func (c *StreamsController) handleStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok, err := c.svc.StreamStats(r.Context(), id)
	if err != nil {
		c.fail(w, id, err)
		return
	}
	if !ok {
		fail(w, http.StatusNotFound, "stream not active")
		return
	}
	respond(w, http.StatusOK, st)
}

// fail maps service errors to status codes.
func (c *StreamsController) fail(w http.ResponseWriter, stream string, err error) {
	switch {
	case errors.Is(err, keys.ErrInvalidStreamID):
		fail(w, http.StatusBadRequest, err.Error())
	case logview.IsRetryable(err):
		fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, host.ErrClosed):
		fail(w, http.StatusServiceUnavailable, err.Error())
	default:
		c.logger.Error("request failed", log.Stream(stream), log.Err(err))
		fail(w, http.StatusInternalServerError, "internal error")
	}
}
