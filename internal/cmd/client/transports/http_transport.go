package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rzbill/replog/internal/host"
	"github.com/rzbill/replog/internal/kvview"
)

// HTTPTransport implements StreamsTransport against a node's HTTP API.
type HTTPTransport struct {
	base   string
	client *http.Client
}

// NewHTTPTransport returns a transport for the API rooted at base, e.g.
// http://127.0.0.1:8080.
func NewHTTPTransport(base string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPTransport{base: strings.TrimRight(base, "/"), client: client}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http error: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("http error: %d %s", e.Code, e.Message)
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func streamPath(stream string) string { return "/v1/streams/" + url.PathEscape(stream) }

// Health calls GET /v1/healthz.
func (t *HTTPTransport) Health(ctx context.Context) (Health, error) {
	var h Health
	err := t.do(ctx, http.MethodGet, "/v1/healthz", nil, &h)
	return h, err
}

// Append posts events and returns the committed version.
func (t *HTTPTransport) Append(ctx context.Context, stream string, events []kvview.Event) (uint64, error) {
	var out struct {
		Version uint64 `json:"version"`
	}
	body := struct {
		Events []kvview.Event `json:"events"`
	}{Events: events}
	if err := t.do(ctx, http.MethodPost, streamPath(stream)+"/events", body, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

// View fetches the confirmed view, optionally syncing with storage first.
func (t *HTTPTransport) View(ctx context.Context, stream string, sync bool) (View, error) {
	path := streamPath(stream)
	if sync {
		path += "?sync=true"
	}
	var v View
	err := t.do(ctx, http.MethodGet, path, nil, &v)
	return v, err
}

// WaitView long-polls the view.
func (t *HTTPTransport) WaitView(ctx context.Context, stream string, after uint64, wait time.Duration) (View, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	q.Set("wait", wait.String())
	var v View
	err := t.do(ctx, http.MethodGet, streamPath(stream)+"?"+q.Encode(), nil, &v)
	return v, err
}

// Segment fetches committed events.
func (t *HTTPTransport) Segment(ctx context.Context, stream string, from, to uint64) (Segment, error) {
	q := url.Values{}
	if from > 0 {
		q.Set("from", strconv.FormatUint(from, 10))
	}
	if to > 0 {
		q.Set("to", strconv.FormatUint(to, 10))
	}
	path := streamPath(stream) + "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var s Segment
	err := t.do(ctx, http.MethodGet, path, nil, &s)
	return s, err
}

// Stats lists the node's activations.
func (t *HTTPTransport) Stats(ctx context.Context) ([]host.StreamStats, error) {
	var out struct {
		Streams []host.StreamStats `json:"streams"`
	}
	err := t.do(ctx, http.MethodGet, "/v1/streams", nil, &out)
	return out.Streams, err
}

// StreamStats reports one activation.
func (t *HTTPTransport) StreamStats(ctx context.Context, stream string) (host.StreamStats, error) {
	var st host.StreamStats
	err := t.do(ctx, http.MethodGet, streamPath(stream)+"/stats", nil, &st)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return st, ErrNotActive
	}
	return st, err
}
