// Package publish forwards committed batches to external systems after the
// log-view adaptor has made them durable. Publishers are the adaptor's
// post-commit callback: a failed publish is logged and counted, it never
// undoes the commit.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rzbill/replog/internal/commitstore"
)

// Message is the JSON body published for one commit.
type Message struct {
	Stream   string            `json:"stream"`
	Version  uint64            `json:"version"`
	Sequence uint64            `json:"sequence"`
	Origin   string            `json:"origin"`
	Time     int64             `json:"ts"`
	Events   []json.RawMessage `json:"events"`
}

// Renderer turns one encoded event into JSON.
type Renderer func(event []byte) (json.RawMessage, error)

// MsgpackJSON renders msgpack-encoded events as the equivalent JSON value.
func MsgpackJSON(event []byte) (json.RawMessage, error) {
	var v any
	if err := msgpack.Unmarshal(event, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Raw renders events as base64 JSON strings.
func Raw(event []byte) (json.RawMessage, error) { return json.Marshal(event) }

// Encode builds the JSON body for c. A nil render means MsgpackJSON.
func Encode(c commitstore.Commit, render Renderer) ([]byte, error) {
	if render == nil {
		render = MsgpackJSON
	}
	m := Message{
		Stream:   c.Stream,
		Version:  c.Version,
		Sequence: c.Sequence,
		Origin:   c.Origin,
		Time:     c.Time,
		Events:   make([]json.RawMessage, 0, len(c.Events)),
	}
	for i, e := range c.Events {
		raw, err := render(e)
		if err != nil {
			return nil, fmt.Errorf("render event %d: %w", i, err)
		}
		m.Events = append(m.Events, raw)
	}
	return json.Marshal(m)
}

// Publisher delivers commits to one destination.
type Publisher interface {
	Publish(ctx context.Context, c commitstore.Commit) error
	Close() error
}

// Noop discards every commit.
type Noop struct{}

func (Noop) Publish(context.Context, commitstore.Commit) error { return nil }
func (Noop) Close() error                                      { return nil }

// Multi publishes to every member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, c commitstore.Commit) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PostCommit adapts p to the adaptor's post-commit callback. failed, when
// set, is called once per failed publish.
func PostCommit(p Publisher, failed func()) func(context.Context, commitstore.Commit) error {
	return func(ctx context.Context, c commitstore.Commit) error {
		err := p.Publish(ctx, c)
		if err != nil && failed != nil {
			failed()
		}
		return err
	}
}
