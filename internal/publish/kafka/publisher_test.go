package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/publish"
)

func TestConfigValidate(t *testing.T) {
	if err := (Config{Brokers: []string{"127.0.0.1:9092"}, Topic: "commits"}).Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := (Config{Topic: "commits"}).Validate(); err == nil {
		t.Fatalf("expected brokers error")
	}
	if err := (Config{Brokers: []string{"b:9092"}}).Validate(); err == nil {
		t.Fatalf("expected topic error")
	}
}

func TestPublishBuildsKeyedRecord(t *testing.T) {
	var got []*kgo.Record
	p := &Publisher{topic: "commits", render: publish.Raw}
	p.produce = func(_ context.Context, r *kgo.Record) error {
		got = append(got, r)
		return nil
	}
	c := commitstore.Commit{Sequence: 4, Stream: "orders", Version: 2, Origin: "east", Events: [][]byte{[]byte("a")}}
	if err := p.Publish(context.Background(), c); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	rec := got[0]
	if rec.Topic != "commits" || string(rec.Key) != "orders" {
		t.Fatalf("unexpected record routing: %s/%s", rec.Topic, rec.Key)
	}
	if len(rec.Headers) != 2 || string(rec.Headers[0].Value) != "east" || string(rec.Headers[1].Value) != "2" {
		t.Fatalf("unexpected headers: %+v", rec.Headers)
	}
	var m publish.Message
	if err := json.Unmarshal(rec.Value, &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if m.Sequence != 4 || m.Version != 2 || len(m.Events) != 1 {
		t.Fatalf("unexpected body: %+v", m)
	}
}

func TestPublishWrapsProduceError(t *testing.T) {
	boom := errors.New("leader not available")
	p := &Publisher{topic: "commits", render: publish.Raw}
	p.produce = func(context.Context, *kgo.Record) error { return boom }
	err := p.Publish(context.Background(), commitstore.Commit{Stream: "orders", Version: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
