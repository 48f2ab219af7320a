// Package kafka publishes commits to a Kafka topic with franz-go. The record
// key is the stream id, so one stream's commits stay in one partition and
// keep their version order.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/publish"
)

// Config selects the brokers and topic.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Topic == "" {
		return errors.New("kafka.topic is required")
	}
	return nil
}

// Publisher produces one record per commit and waits for the broker ack.
type Publisher struct {
	topic   string
	render  publish.Renderer
	produce func(context.Context, *kgo.Record) error
	close   func()
}

// New creates a franz-go client for cfg. Extra options are appended to the
// defaults.
func New(cfg Config, render publish.Renderer, opts ...kgo.Opt) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(append(kopts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	p := &Publisher{topic: cfg.Topic, render: render, close: cl.Close}
	p.produce = func(ctx context.Context, r *kgo.Record) error { return cl.ProduceSync(ctx, r).FirstErr() }
	return p, nil
}

// Record builds the Kafka record for c.
func (p *Publisher) Record(c commitstore.Commit) (*kgo.Record, error) {
	body, err := publish.Encode(c, p.render)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   []byte(c.Stream),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "origin", Value: []byte(c.Origin)},
			{Key: "version", Value: []byte(strconv.FormatUint(c.Version, 10))},
		},
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, c commitstore.Commit) error {
	rec, err := p.Record(c)
	if err != nil {
		return err
	}
	if err := p.produce(ctx, rec); err != nil {
		return fmt.Errorf("kafka produce %s/%d: %w", c.Stream, c.Version, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
