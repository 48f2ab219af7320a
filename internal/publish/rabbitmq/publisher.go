// Package rabbitmq publishes commits to a durable topic exchange with
// amqp091-go. The routing key is the stream id; publisher confirms are on,
// so Publish returns only after the broker took the message.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/publish"
)

// ErrNacked is returned when the broker rejects a published message.
var ErrNacked = errors.New("rabbitmq: message nacked")

type Config struct {
	URL      string
	Exchange string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("rabbitmq.url is required")
	}
	if c.Exchange == "" {
		return errors.New("rabbitmq.exchange is required")
	}
	return nil
}

// Publisher sends one persistent message per commit.
type Publisher struct {
	exchange string
	render   publish.Renderer
	publish  func(ctx context.Context, exchange, key string, msg amqp091.Publishing) error
	close    func() error
}

// New dials cfg.URL, declares the exchange and enables confirms.
func New(cfg Config, render publish.Renderer) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := amqp091.Dial(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp091.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	p := &Publisher{exchange: cfg.Exchange, render: render}
	p.publish = func(ctx context.Context, exchange, key string, msg amqp091.Publishing) error {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
		if err != nil {
			return err
		}
		ok, err := dc.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNacked
		}
		return nil
	}
	p.close = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return p, nil
}

// Message builds the AMQP message for c.
func (p *Publisher) Message(c commitstore.Commit) (amqp091.Publishing, error) {
	body, err := publish.Encode(c, p.render)
	if err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    fmt.Sprintf("%s/%d", c.Stream, c.Version),
		Timestamp:    time.UnixMilli(c.Time).UTC(),
		AppId:        c.Origin,
		Body:         body,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, c commitstore.Commit) error {
	msg, err := p.Message(c)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, p.exchange, c.Stream, msg); err != nil {
		return fmt.Errorf("rabbitmq publish %s/%d: %w", c.Stream, c.Version, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}
