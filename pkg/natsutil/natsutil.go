// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// MsgPublisher is the subset of *nats.Conn used for publishing.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Topic is a typed subject carrying JSON-encoded values of T.
type Topic[T any] struct {
	Subject string
	Logger  *slog.Logger
}

// NewTopic returns a Topic for subject.
func NewTopic[T any](subject string, logger *slog.Logger) Topic[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return Topic[T]{Subject: subject, Logger: logger}
}

// Encode builds the message for v, injecting trace context from ctx.
func (t Topic[T]) Encode(ctx context.Context, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", t.Subject, err)
	}
	msg := &nats.Msg{Subject: t.Subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Decode extracts the trace context and value carried by msg.
func (t Topic[T]) Decode(msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, fmt.Errorf("natsutil: decode %s: %w", t.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
	return ctx, v, nil
}

// Publish serializes v as JSON and publishes it on the topic subject.
func (t Topic[T]) Publish(ctx context.Context, p MsgPublisher, v T) error {
	msg, err := t.Encode(ctx, v)
	if err != nil {
		return err
	}
	if err := p.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", t.Subject, err)
	}
	return nil
}

// Handler returns a nats.MsgHandler that decodes messages and calls h.
// Malformed messages are logged and dropped.
func (t Topic[T]) Handler(h func(context.Context, T)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, v, err := t.Decode(msg)
		if err != nil {
			t.Logger.Warn("natsutil: dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		h(ctx, v)
	}
}

// Subscribe registers h for messages on the topic subject.
func (t Topic[T]) Subscribe(nc *nats.Conn, h func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(t.Subject, t.Handler(h))
}

// Publisher binds a Topic to a connection so callers only see Publish.
type Publisher[T any] struct {
	Topic Topic[T]
	Conn  MsgPublisher
}

// Publish sends v on the bound topic.
func (p Publisher[T]) Publish(ctx context.Context, v T) error {
	return p.Topic.Publish(ctx, p.Conn, v)
}
