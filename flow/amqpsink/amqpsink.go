// Package amqpsink publishes merged flow results to RabbitMQ.
package amqpsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hupe1980/agentloop/flow"
	"github.com/hupe1980/agentloop/logging"
)

// Channel is the subset of *amqp.Channel used by the sink.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// Options configure a Sink.
type Options struct {
	// Exchange is empty for the default exchange.
	Exchange string
	// RoutingKey defaults to Queue.
	RoutingKey string
	// Queue is declared by Dial when set.
	Queue   string
	Durable bool
	// Persistent marks messages as delivery mode 2.
	Persistent bool
	Logger     logging.Logger
}

// DefaultQueue is used when neither Queue nor RoutingKey are set.
const DefaultQueue = "agentloop.results"

// Sink publishes flow results as JSON messages.
type Sink struct {
	ch   Channel
	conn *amqp.Connection
	opts Options
}

var _ flow.Sink = (*Sink)(nil)

// New wraps an open channel.
func New(ch Channel, optFns ...func(o *Options)) *Sink {
	opts := Options{Queue: DefaultQueue, Durable: true, Persistent: true}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.RoutingKey == "" {
		opts.RoutingKey = opts.Queue
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Sink{ch: ch, opts: opts}
}

// Dial connects to url, opens a channel and declares the result queue.
func Dial(url string, optFns ...func(o *Options)) (*Sink, error) {
	if url == "" {
		return nil, errors.New("amqpsink: url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqpsink: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqpsink: open channel: %w", err)
	}

	s := New(ch, optFns...)
	s.conn = conn
	if s.opts.Queue != "" {
		if _, err := ch.QueueDeclare(s.opts.Queue, s.opts.Durable, false, false, false, nil); err != nil {
			s.Close()
			return nil, fmt.Errorf("amqpsink: declare queue %s: %w", s.opts.Queue, err)
		}
	}
	return s, nil
}

// Publish implements flow.Sink.
func (s *Sink) Publish(ctx context.Context, res flow.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("amqpsink: encode result: %w", err)
	}

	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   res.RunID,
		Timestamp:   time.Now().UTC(),
		Type:        "agentloop.flow.result",
		Headers:     amqp.Table{"status": string(res.Status)},
		Body:        body,
	}
	if s.opts.Persistent {
		msg.DeliveryMode = amqp.Persistent
	}

	if err := s.ch.PublishWithContext(ctx, s.opts.Exchange, s.opts.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("amqpsink: publish %s: %w", res.RunID, err)
	}
	s.opts.Logger.Debug("amqpsink.published", "run_id", res.RunID, "routing_key", s.opts.RoutingKey, "bytes", len(body))
	return nil
}

// Close closes the channel and, when opened by Dial, the connection.
func (s *Sink) Close() error {
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}
