// Package publish sends analysis reports to an AMQP exchange.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/output"
)

// DefaultTimeout bounds a single publish.
const DefaultTimeout = 5 * time.Second

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes reports to a topic exchange.
type Publisher struct {
	ch       Channel
	conn     io.Closer
	cfg      config.PublishConfig
	logger   *slog.Logger
	declared bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// Dial connects to the broker named in cfg and opens a channel.
func Dial(cfg config.PublishConfig, opts ...Option) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	p := New(ch, cfg, opts...)
	p.conn = conn
	return p, nil
}

// New wraps an open channel.
func New(ch Channel, cfg config.PublishConfig, opts ...Option) *Publisher {
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = config.DefaultRoutingKey
	}
	p := &Publisher{
		ch:     ch,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends the compact report as one persistent JSON message. The exchange
// is declared on first use. Reports whose trigger does not fire are skipped
// and Publish returns false.
func (p *Publisher) Publish(ctx context.Context, report *output.Report) (bool, error) {
	if !p.cfg.Trigger.ShouldFire(report.HasOutliers()) {
		return false, nil
	}

	if !p.declared {
		if err := p.ch.ExchangeDeclare(p.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return false, fmt.Errorf("declaring exchange %s: %w", p.cfg.Exchange, err)
		}
		p.declared = true
	}

	body, err := json.Marshal(report.Compact())
	if err != nil {
		return false, fmt.Errorf("marshaling report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    report.Metadata.RunID,
		Timestamp:    report.Metadata.AnalyzedAt,
		AppId:        "reqtrace",
		Headers: amqp.Table{
			"batch":    report.Metadata.Batch,
			"sessions": int32(report.Summary.Sessions),
			"outliers": int32(report.Summary.Outliers),
		},
		Body: body,
	}
	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, msg); err != nil {
		return false, fmt.Errorf("publishing to %s: %w", p.cfg.Exchange, err)
	}

	p.logger.Info("report published",
		"exchange", p.cfg.Exchange,
		"routing_key", p.cfg.RoutingKey,
		"run_id", report.Metadata.RunID)
	return true, nil
}

// Close closes the channel and, when dialed, the connection.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
