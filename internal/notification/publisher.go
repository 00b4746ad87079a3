// Package notification announces circuit breaker transitions so operators
// learn an upstream price source is down before users do.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/safeswap-quoter/internal/platform/aws"
	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
)

// CircuitEvent describes one breaker transition
type CircuitEvent struct {
	Breaker      string    `json:"breaker"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	FailureCount int       `json:"failureCount"`
	OpenUntil    time.Time `json:"openUntil,omitempty"`
	At           time.Time `json:"at"`
}

// Notifier receives circuit events
type Notifier interface {
	PublishCircuitEvent(ctx context.Context, ev CircuitEvent) error
}

// Publisher publishes circuit events to SNS
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *slog.Logger
	tracer    observability.Tracer
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *slog.Logger
	Tracer    observability.Tracer
}

// NewPublisher creates a new circuit event publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
	}, nil
}

// PublishCircuitEvent publishes ev with breaker and state attributes for
// subscription filtering
func (p *Publisher) PublishCircuitEvent(ctx context.Context, ev CircuitEvent) error {
	ctx, span := p.tracer.StartSpan(ctx, "Publisher.PublishCircuitEvent",
		observability.WithAttributes(
			attribute.String("breaker", ev.Breaker),
			attribute.String("to", ev.To),
			attribute.String("topic_arn", p.topicARN),
		),
	)
	defer span.End()

	attributes := map[string]string{
		"breaker": ev.Breaker,
		"state":   ev.To,
	}
	if err := p.snsClient.Publish(ctx, p.topicARN, ev, attributes); err != nil {
		span.NoticeError(err)
		return fmt.Errorf("publish circuit event: %w", err)
	}

	p.logger.InfoContext(ctx, "published circuit event",
		"breaker", ev.Breaker,
		"from", ev.From,
		"to", ev.To,
	)
	return nil
}
