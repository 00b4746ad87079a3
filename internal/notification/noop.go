package notification

import (
	"context"
	"log/slog"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
)

// NoOpPublisher only logs circuit events.
// Use this when SNS is not configured (local development, testing).
type NoOpPublisher struct {
	logger *slog.Logger
}

// NewNoOpPublisher creates a new no-op publisher
func NewNoOpPublisher(logger *slog.Logger) *NoOpPublisher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &NoOpPublisher{logger: logger}
}

// PublishCircuitEvent implements Notifier.
func (p *NoOpPublisher) PublishCircuitEvent(ctx context.Context, ev CircuitEvent) error {
	p.logger.InfoContext(ctx, "circuit state changed (SNS disabled)",
		"breaker", ev.Breaker,
		"from", ev.From,
		"to", ev.To,
		"failure_count", ev.FailureCount,
	)
	return nil
}
