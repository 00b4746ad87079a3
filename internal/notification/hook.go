package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
	"github.com/agatticelli/safeswap-quoter/internal/platform/resilience"
)

// HookConfig wires a breaker's state changes to metrics and a Notifier
type HookConfig struct {
	Breaker  string
	Notifier Notifier
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Timeout  time.Duration
	Now      func() time.Time
	// Snapshot reads the breaker counters; set after the breaker exists
	Snapshot func() resilience.CircuitState
}

// CircuitHook returns an OnStateChange callback. The callback runs under
// the breaker's lock, so publishing happens on its own goroutine.
func CircuitHook(cfg *HookConfig) func(from, to resilience.State) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	return func(from, to resilience.State) {
		cfg.Metrics.SetCircuitBreakerState(context.Background(), cfg.Breaker, int64(to))
		if cfg.Notifier == nil {
			return
		}

		ev := CircuitEvent{
			Breaker: cfg.Breaker,
			From:    from.String(),
			To:      to.String(),
			At:      cfg.Now().UTC(),
		}
		snapshot := cfg.Snapshot

		go func() {
			if snapshot != nil {
				st := snapshot()
				ev.FailureCount, ev.OpenUntil = st.FailureCount, st.OpenUntil
			}
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			if err := cfg.Notifier.PublishCircuitEvent(ctx, ev); err != nil {
				cfg.Logger.WarnContext(ctx, "circuit notification failed", "breaker", cfg.Breaker, "error", err)
			}
		}()
	}
}
