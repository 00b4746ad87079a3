package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
)

// DefaultRefreshSchedule keeps the cache warm between requests
const DefaultRefreshSchedule = "@every 30s"

// Refresher calls a FetchFunc on a cron schedule
type Refresher struct {
	cron    *cron.Cron
	fetch   FetchFunc
	timeout time.Duration
	logger  *slog.Logger
}

// NewRefresher schedules fetch. Runs never overlap; a run still in flight
// when the next tick fires makes that tick a no-op.
func NewRefresher(fetch FetchFunc, schedule string, timeout time.Duration, logger *slog.Logger) (*Refresher, error) {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	r := &Refresher{
		fetch:   fetch,
		timeout: timeout,
		logger:  logger.With("component", "price_refresher"),
	}
	r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the schedule in its own goroutine
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running refresh or ctx, whichever
// comes first
func (r *Refresher) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.fetch(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "scheduled price refresh failed", "error", err)
		return
	}
	r.logger.DebugContext(ctx, "scheduled price refresh",
		"source", res.Source,
		"usd", res.USD,
		"stale", res.Stale,
	)
}
