package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
)

// Router is a configured V2 router. Its index in the resolver's list is its
// priority.
type Router struct {
	Name    string
	Address common.Address
}

// Resolver finds the first viable quote across routers and paths
type Resolver struct {
	routers []Router
	paths   *PathBuilder
	quoter  Quoter
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
	now     func() time.Time
}

// ResolverConfig holds resolver configuration
type ResolverConfig struct {
	Routers []Router
	Paths   *PathBuilder
	Quoter  Quoter
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
	Now     func() time.Time
}

// NewResolver creates a new resolver
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if len(cfg.Routers) == 0 {
		return nil, fmt.Errorf("at least one router is required")
	}
	if cfg.Quoter == nil {
		return nil, fmt.Errorf("quoter is required")
	}
	if cfg.Paths == nil {
		cfg.Paths = NewPathBuilder(nil, PathOptions{})
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Resolver{
		routers: append([]Router(nil), cfg.Routers...),
		paths:   cfg.Paths,
		quoter:  cfg.Quoter,
		logger:  cfg.Logger.With("component", "quote_resolver"),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		now:     cfg.Now,
	}, nil
}

// Routers returns the routers in priority order
func (r *Resolver) Routers() []Router {
	return append([]Router(nil), r.routers...)
}

// Resolve tries each router in priority order and, within a router, each
// candidate path in order. The first call that returns a non-zero output
// wins. Attempts are strictly sequential. If the caller's context ends, the
// context error is returned instead of a NoRouteError.
func (r *Resolver) Resolve(ctx context.Context, sell, buy common.Address, sellAmount *big.Int) (*Quote, error) {
	start := r.now()

	ctx, span := r.tracer.StartSpan(ctx, "quote.Resolve",
		observability.WithSpanKind(trace.SpanKindInternal),
		observability.WithAttributes(
			attribute.String("sell", sell.Hex()),
			attribute.String("buy", buy.Hex()),
		),
	)
	defer span.End()

	q, err := r.resolve(ctx, sell, buy, sellAmount)

	outcome := "ok"
	switch {
	case err == nil:
		span.SetAttributes(
			attribute.String("router", q.Router),
			attribute.Int("hops", q.Path.Hops()),
		)
	case ctx.Err() != nil:
		outcome = "cancelled"
	case errors.As(err, new(*NoRouteError)):
		outcome = "no_route"
	default:
		outcome = "invalid"
	}
	span.NoticeError(err)
	r.metrics.RecordQuote(ctx, outcome, r.now().Sub(start))

	return q, err
}

func (r *Resolver) resolve(ctx context.Context, sell, buy common.Address, sellAmount *big.Int) (*Quote, error) {
	if sellAmount == nil || sellAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	paths := r.paths.Build(sell, buy)
	if len(paths) == 0 {
		return nil, ErrInvalidPair
	}

	var attempts []Attempt
	for _, router := range r.routers {
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			callStart := r.now()
			amounts, err := r.quoter.Quote(ctx, router.Address, path, sellAmount)
			if err == nil {
				err = checkAmounts(router, path, amounts)
			}
			r.metrics.RecordRouterCall(ctx, router.Name, path.Hops(), err == nil, r.now().Sub(callStart))

			if err == nil {
				return newQuote(router, path, sellAmount, amounts, r.now()), nil
			}

			// a call cut short by the caller says nothing about the route
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			r.logger.DebugContext(ctx, "quote attempt failed",
				"router", router.Name,
				"path", path.String(),
				"error", err,
			)
			attempts = append(attempts, Attempt{
				Router:        router.Name,
				RouterAddress: router.Address,
				Path:          path.Clone(),
				Err:           err,
			})
		}
	}

	r.logger.WarnContext(ctx, "no route found",
		"sell", sell.Hex(),
		"buy", buy.Hex(),
		"amount", sellAmount.String(),
		"attempts", len(attempts),
	)
	return nil, &NoRouteError{Sell: sell, Buy: buy, Attempts: attempts}
}

func checkAmounts(router Router, path Path, amounts []*big.Int) error {
	var cause error
	switch {
	case len(amounts) != len(path):
		cause = ErrAmountsMismatch
	case amounts[len(amounts)-1] == nil || amounts[len(amounts)-1].Sign() <= 0:
		cause = ErrZeroOutput
	}
	if cause == nil {
		return nil
	}
	return &UpstreamCallError{Router: router.Address, Path: path.Clone(), Cause: cause}
}
