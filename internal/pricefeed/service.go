package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
	"github.com/agatticelli/safeswap-quoter/internal/platform/resilience"
)

// LastErrorCircuitOpen is reported when the cached price is served because
// the breaker suppressed the upstream call
const LastErrorCircuitOpen = "CIRCUIT_OPEN"

// NoPriceAvailableError means every upstream failed and nothing was cached
type NoPriceAvailableError struct {
	Cause error
}

func (e *NoPriceAvailableError) Error() string {
	return fmt.Sprintf("price temporarily unavailable: %v", e.Cause)
}

func (e *NoPriceAvailableError) Unwrap() error { return e.Cause }

// PriceResult is what GetPrice hands to consumers
type PriceResult struct {
	Data        json.RawMessage `json:"data"`
	USD         float64         `json:"usd"`
	Native      float64         `json:"native,omitempty"`
	HasNative   bool            `json:"-"`
	Source      string          `json:"source"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Stale       bool            `json:"stale"`
	StaleSchema bool            `json:"staleSchema,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
}

func resultFrom(cp *CachedPrice) *PriceResult {
	return &PriceResult{
		Data:        cp.Payload.Data,
		USD:         cp.Payload.USD,
		Native:      cp.Payload.Native,
		HasNative:   cp.Payload.HasNative,
		Source:      cp.Payload.Source,
		LastUpdated: cp.LastUpdated,
	}
}

// Service is the single "get current price" operation. It owns the circuit
// breaker and the price cache. Breaker transitions and the memory slot change
// together under mu; durable store I/O happens outside it.
type Service struct {
	token   string
	sources []Source
	breaker *resilience.CircuitBreaker
	cache   *PriceCache
	retry   resilience.RetryConfig
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer

	mu sync.Mutex
}

// ServiceConfig holds price service configuration
type ServiceConfig struct {
	Token   string // featured token symbol, used in metrics
	Sources []Source
	Breaker *resilience.CircuitBreaker
	Cache   *PriceCache
	Retry   resilience.RetryConfig
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// NewService creates a new price service
func NewService(cfg ServiceConfig) (*Service, error) {
	if len(cfg.Sources) == 0 {
		return nil, errors.New("at least one price source is required")
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "pricefeed"})
	}
	if cfg.Cache == nil {
		cfg.Cache = NewPriceCache(PriceCacheConfig{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.Token == "" {
		cfg.Token = "GCC"
	}

	return &Service{
		token:   cfg.Token,
		sources: append([]Source(nil), cfg.Sources...),
		breaker: cfg.Breaker,
		cache:   cfg.Cache,
		retry:   cfg.Retry,
		now:     cfg.Now,
		logger:  cfg.Logger.With("component", "price_service"),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}, nil
}

// GetPrice returns the current price. It fails only when upstream is down and
// no price was ever cached (*NoPriceAvailableError) or when ctx ends first.
func (s *Service) GetPrice(ctx context.Context) (*PriceResult, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pricefeed.GetPrice")
	defer span.End()

	res, err := s.getPrice(ctx)
	span.NoticeError(err)

	switch {
	case err != nil && ctx.Err() != nil:
		s.metrics.RecordPriceServed(ctx, "cancelled")
	case err != nil:
		s.metrics.RecordPriceServed(ctx, "unavailable")
		s.metrics.RecordError(ctx, "no_price_available")
	case res.Stale:
		span.SetAttributes(attribute.Bool("stale", true))
		s.metrics.RecordPriceServed(ctx, "stale")
	default:
		s.metrics.RecordPriceServed(ctx, "fresh")
	}
	return res, err
}

func (s *Service) getPrice(ctx context.Context) (*PriceResult, error) {
	if cached := s.cachedWhileOpen(ctx); cached != nil {
		res := resultFrom(cached)
		res.Stale = true
		res.LastError = LastErrorCircuitOpen
		return res, nil
	}

	var lastErr error
	retry := s.retry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.DebugContext(ctx, "retrying price fetch", "attempt", attempt, "delay", delay, "error", err)
	}
	payload, err := resilience.RetryWithResult(ctx, retry, func(ctx context.Context) (PricePayload, error) {
		p, err := s.fetchOnce(ctx)
		if err != nil {
			lastErr = err
		}
		return p, err
	})

	// a cancelled caller leaves breaker and cache untouched
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if err == nil {
		return s.onSuccess(ctx, payload), nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return s.onFailure(ctx, lastErr)
}

// cachedWhileOpen returns the cached price if the breaker is open
func (s *Service) cachedWhileOpen(ctx context.Context) *CachedPrice {
	s.mu.Lock()
	open := s.breaker.IsOpen()
	s.mu.Unlock()
	if !open {
		return nil
	}
	cached := s.cache.Read(ctx)
	if cached != nil {
		s.logger.DebugContext(ctx, "circuit open, serving cached price", "breaker", s.breaker.Name())
	}
	return cached
}

func (s *Service) onSuccess(ctx context.Context, payload PricePayload) *PriceResult {
	cp := CachedPrice{Payload: payload, LastUpdated: s.now().UTC()}

	s.mu.Lock()
	s.cache.Remember(cp)
	s.breaker.Reset()
	s.mu.Unlock()

	s.cache.Persist(ctx, cp)

	if payload.USD > 0 {
		s.metrics.RecordPrice(ctx, s.token, payload.USD)
	}
	res := resultFrom(&cp)
	res.Stale = !payload.SchemaValid
	res.StaleSchema = !payload.SchemaValid
	return res
}

func (s *Service) onFailure(ctx context.Context, cause error) (*PriceResult, error) {
	s.mu.Lock()
	s.breaker.RecordFailure()
	s.mu.Unlock()

	cached := s.cache.Read(ctx)
	if cached == nil {
		s.logger.ErrorContext(ctx, "price unavailable and nothing cached", "error", cause)
		return nil, &NoPriceAvailableError{Cause: cause}
	}

	s.logger.WarnContext(ctx, "upstream price failed, serving cached",
		"error", cause,
		"last_updated", cached.LastUpdated,
	)
	res := resultFrom(cached)
	res.Stale = true
	res.LastError = cause.Error()
	return res, nil
}

// fetchOnce tries every source in order and returns the first payload
func (s *Service) fetchOnce(ctx context.Context) (PricePayload, error) {
	var errs []error
	for _, src := range s.sources {
		p, err := src.Fetch(ctx)
		if err == nil {
			if p.Source == "" {
				p.Source = src.Name()
			}
			return p, nil
		}
		if ctx.Err() != nil {
			return PricePayload{}, ctx.Err()
		}
		s.logger.DebugContext(ctx, "price source failed", "source", src.Name(), "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 1 {
		return PricePayload{}, errs[0]
	}
	return PricePayload{}, errors.Join(errs...)
}

// Breaker exposes the breaker for readiness reporting
func (s *Service) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}
