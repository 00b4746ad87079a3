package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application instruments. A nil *Metrics is valid and
// records nothing, so components can take it as an optional dependency.
type Metrics struct {
	meter    metric.Meter
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	// Quote resolution
	QuoteRequests  metric.Int64Counter
	QuoteDuration  metric.Float64Histogram
	RouterCalls    metric.Int64Counter
	RouterDuration metric.Float64Histogram

	// Price feed
	PriceFetches   metric.Int64Counter
	PriceServed    metric.Int64Counter
	PriceUSD       metric.Float64Gauge
	UpstreamStatus metric.Int64Counter

	// RPC endpoint metrics
	RPCEndpointHealth metric.Int64Gauge

	// Cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	Errors metric.Int64Counter
}

// NewMetrics creates the instrument set. When disabled the instruments come
// from the noop meter and Handler serves an empty registry.
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if !enabled {
		m := &Metrics{meter: noop.NewMeterProvider().Meter(serviceName), registry: registry}
		if err := m.initMetrics(); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		return m, nil
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		registry: registry,
		provider: provider,
	}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() error {
	var err error

	if m.QuoteRequests, err = m.meter.Int64Counter(
		"safeswap.quote.requests",
		metric.WithDescription("Quote requests by outcome"),
	); err != nil {
		return err
	}
	if m.QuoteDuration, err = m.meter.Float64Histogram(
		"safeswap.quote.duration",
		metric.WithDescription("End-to-end quote resolution time"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}
	if m.RouterCalls, err = m.meter.Int64Counter(
		"safeswap.router.calls",
		metric.WithDescription("getAmountsOut calls by router and status"),
	); err != nil {
		return err
	}
	if m.RouterDuration, err = m.meter.Float64Histogram(
		"safeswap.router.duration",
		metric.WithDescription("getAmountsOut call duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if m.PriceFetches, err = m.meter.Int64Counter(
		"safeswap.price.fetches",
		metric.WithDescription("Upstream price fetch attempts by source and status"),
	); err != nil {
		return err
	}
	if m.PriceServed, err = m.meter.Int64Counter(
		"safeswap.price.served",
		metric.WithDescription("Price responses by freshness"),
	); err != nil {
		return err
	}
	if m.PriceUSD, err = m.meter.Float64Gauge(
		"safeswap.price.usd",
		metric.WithDescription("Last fetched GCC price in USD"),
		metric.WithUnit("USD"),
	); err != nil {
		return err
	}
	if m.UpstreamStatus, err = m.meter.Int64Counter(
		"safeswap.upstream.responses",
		metric.WithDescription("Upstream HTTP responses by status code"),
	); err != nil {
		return err
	}

	if m.RPCEndpointHealth, err = m.meter.Int64Gauge(
		"safeswap.rpc.endpoint.health",
		metric.WithDescription("RPC endpoint health (1 = healthy, 0 = unhealthy)"),
	); err != nil {
		return err
	}

	if m.CacheHits, err = m.meter.Int64Counter(
		"safeswap.cache.hits",
		metric.WithDescription("Cache hits by layer"),
	); err != nil {
		return err
	}
	if m.CacheMisses, err = m.meter.Int64Counter(
		"safeswap.cache.misses",
		metric.WithDescription("Cache misses by layer"),
	); err != nil {
		return err
	}

	if m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"safeswap.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0 = closed, 1 = open)"),
	); err != nil {
		return err
	}

	if m.Errors, err = m.meter.Int64Counter(
		"safeswap.errors",
		metric.WithDescription("Errors by type"),
	); err != nil {
		return err
	}

	return nil
}

// RecordQuote records one quote request
func (m *Metrics) RecordQuote(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.QuoteRequests.Add(ctx, 1, attrs)
	m.QuoteDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordRouterCall records a single router getAmountsOut call
func (m *Metrics) RecordRouterCall(ctx context.Context, router string, hops int, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("router", router),
		attribute.Int("hops", hops),
		attribute.Bool("success", success),
	)
	m.RouterCalls.Add(ctx, 1, attrs)
	m.RouterDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordPriceFetch records one upstream fetch attempt
func (m *Metrics) RecordPriceFetch(ctx context.Context, source string, success bool) {
	if m == nil {
		return
	}
	m.PriceFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
}

// RecordPriceServed records how a price response was satisfied:
// fresh, stale, cached or unavailable
func (m *Metrics) RecordPriceServed(ctx context.Context, freshness string) {
	if m == nil {
		return
	}
	m.PriceServed.Add(ctx, 1, metric.WithAttributes(attribute.String("freshness", freshness)))
}

// RecordPrice records the latest fetched price
func (m *Metrics) RecordPrice(ctx context.Context, token string, usd float64) {
	if m == nil {
		return
	}
	m.PriceUSD.Record(ctx, usd, metric.WithAttributes(attribute.String("token", token)))
}

// RecordUpstreamStatus records an upstream HTTP status code
func (m *Metrics) RecordUpstreamStatus(ctx context.Context, host string, status int) {
	if m == nil {
		return
	}
	m.UpstreamStatus.Add(ctx, 1, metric.WithAttributes(
		attribute.String("host", host),
		attribute.Int("status", status),
	))
}

// RecordRPCEndpointHealth records RPC endpoint health status
func (m *Metrics) RecordRPCEndpointHealth(ctx context.Context, url string, healthy bool) {
	if m == nil {
		return
	}
	val := int64(0)
	if healthy {
		val = 1
	}
	m.RPCEndpointHealth.Record(ctx, val, metric.WithAttributes(attribute.String("url", url)))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// SetCircuitBreakerState sets circuit breaker state, 0 = closed, 1 = open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler serves the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the meter provider
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
