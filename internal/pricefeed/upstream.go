package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
	"github.com/agatticelli/safeswap-quoter/internal/platform/resilience"
)

const (
	// UserAgent is sent on every upstream price request
	UserAgent = "gcc-safeswap/pricebook"

	// DefaultTimeout bounds a single upstream request
	DefaultTimeout = 4 * time.Second

	maxBodyBytes = 1 << 20
)

// UpstreamError is a failed fetch from one price source
type UpstreamError struct {
	Source string
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream status %d", e.Source, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Source is one place a price can come from
type Source interface {
	Name() string
	Fetch(ctx context.Context) (PricePayload, error)
}

// HTTPSource is an upstream JSON API read through an UpstreamClient
type HTTPSource struct {
	SourceName string
	URL        string
	Parser     Parser
	Client     *UpstreamClient
}

// Name implements Source.
func (s HTTPSource) Name() string { return s.SourceName }

// Fetch implements Source.
func (s HTTPSource) Fetch(ctx context.Context) (PricePayload, error) {
	return s.Client.Fetch(ctx, s)
}

// UpstreamClient performs single, unretried GETs against price APIs. Retries
// belong to the Service so one GetPrice owns the whole retry budget.
type UpstreamClient struct {
	http    *http.Client
	timeout time.Duration
	limiter *resilience.AdaptiveLimiter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// UpstreamClientConfig holds upstream client configuration
type UpstreamClientConfig struct {
	HTTPClient     *http.Client
	Timeout        time.Duration
	RateLimitRPM   int
	RateLimitBurst int
	Logger         *slog.Logger
	Metrics        *observability.Metrics
}

// NewUpstreamClient creates a new upstream client
func NewUpstreamClient(cfg UpstreamClientConfig) *UpstreamClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimitRPM <= 0 {
		cfg.RateLimitRPM = 120
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	return &UpstreamClient{
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		limiter: resilience.NewAdaptiveLimiterFromRPM(cfg.RateLimitRPM, cfg.RateLimitBurst),
		logger:  cfg.Logger.With("component", "price_upstream"),
		metrics: cfg.Metrics,
	}
}

// Fetch GETs src.URL with a hard timeout and parses the body with src.Parser
func (c *UpstreamClient) Fetch(ctx context.Context, src HTTPSource) (PricePayload, error) {
	payload, err := c.fetch(ctx, src)
	c.metrics.RecordPriceFetch(ctx, src.SourceName, err == nil)
	if err != nil {
		c.limiter.RecordError()
		return PricePayload{}, err
	}
	c.limiter.RecordSuccess()
	payload.Source = src.SourceName
	return payload, nil
}

func (c *UpstreamClient) fetch(ctx context.Context, src HTTPSource) (PricePayload, error) {
	if src.Parser == nil {
		return PricePayload{}, &UpstreamError{Source: src.SourceName, Err: errors.New("no parser configured")}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return PricePayload{}, &UpstreamError{Source: src.SourceName, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return PricePayload{}, &UpstreamError{Source: src.SourceName, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return PricePayload{}, &UpstreamError{Source: src.SourceName, Err: err}
	}
	defer resp.Body.Close()

	c.metrics.RecordUpstreamStatus(ctx, hostOf(src.URL), resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.RecordRateLimitError()
		c.logger.WarnContext(ctx, "upstream rate limited", "source", src.SourceName, "rate", c.limiter.CurrentRate())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return PricePayload{}, &UpstreamError{
			Source: src.SourceName,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("status code %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return PricePayload{}, &UpstreamError{Source: src.SourceName, Err: fmt.Errorf("read body: %w", err)}
	}

	payload, err := src.Parser.Parse(body)
	if err != nil {
		return PricePayload{}, &UpstreamError{Source: src.SourceName, Err: err}
	}

	c.logger.DebugContext(ctx, "fetched upstream price",
		"source", src.SourceName,
		"usd", payload.USD,
		"schema_valid", payload.SchemaValid,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return payload, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
