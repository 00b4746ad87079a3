// Package httpapi exposes quotes, prices and token metadata over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agatticelli/safeswap-quoter/internal/blockchain"
	"github.com/agatticelli/safeswap-quoter/internal/platform/config"
	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
	"github.com/agatticelli/safeswap-quoter/internal/platform/resilience"
	"github.com/agatticelli/safeswap-quoter/internal/platform/worker"
	"github.com/agatticelli/safeswap-quoter/internal/pricefeed"
	"github.com/agatticelli/safeswap-quoter/internal/quote"
)

// QuoteResolver resolves a single quote
type QuoteResolver interface {
	Resolve(ctx context.Context, sell, buy common.Address, sellAmount *big.Int) (*quote.Quote, error)
}

// TokenMetadataReader reads decimals and symbol for unlisted tokens
type TokenMetadataReader interface {
	Metadata(ctx context.Context, addr common.Address) (blockchain.TokenMetadata, error)
}

// PriceService is the full price feed
type PriceService interface {
	GetPrice(ctx context.Context) (*pricefeed.PriceResult, error)
}

// PriceSnapshotter is the short TTL read-through over the price feed
type PriceSnapshotter interface {
	Get(ctx context.Context, force bool) (*pricefeed.Snapshot, error)
}

// Checks report dependency state for /ready. Nil funcs are skipped.
type Checks struct {
	RPCEndpoints func() map[string]bool
	Circuit      func() resilience.State
	LastPrice    func() (*pricefeed.PriceResult, time.Time)
}

// Config holds server dependencies
type Config struct {
	Resolver         QuoteResolver
	Tokens           *config.Registry
	TokenMeta        TokenMetadataReader
	Prices           PriceService
	Snapshots        PriceSnapshotter
	Pool             *worker.Pool
	Checks           Checks
	Logger           *slog.Logger
	Metrics          *observability.Metrics
	SlippageBps      int64
	ReflectionPadBps int64
	MaxBatch         int
	RequestTimeout   time.Duration
}

// Server serves the HTTP API
type Server struct {
	resolver  QuoteResolver
	tokens    *config.Registry
	tokenMeta TokenMetadataReader
	prices    PriceService
	snapshots PriceSnapshotter
	pool      *worker.Pool
	checks    Checks
	logger    *slog.Logger
	metrics   *observability.Metrics

	slippageBps      int64
	reflectionPadBps int64
	maxBatch         int
	requestTimeout   time.Duration
}

// NewServer creates a new server
func NewServer(cfg Config) *Server {
	if cfg.Tokens == nil {
		cfg.Tokens = config.DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = quote.DefaultSlippageBps
	}
	if cfg.ReflectionPadBps < 0 {
		cfg.ReflectionPadBps = 0
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 16
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	return &Server{
		resolver:         cfg.Resolver,
		tokens:           cfg.Tokens,
		tokenMeta:        cfg.TokenMeta,
		prices:           cfg.Prices,
		snapshots:        cfg.Snapshots,
		pool:             cfg.Pool,
		checks:           cfg.Checks,
		logger:           cfg.Logger.With("component", "http"),
		metrics:          cfg.Metrics,
		slippageBps:      cfg.SlippageBps,
		reflectionPadBps: cfg.ReflectionPadBps,
		maxBatch:         cfg.MaxBatch,
		requestTimeout:   cfg.RequestTimeout,
	}
}

// Handler builds the routed, instrumented handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(s.requestTimeout))
		api.Use(s.accessLog)

		api.Get("/quote", s.handleQuoteGet)
		api.Post("/quote", s.handleQuotePost)
		api.Post("/quotes", s.handleQuoteBatch)
		api.Get("/price/gcc", s.handlePriceSnapshot)
		api.Get("/pricebook", s.handlePricebook)
		api.Get("/token/{address}", s.handleToken)
	})

	return otelhttp.NewHandler(r, "safeswap-quoter",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
