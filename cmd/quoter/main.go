package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/agatticelli/safeswap-quoter/internal/blockchain"
	"github.com/agatticelli/safeswap-quoter/internal/httpapi"
	"github.com/agatticelli/safeswap-quoter/internal/notification"
	"github.com/agatticelli/safeswap-quoter/internal/platform/aws"
	"github.com/agatticelli/safeswap-quoter/internal/platform/cache"
	"github.com/agatticelli/safeswap-quoter/internal/platform/config"
	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
	"github.com/agatticelli/safeswap-quoter/internal/platform/resilience"
	"github.com/agatticelli/safeswap-quoter/internal/platform/worker"
	"github.com/agatticelli/safeswap-quoter/internal/pricefeed"
	"github.com/agatticelli/safeswap-quoter/internal/quote"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config/config.yaml or ./config.yaml)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg := config.MustLoad(*configPath)
	registry := cfg.Registry()

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	obs := cfg.Observability
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:   obs.Logging.Level,
		Format:  obs.Logging.Format,
		Service: obs.ServiceName,
	})

	metrics, err := observability.NewMetrics(obs.ServiceName, obs.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}
	defer metrics.Shutdown(context.Background())

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:     obs.Tracing.Enabled,
		ServiceName: obs.ServiceName,
		Version:     version,
		Environment: obs.Environment,
		Endpoint:    obs.Tracing.Endpoint,
		SampleRatio: obs.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tp.Shutdown(context.Background())
	tracer := observability.NewTracer(obs.ServiceName)

	logger.Info("observability setup complete", "version", version)

	// AWS is needed for the DynamoDB store and for circuit notifications
	var awsCfg *awssdk.Config
	loadAWS := func() awssdk.Config {
		if awsCfg == nil {
			c, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
			if err != nil {
				logger.LogError(ctx, "failed to load AWS config", err)
				log.Fatalf("Failed to load AWS config: %v", err)
			}
			awsCfg = &c
		}
		return *awsCfg
	}

	// Durable store for the last good price and token metadata
	logger.Info("setting up caches...", "durable", cfg.Cache.Durable)
	var durable cache.Cache
	switch cfg.Cache.Durable {
	case "redis":
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			// Memory-only caching when Redis is down
			logger.LogError(ctx, "redis unavailable, continuing with memory only", err)
		} else {
			durable = redisCache
			defer redisCache.Close()
		}
	case "dynamodb":
		durable = cache.NewDynamoCache(aws.NewDynamoDBClient(loadAWS()), cfg.Cache.DynamoTable)
	}

	memCache := cache.NewMemoryCache(cfg.Cache.L1MaxSize)
	defer memCache.Close()

	tokenCache := cache.Cache(memCache)
	if durable != nil {
		tokenCache = cache.NewLayeredCacheWithConfig(cache.LayeredCacheConfig{
			L1:       memCache,
			L2:       durable,
			L1MaxTTL: cfg.Cache.L1MaxTTL,
			Logger:   logger.Component("token_cache"),
			Metrics:  metrics,
		})
	}

	// Circuit notifications
	var notifier notification.Notifier = notification.NewNoOpPublisher(logger.Logger)
	if cfg.AWS.SNSTopicARN != "" {
		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: loadAWS(),
			Logger:    logger.Logger,
			Metrics:   metrics,
		})
		publisher, err := notification.NewPublisher(notification.PublisherConfig{
			SNSClient: snsClient,
			TopicARN:  cfg.AWS.SNSTopicARN,
			Logger:    logger.Logger,
			Tracer:    tracer,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create publisher", err)
			log.Fatalf("Failed to create publisher: %v", err)
		}
		notifier = publisher
	}

	// Create BSC client pool
	logger.Info("connecting to BSC...", "chain_id", cfg.Chain.ID)
	endpoints := make([]blockchain.EndpointConfig, len(cfg.Chain.RPCEndpoints))
	for i, ep := range cfg.Chain.RPCEndpoints {
		endpoints[i] = blockchain.EndpointConfig{URL: ep.URL, Weight: ep.Weight}
	}

	clientPool, err := blockchain.NewClientPool(ctx, blockchain.ClientPoolConfig{
		Endpoints:      endpoints,
		Logger:         logger.Logger,
		Metrics:        metrics,
		HealthCheckTTL: cfg.Chain.HealthCheckInterval,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create client pool", err)
		log.Fatalf("Failed to create client pool: %v", err)
	}
	defer clientPool.Close()

	// Quote engine
	logger.Info("creating quote resolver...")
	adapter, err := quote.NewRouterAdapter(quote.RouterAdapterConfig{
		Caller:             clientPool,
		CallTimeout:        cfg.Quote.CallTimeout,
		MaxConcurrentCalls: cfg.Quote.MaxConcurrentCalls,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create router adapter", err)
		log.Fatalf("Failed to create router adapter: %v", err)
	}

	routers := make([]quote.Router, 0, len(cfg.Quote.Routers()))
	for _, r := range cfg.Quote.Routers() {
		routers = append(routers, quote.Router{Name: r.Name, Address: r.Address})
	}
	forced := make([]quote.ForcedHop, 0, len(cfg.Quote.ForcedHopRules()))
	for _, f := range cfg.Quote.ForcedHopRules() {
		forced = append(forced, quote.ForcedHop{A: f.A, B: f.B, Via: f.Via})
	}

	resolver, err := quote.NewResolver(quote.ResolverConfig{
		Routers: routers,
		Paths: quote.NewPathBuilder(cfg.Quote.HopAddresses(), quote.PathOptions{
			WrappedNative: registry.WrappedNative().Address,
			ForcedHops:    forced,
		}),
		Quoter:  adapter,
		Logger:  logger.Logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create resolver", err)
		log.Fatalf("Failed to create resolver: %v", err)
	}

	tokenReader, err := blockchain.NewTokenReader(clientPool, tokenCache, cfg.Cache.TokenTTL, logger.Logger)
	if err != nil {
		logger.LogError(ctx, "failed to create token reader", err)
		log.Fatalf("Failed to create token reader: %v", err)
	}

	// Price feed
	logger.Info("creating price feed...", "sources", cfg.Price.Sources)
	featured, err := registry.Resolve(cfg.Price.FeaturedToken)
	if err != nil {
		log.Fatalf("Invalid featured token: %v", err)
	}

	upstream := pricefeed.NewUpstreamClient(pricefeed.UpstreamClientConfig{
		Timeout:        cfg.Price.Timeout,
		RateLimitRPM:   cfg.Price.RateLimit.RequestsPerMinute,
		RateLimitBurst: cfg.Price.RateLimit.Burst,
		Logger:         logger.Logger,
		Metrics:        metrics,
	})
	sources, err := buildSources(cfg, registry, featured, upstream, resolver, logger.Logger)
	if err != nil {
		logger.LogError(ctx, "failed to build price sources", err)
		log.Fatalf("Failed to build price sources: %v", err)
	}

	// The hook is built first; it reads counters only after the breaker exists
	hook := &notification.HookConfig{
		Breaker:  "pricefeed",
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   logger.Logger,
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             hook.Breaker,
		FailureThreshold: cfg.Price.Circuit.FailureThreshold,
		OpenFor:          cfg.Price.Circuit.OpenFor,
		OnStateChange:    notification.CircuitHook(hook),
	})
	hook.Snapshot = breaker.Snapshot

	priceService, err := pricefeed.NewService(pricefeed.ServiceConfig{
		Token:   featured.Symbol,
		Sources: sources,
		Breaker: breaker,
		Cache: pricefeed.NewPriceCache(pricefeed.PriceCacheConfig{
			Store:   durable,
			Key:     cfg.Cache.PriceKey,
			TTL:     cfg.Cache.PriceTTL,
			Logger:  logger.Logger,
			Metrics: metrics,
		}),
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Price.Retry.MaxAttempts,
			BaseDelay:   cfg.Price.Retry.BaseDelay,
			MaxDelay:    cfg.Price.Retry.MaxDelay,
			Jitter:      cfg.Price.Retry.Jitter,
		},
		Logger:  logger.Logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create price service", err)
		log.Fatalf("Failed to create price service: %v", err)
	}
	snapshots := pricefeed.NewReadThrough(priceService.GetPrice, cfg.Price.ReadThroughTTL, nil)

	var refresher *pricefeed.Refresher
	if cfg.Price.RefreshSchedule != "" {
		refresh := func(ctx context.Context) (*pricefeed.PriceResult, error) {
			snap, err := snapshots.Get(ctx, true)
			if err != nil {
				return nil, err
			}
			return snap.Price, nil
		}
		refresher, err = pricefeed.NewRefresher(refresh, cfg.Price.RefreshSchedule, cfg.Price.Timeout*2, logger.Logger)
		if err != nil {
			logger.LogError(ctx, "failed to create refresher", err)
			log.Fatalf("Failed to create refresher: %v", err)
		}
	}

	// Warm the price cache and registry token metadata before serving
	warmer := cache.NewWarmer(logger.Logger, cache.DefaultWarmupConfig())
	warmer.RegisterProvider(snapshots)
	warmer.RegisterProvider(cache.WarmupFunc{
		ProviderName: "token_metadata",
		Fn: func(ctx context.Context) error {
			var errs []error
			for _, t := range registry.All() {
				if t.Native {
					continue
				}
				if _, err := tokenReader.Metadata(ctx, t.Address); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", t.Symbol, err))
				}
			}
			return errors.Join(errs...)
		},
	})
	if res := warmer.Warmup(ctx); res.HasErrors() {
		logger.Warn("startup warmup incomplete", "errors", res.Errors, "duration_ms", res.TotalTime.Milliseconds())
	}

	if refresher != nil {
		refresher.Start()
	}

	// HTTP server
	pool := worker.NewPool(ctx, cfg.Quote.Workers, cfg.Quote.MaxBatch*4)
	defer pool.Close()

	api := httpapi.NewServer(httpapi.Config{
		Resolver:  resolver,
		Tokens:    registry,
		TokenMeta: tokenReader,
		Prices:    priceService,
		Snapshots: snapshots,
		Pool:      pool,
		Checks: httpapi.Checks{
			RPCEndpoints: clientPool.GetEndpointStatus,
			Circuit:      breaker.State,
			LastPrice:    snapshots.Last,
		},
		Logger:           logger.Logger,
		Metrics:          metrics,
		SlippageBps:      cfg.Quote.SlippageBps,
		ReflectionPadBps: cfg.Quote.ReflectionPadBps,
		MaxBatch:         cfg.Quote.MaxBatch,
		RequestTimeout:   cfg.HTTP.WriteTimeout,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout + 5*time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received, gracefully stopping...", "signal", sig.String())
	case err := <-serverErr:
		logger.LogError(ctx, "HTTP server error", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "HTTP server shutdown failed", err)
	}
	if refresher != nil {
		refresher.Stop(shutdownCtx)
	}
	cancel()
	logger.Info("application stopped")
}

// buildSources creates the configured price sources in order. A source whose
// required setting is empty is skipped with a warning; it is an error only
// when no source remains.
func buildSources(
	cfg *config.Config,
	registry *config.Registry,
	featured config.TokenInfo,
	upstream *pricefeed.UpstreamClient,
	resolver pricefeed.QuoteResolver,
	logger *slog.Logger,
) ([]pricefeed.Source, error) {
	skip := func(name, setting string) {
		logger.Warn("skipping price source", "source", name, "missing", setting)
	}
	var sources []pricefeed.Source
	for _, name := range cfg.Price.Sources {
		switch name {
		case "pricebook":
			if cfg.Price.PricebookURL == "" {
				skip(name, "price.pricebook_url")
				continue
			}
			sources = append(sources, pricefeed.HTTPSource{
				SourceName: name,
				URL:        cfg.Price.PricebookURL,
				Parser:     pricefeed.PricebookParser{Symbol: featured.Symbol},
				Client:     upstream,
			})
		case "dexscreener":
			if cfg.Price.DexScreenerPair == "" {
				skip(name, "price.dexscreener_pair")
				continue
			}
			sources = append(sources, pricefeed.HTTPSource{
				SourceName: name,
				URL:        strings.TrimSuffix(cfg.Price.DexScreenerURL, "/") + "/" + cfg.Price.DexScreenerPair,
				Parser:     pricefeed.DexScreenerParser{},
				Client:     upstream,
			})
		case "coingecko":
			if cfg.Price.CoinGeckoID == "" {
				skip(name, "price.coingecko_id")
				continue
			}
			q := url.Values{}
			q.Set("ids", cfg.Price.CoinGeckoID)
			q.Set("vs_currencies", "usd,bnb")
			sources = append(sources, pricefeed.HTTPSource{
				SourceName: name,
				URL:        cfg.Price.CoinGeckoURL + "?" + q.Encode(),
				Parser:     pricefeed.SymbolParser{ID: cfg.Price.CoinGeckoID},
				Client:     upstream,
			})
		case "onchain":
			stable, ok := registry.Lookup("USDT")
			if !ok {
				return nil, fmt.Errorf("onchain source needs a USDT registry entry")
			}
			native := registry.WrappedNative()
			sources = append(sources, pricefeed.NewOnChainSource(resolver,
				pricefeed.OnChainToken{Symbol: featured.Symbol, Address: featured.Address, Decimals: featured.Decimals},
				pricefeed.OnChainToken{Symbol: stable.Symbol, Address: stable.Address, Decimals: stable.Decimals},
				pricefeed.OnChainToken{Symbol: native.Symbol, Address: native.Address, Decimals: native.Decimals},
			))
		default:
			return nil, fmt.Errorf("unknown price source: %s", name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no usable price source in %v", cfg.Price.Sources)
	}
	return sources, nil
}
