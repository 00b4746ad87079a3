package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// WarmupProvider pre-populates a cache before the service takes traffic.
// Warmup must be safe to call more than once.
type WarmupProvider interface {
	Name() string
	Warmup(ctx context.Context) error
}

// WarmupFunc adapts a plain function to WarmupProvider
type WarmupFunc struct {
	ProviderName string
	Fn           func(ctx context.Context) error
}

func (f WarmupFunc) Name() string                     { return f.ProviderName }
func (f WarmupFunc) Warmup(ctx context.Context) error { return f.Fn(ctx) }

// WarmupConfig configures the cache warming behavior.
type WarmupConfig struct {
	Timeout         time.Duration
	ContinueOnError bool // sequential mode only
	Parallel        bool
	MaxConcurrency  int // parallel mode; <= 0 means unbounded
}

// DefaultWarmupConfig returns defaults used at startup.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         15 * time.Second,
		ContinueOnError: true,
		Parallel:        true,
		MaxConcurrency:  4,
	}
}

// WarmupResult contains the result of warming a single provider.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults contains the aggregate results of cache warming.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors returns true if any provider failed during warmup.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer runs registered providers once, typically from main before the
// HTTP listener starts. A failing provider never aborts startup.
type Warmer struct {
	mu        sync.Mutex
	providers []WarmupProvider
	logger    *slog.Logger
	config    WarmupConfig
}

// NewWarmer creates a new cache warmer.
func NewWarmer(logger *slog.Logger, config WarmupConfig) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultWarmupConfig().Timeout
	}
	return &Warmer{
		logger: logger.With("component", "cache_warmer"),
		config: config,
	}
}

// RegisterProvider adds a warmup provider to the warmer.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.providers = append(w.providers, provider)
}

// Warmup executes all registered providers and reports per-provider timing.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	w.mu.Lock()
	providers := append([]WarmupProvider(nil), w.providers...)
	w.mu.Unlock()

	start := time.Now()
	results := &WarmupResults{}
	if len(providers) == 0 {
		return results
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		results.Results = w.warmupParallel(warmupCtx, providers)
	} else {
		results.Results = w.warmupSequential(warmupCtx, providers)
	}

	for _, r := range results.Results {
		if r.Err != nil {
			results.Errors++
		}
	}
	results.TotalTime = time.Since(start)

	if results.Errors > 0 {
		w.logger.WarnContext(ctx, "cache warmup completed with errors",
			"failed", results.Errors, "providers", len(providers), "took", results.TotalTime)
	} else {
		w.logger.InfoContext(ctx, "cache warmup completed",
			"providers", len(providers), "took", results.TotalTime)
	}
	return results
}

// warmupParallel keeps provider order in the result slice
func (w *Warmer) warmupParallel(ctx context.Context, providers []WarmupProvider) []WarmupResult {
	results := make([]WarmupResult, len(providers))

	var g errgroup.Group
	if w.config.MaxConcurrency > 0 {
		g.SetLimit(w.config.MaxConcurrency)
	}
	for i, p := range providers {
		g.Go(func() error {
			results[i] = w.warmupProvider(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (w *Warmer) warmupSequential(ctx context.Context, providers []WarmupProvider) []WarmupResult {
	results := make([]WarmupResult, 0, len(providers))
	for _, p := range providers {
		r := w.warmupProvider(ctx, p)
		results = append(results, r)
		if r.Err != nil && !w.config.ContinueOnError {
			break
		}
	}
	return results
}

func (w *Warmer) warmupProvider(ctx context.Context, provider WarmupProvider) WarmupResult {
	start := time.Now()
	name := provider.Name()

	err := provider.Warmup(ctx)
	took := time.Since(start)

	if err != nil {
		w.logger.WarnContext(ctx, "cache warmup failed", "provider", name, "error", err, "took", took)
	} else {
		w.logger.DebugContext(ctx, "cache warmed", "provider", name, "took", took)
	}
	return WarmupResult{Provider: name, Duration: took, Err: err}
}
