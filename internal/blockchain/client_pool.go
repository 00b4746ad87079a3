package blockchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
)

// ErrNoHealthyEndpoint is returned when every endpoint is marked unhealthy
var ErrNoHealthyEndpoint = errors.New("no healthy RPC endpoints available")

// RPCClient is the part of ethclient.Client the pool needs
type RPCClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a client for an endpoint URL
type Dialer func(ctx context.Context, url string) (RPCClient, error)

// DialEthClient is the production Dialer
func DialEthClient(ctx context.Context, url string) (RPCClient, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RPCEndpoint represents a single JSON-RPC endpoint
type RPCEndpoint struct {
	URL     string
	Weight  int
	Client  RPCClient
	healthy atomic.Bool
	mu      sync.RWMutex // guards Client
}

func (e *RPCEndpoint) client() RPCClient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Client
}

// ClientPool spreads read-only calls across several RPC endpoints and takes
// endpoints out of rotation when they fail at the transport level
type ClientPool struct {
	endpoints      []*RPCEndpoint
	current        int
	mu             sync.Mutex
	dial           Dialer
	logger         *slog.Logger
	metrics        *observability.Metrics
	healthCheckTTL time.Duration
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// ClientPoolConfig holds client pool configuration
type ClientPoolConfig struct {
	Endpoints      []EndpointConfig
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	HealthCheckTTL time.Duration
	Dialer         Dialer
}

// EndpointConfig represents endpoint configuration
type EndpointConfig struct {
	URL    string
	Weight int
}

// NewClientPool dials every endpoint and starts background health checks.
// Endpoints that fail to dial stay in the pool as unhealthy and are retried
// by the health checker.
func NewClientPool(ctx context.Context, cfg ClientPoolConfig) (*ClientPool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if cfg.HealthCheckTTL <= 0 {
		cfg.HealthCheckTTL = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DialEthClient
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	pool := &ClientPool{
		dial:           cfg.Dialer,
		logger:         cfg.Logger.With("component", "client_pool"),
		metrics:        cfg.Metrics,
		healthCheckTTL: cfg.HealthCheckTTL,
	}

	for _, epCfg := range cfg.Endpoints {
		ep := &RPCEndpoint{URL: epCfg.URL, Weight: epCfg.Weight}

		client, err := cfg.Dialer(ctx, epCfg.URL)
		if err != nil {
			pool.logger.WarnContext(ctx, "failed to connect to RPC endpoint", "url", epCfg.URL, "error", err)
		} else {
			ep.Client = client
			ep.healthy.Store(true)
			pool.logger.InfoContext(ctx, "connected to RPC endpoint", "url", epCfg.URL, "weight", epCfg.Weight)
		}
		pool.metrics.RecordRPCEndpointHealth(ctx, ep.URL, ep.healthy.Load())
		pool.endpoints = append(pool.endpoints, ep)
	}

	if pool.GetHealthyEndpointCount() == 0 {
		pool.closeClients()
		return nil, ErrNoHealthyEndpoint
	}

	hcCtx, cancel := context.WithCancel(context.Background())
	pool.cancel = cancel
	pool.wg.Add(1)
	go func() {
		defer pool.wg.Done()
		pool.startHealthChecks(hcCtx)
	}()

	return pool, nil
}

// next returns the next healthy endpoint in round-robin order
func (cp *ClientPool) next() (*RPCEndpoint, RPCClient, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	for attempts := 0; attempts < len(cp.endpoints); attempts++ {
		ep := cp.endpoints[cp.current]
		cp.current = (cp.current + 1) % len(cp.endpoints)

		if !ep.healthy.Load() {
			continue
		}
		if c := ep.client(); c != nil {
			return ep, c, nil
		}
	}
	return nil, nil, ErrNoHealthyEndpoint
}

// GetClient returns the next healthy client using round-robin selection
func (cp *ClientPool) GetClient() (RPCClient, error) {
	_, c, err := cp.next()
	return c, err
}

// CallContract executes an eth_call on one healthy endpoint. There is no
// failover inside a call; a transport failure marks the endpoint unhealthy
// so the following call lands elsewhere.
func (cp *ClientPool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ep, client, err := cp.next()
	if err != nil {
		return nil, err
	}

	out, err := client.CallContract(ctx, msg, blockNumber)
	if err != nil && isEndpointFault(ctx, err) {
		cp.MarkUnhealthy(ep.URL)
	}
	return out, err
}

// BlockNumber returns the latest block number from a healthy endpoint
func (cp *ClientPool) BlockNumber(ctx context.Context) (uint64, error) {
	ep, client, err := cp.next()
	if err != nil {
		return 0, err
	}
	n, err := client.BlockNumber(ctx)
	if err != nil && isEndpointFault(ctx, err) {
		cp.MarkUnhealthy(ep.URL)
	}
	return n, err
}

// isEndpointFault separates transport problems from contract reverts and
// caller-side cancellation, which say nothing about endpoint health
func isEndpointFault(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "revert") || strings.Contains(msg, "invalid opcode") || strings.Contains(msg, "out of gas") {
		return false
	}
	return true
}

// MarkUnhealthy marks an endpoint as unhealthy
func (cp *ClientPool) MarkUnhealthy(url string) {
	for _, ep := range cp.endpoints {
		if ep.URL != url {
			continue
		}
		if ep.healthy.Swap(false) {
			cp.logger.Warn("marking RPC endpoint as unhealthy", "url", url)
			cp.metrics.RecordRPCEndpointHealth(context.Background(), url, false)
		}
		return
	}
}

func (cp *ClientPool) startHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(cp.healthCheckTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp.checkAllEndpoints(ctx)
		}
	}
}

func (cp *ClientPool) checkAllEndpoints(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, cp.healthCheckTTL)
	defer cancel()

	var wg sync.WaitGroup
	for _, ep := range cp.endpoints {
		wg.Add(1)
		go func(ep *RPCEndpoint) {
			defer wg.Done()
			cp.checkEndpoint(checkCtx, ep)
		}(ep)
	}
	wg.Wait()
}

// checkEndpoint redials missing clients and probes with eth_blockNumber
func (cp *ClientPool) checkEndpoint(ctx context.Context, ep *RPCEndpoint) {
	client := ep.client()
	if client == nil {
		c, err := cp.dial(ctx, ep.URL)
		if err != nil {
			ep.healthy.Store(false)
			cp.metrics.RecordRPCEndpointHealth(ctx, ep.URL, false)
			return
		}
		ep.mu.Lock()
		ep.Client = c
		ep.mu.Unlock()
		client = c
		cp.logger.InfoContext(ctx, "reconnected to RPC endpoint", "url", ep.URL)
	}

	if _, err := client.BlockNumber(ctx); err != nil {
		if ctx.Err() != nil {
			// shutting down or probe timed out as a whole; keep current state
			return
		}
		if ep.healthy.Swap(false) {
			cp.logger.WarnContext(ctx, "RPC endpoint health check failed", "url", ep.URL, "error", err)
		}
		cp.metrics.RecordRPCEndpointHealth(ctx, ep.URL, false)

		ep.mu.Lock()
		if ep.Client != nil {
			ep.Client.Close()
			ep.Client = nil
		}
		ep.mu.Unlock()
		return
	}

	if !ep.healthy.Swap(true) {
		cp.logger.InfoContext(ctx, "RPC endpoint is now healthy", "url", ep.URL)
	}
	cp.metrics.RecordRPCEndpointHealth(ctx, ep.URL, true)
}

// GetHealthyEndpointCount returns the number of healthy endpoints
func (cp *ClientPool) GetHealthyEndpointCount() int {
	count := 0
	for _, ep := range cp.endpoints {
		if ep.healthy.Load() {
			count++
		}
	}
	return count
}

// GetEndpointStatus returns status of all endpoints
func (cp *ClientPool) GetEndpointStatus() map[string]bool {
	status := make(map[string]bool, len(cp.endpoints))
	for _, ep := range cp.endpoints {
		status[ep.URL] = ep.healthy.Load()
	}
	return status
}

// Close stops health checks and closes all client connections
func (cp *ClientPool) Close() {
	if cp.cancel != nil {
		cp.cancel()
	}
	cp.wg.Wait()
	cp.closeClients()
	if cp.logger != nil {
		cp.logger.Info("closed all RPC client connections")
	}
}

func (cp *ClientPool) closeClients() {
	for _, ep := range cp.endpoints {
		ep.mu.Lock()
		if ep.Client != nil {
			ep.Client.Close()
			ep.Client = nil
		}
		ep.mu.Unlock()
	}
}
