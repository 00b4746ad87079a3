package quote

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"
)

// Uniswap V2 style router, only the read-only quote method
const routerV2ABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "address[]", "name": "path", "type": "address[]"}
		],
		"name": "getAmountsOut",
		"outputs": [
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// DefaultCallTimeout bounds a single getAmountsOut call
const DefaultCallTimeout = 5 * time.Second

// ContractCaller performs read-only contract calls. *blockchain.ClientPool
// and *ethclient.Client both satisfy it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Quoter returns per-hop output amounts for a path on one router
type Quoter interface {
	Quote(ctx context.Context, router common.Address, path Path, sellAmount *big.Int) ([]*big.Int, error)
}

// RouterAdapter quotes through a router's getAmountsOut. It never retries.
type RouterAdapter struct {
	caller      ContractCaller
	abi         abi.ABI
	callTimeout time.Duration
	sem         *semaphore.Weighted
}

// RouterAdapterConfig holds router adapter configuration
type RouterAdapterConfig struct {
	Caller      ContractCaller
	CallTimeout time.Duration
	// MaxConcurrentCalls bounds in-flight eth_calls across all requests;
	// <= 0 means unbounded
	MaxConcurrentCalls int64
}

// NewRouterAdapter creates a new router adapter
func NewRouterAdapter(cfg RouterAdapterConfig) (*RouterAdapter, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	parsed, err := abi.JSON(strings.NewReader(routerV2ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	a := &RouterAdapter{
		caller:      cfg.Caller,
		abi:         parsed,
		callTimeout: cfg.CallTimeout,
	}
	if cfg.MaxConcurrentCalls > 0 {
		a.sem = semaphore.NewWeighted(cfg.MaxConcurrentCalls)
	}
	return a, nil
}

// Quote performs one getAmountsOut call. Any failure is returned as
// *UpstreamCallError.
func (a *RouterAdapter) Quote(ctx context.Context, router common.Address, path Path, sellAmount *big.Int) ([]*big.Int, error) {
	amounts, err := a.quote(ctx, router, path, sellAmount)
	if err != nil {
		return nil, &UpstreamCallError{Router: router, Path: path.Clone(), Cause: err}
	}
	return amounts, nil
}

func (a *RouterAdapter) quote(ctx context.Context, router common.Address, path Path, sellAmount *big.Int) ([]*big.Int, error) {
	data, err := a.abi.Pack("getAmountsOut", sellAmount, []common.Address(path))
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}

	if a.sem != nil {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer a.sem.Release(1)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	out, err := a.caller.CallContract(callCtx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call: %w", err)
	}

	vals, err := a.abi.Unpack("getAmountsOut", out)
	if err != nil {
		return nil, fmt.Errorf("decode getAmountsOut: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("decode getAmountsOut: expected 1 value, got %d", len(vals))
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode getAmountsOut: unexpected type %T", vals[0])
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("%w: got %d amounts for %d tokens", ErrAmountsMismatch, len(amounts), len(path))
	}
	for i, amt := range amounts {
		if amt == nil {
			return nil, fmt.Errorf("decode getAmountsOut: nil amount at %d", i)
		}
	}
	return amounts, nil
}
