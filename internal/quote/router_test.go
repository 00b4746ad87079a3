package quote

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// abiCaller answers getAmountsOut with ABI-encoded amounts
type abiCaller struct {
	t       *testing.T
	abi     abi.ABI
	amounts func(path []common.Address, in *big.Int) []*big.Int
	raw     []byte // returned verbatim when set
	err     error
	block   chan struct{}

	inFlight atomic.Int32
	maxSeen  atomic.Int32
	lastTo   common.Address
	mu       sync.Mutex
}

func newABICaller(t *testing.T) *abiCaller {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(routerV2ABI))
	require.NoError(t, err)
	return &abiCaller{t: t, abi: parsed}
}

func (c *abiCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	c.mu.Lock()
	c.lastTo = *msg.To
	c.mu.Unlock()

	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	if c.raw != nil {
		return c.raw, nil
	}

	method := c.abi.Methods["getAmountsOut"]
	if !bytes.Equal(msg.Data[:4], method.ID) {
		return nil, errors.New("unexpected selector")
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	in := args[0].(*big.Int)
	path := args[1].([]common.Address)
	return method.Outputs.Pack(c.amounts(path, in))
}

func doubling(path []common.Address, in *big.Int) []*big.Int {
	out := make([]*big.Int, len(path))
	cur := new(big.Int).Set(in)
	for i := range path {
		out[i] = new(big.Int).Set(cur)
		cur.Mul(cur, big.NewInt(2))
	}
	return out
}

var pancake = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")

func TestRouterAdapter_DecodesAmounts(t *testing.T) {
	caller := newABICaller(t)
	caller.amounts = doubling

	a, err := NewRouterAdapter(RouterAdapterConfig{Caller: caller})
	require.NoError(t, err)

	amounts, err := a.Quote(context.Background(), pancake, Path{gcc, wbnb, usdt}, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, []*big.Int{big.NewInt(100), big.NewInt(200), big.NewInt(400)}, amounts)
	assert.Equal(t, pancake, caller.lastTo)
}

func TestRouterAdapter_LengthMismatch(t *testing.T) {
	caller := newABICaller(t)
	caller.amounts = func(_ []common.Address, in *big.Int) []*big.Int { return []*big.Int{in} }

	a, err := NewRouterAdapter(RouterAdapterConfig{Caller: caller})
	require.NoError(t, err)

	_, err = a.Quote(context.Background(), pancake, Path{gcc, usdt}, big.NewInt(1))
	var callErr *UpstreamCallError
	require.ErrorAs(t, err, &callErr)
	assert.ErrorIs(t, err, ErrAmountsMismatch)
	assert.Equal(t, pancake, callErr.Router)
	assert.Equal(t, Path{gcc, usdt}, callErr.Path)
}

func TestRouterAdapter_FailuresAreUpstreamCallErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *abiCaller)
	}{
		{name: "revert", setup: func(c *abiCaller) { c.err = errors.New("execution reverted: INSUFFICIENT_LIQUIDITY") }},
		{name: "empty return", setup: func(c *abiCaller) { c.raw = []byte{} }},
		{name: "garbage return", setup: func(c *abiCaller) { c.raw = []byte{0x01, 0x02} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newABICaller(t)
			tt.setup(caller)
			a, err := NewRouterAdapter(RouterAdapterConfig{Caller: caller})
			require.NoError(t, err)

			_, err = a.Quote(context.Background(), pancake, Path{gcc, usdt}, big.NewInt(1))
			var callErr *UpstreamCallError
			assert.ErrorAs(t, err, &callErr)
		})
	}
}

func TestRouterAdapter_CallTimeout(t *testing.T) {
	caller := newABICaller(t)
	caller.block = make(chan struct{})

	a, err := NewRouterAdapter(RouterAdapterConfig{Caller: caller, CallTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = a.Quote(context.Background(), pancake, Path{gcc, usdt}, big.NewInt(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRouterAdapter_BoundsConcurrency(t *testing.T) {
	caller := newABICaller(t)
	caller.amounts = doubling
	caller.block = make(chan struct{})

	a, err := NewRouterAdapter(RouterAdapterConfig{Caller: caller, MaxConcurrentCalls: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Quote(context.Background(), pancake, Path{gcc, usdt}, big.NewInt(1))
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(caller.block)
	wg.Wait()

	assert.LessOrEqual(t, caller.maxSeen.Load(), int32(2))
}

func TestNewRouterAdapter_RequiresCaller(t *testing.T) {
	_, err := NewRouterAdapter(RouterAdapterConfig{})
	assert.Error(t, err)
}
