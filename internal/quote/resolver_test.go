package quote

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
)

type call struct {
	router common.Address
	path   string
}

type quoteResponse struct {
	amounts []int64
	err     error
}

// scriptedQuoter answers by router and path and records the call order
type scriptedQuoter struct {
	mu        sync.Mutex
	calls     []call
	responses map[common.Address]map[string]quoteResponse
	onCall    func(n int)
}

func newScriptedQuoter() *scriptedQuoter {
	return &scriptedQuoter{responses: map[common.Address]map[string]quoteResponse{}}
}

func (q *scriptedQuoter) on(router common.Address, path Path, resp quoteResponse) {
	if q.responses[router] == nil {
		q.responses[router] = map[string]quoteResponse{}
	}
	q.responses[router][path.String()] = resp
}

func (q *scriptedQuoter) Quote(ctx context.Context, router common.Address, path Path, sellAmount *big.Int) ([]*big.Int, error) {
	q.mu.Lock()
	q.calls = append(q.calls, call{router: router, path: path.String()})
	n := len(q.calls)
	resp, ok := q.responses[router][path.String()]
	q.mu.Unlock()

	if q.onCall != nil {
		q.onCall(n)
	}
	if err := ctx.Err(); err != nil {
		return nil, &UpstreamCallError{Router: router, Path: path, Cause: err}
	}
	if !ok {
		return nil, &UpstreamCallError{Router: router, Path: path, Cause: errors.New("execution reverted")}
	}
	if resp.err != nil {
		return nil, &UpstreamCallError{Router: router, Path: path, Cause: resp.err}
	}
	out := make([]*big.Int, len(resp.amounts))
	for i, a := range resp.amounts {
		out[i] = big.NewInt(a)
	}
	return out, nil
}

var (
	routerA = Router{Name: "A", Address: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")}
	routerB = Router{Name: "B", Address: common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")}
)

func newTestResolver(t *testing.T, q Quoter, hops []common.Address, routers ...Router) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverConfig{
		Routers: routers,
		Paths:   NewPathBuilder(hops, PathOptions{WrappedNative: wbnb}),
		Quoter:  q,
		Logger:  observability.NopLogger(),
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})
	require.NoError(t, err)
	return r
}

func TestResolve_RouterPriorityOrder(t *testing.T) {
	q := newScriptedQuoter()
	q.on(routerB.Address, Path{gcc, usdt}, quoteResponse{amounts: []int64{10, 30}})

	r := newTestResolver(t, q, []common.Address{wbnb, btcb}, routerA, routerB)

	got, err := r.Resolve(context.Background(), gcc, usdt, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, "B", got.Router)
	assert.Equal(t, routerB.Address, got.RouterAddress)
	assert.Equal(t, Path{gcc, usdt}, got.Path)

	// every A path runs before the first B call
	paths := r.paths.Build(gcc, usdt)
	require.Len(t, q.calls, len(paths)+1)
	for i := range paths {
		assert.Equal(t, routerA.Address, q.calls[i].router)
		assert.Equal(t, paths[i].String(), q.calls[i].path)
	}
	assert.Equal(t, routerB.Address, q.calls[len(paths)].router)
}

func TestResolve_FallsBackToHopPath(t *testing.T) {
	q := newScriptedQuoter()
	q.on(routerA.Address, Path{gcc, usdt}, quoteResponse{err: errors.New("execution reverted: INSUFFICIENT_LIQUIDITY")})
	q.on(routerA.Address, Path{gcc, wbnb, usdt}, quoteResponse{amounts: []int64{100, 50, 200}})

	r := newTestResolver(t, q, []common.Address{wbnb}, routerA)

	got, err := r.Resolve(context.Background(), gcc, usdt, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, "A", got.Router)
	assert.Equal(t, Path{gcc, wbnb, usdt}, got.Path)
	assert.Equal(t, big.NewInt(200), got.BuyAmount)
	assert.Equal(t, big.NewInt(100), got.SellAmount)
	assert.NotEmpty(t, got.ID)
	assert.Len(t, q.calls, 2)
}

func TestResolve_FirstSuccessWins(t *testing.T) {
	q := newScriptedQuoter()
	q.on(routerA.Address, Path{gcc, usdt}, quoteResponse{amounts: []int64{10, 1}})
	q.on(routerB.Address, Path{gcc, usdt}, quoteResponse{amounts: []int64{10, 999}})

	r := newTestResolver(t, q, nil, routerA, routerB)

	got, err := r.Resolve(context.Background(), gcc, usdt, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, "A", got.Router)
	assert.Equal(t, big.NewInt(1), got.BuyAmount)
	assert.Len(t, q.calls, 1)
}

func TestResolve_NoRouteAggregatesAttempts(t *testing.T) {
	q := newScriptedQuoter()
	r := newTestResolver(t, q, []common.Address{wbnb}, routerA, routerB)

	_, err := r.Resolve(context.Background(), gcc, usdt, big.NewInt(10))

	var noRoute *NoRouteError
	require.ErrorAs(t, err, &noRoute)
	assert.Equal(t, gcc, noRoute.Sell)
	assert.Equal(t, usdt, noRoute.Buy)
	require.Len(t, noRoute.Attempts, 4)
	assert.Equal(t, "A", noRoute.Attempts[0].Router)
	assert.Equal(t, Path{gcc, usdt}, noRoute.Attempts[0].Path)
	assert.Equal(t, "B", noRoute.Attempts[3].Router)
	assert.Equal(t, Path{gcc, wbnb, usdt}, noRoute.Attempts[3].Path)

	var callErr *UpstreamCallError
	assert.ErrorAs(t, err, &callErr)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestResolve_ZeroOutputIsFailure(t *testing.T) {
	q := newScriptedQuoter()
	q.on(routerA.Address, Path{gcc, usdt}, quoteResponse{amounts: []int64{10, 0}})

	r := newTestResolver(t, q, nil, routerA)

	_, err := r.Resolve(context.Background(), gcc, usdt, big.NewInt(10))
	var noRoute *NoRouteError
	require.ErrorAs(t, err, &noRoute)
	assert.ErrorIs(t, err, ErrZeroOutput)
}

func TestResolve_AmountsMismatchIsFailure(t *testing.T) {
	q := newScriptedQuoter()
	q.on(routerA.Address, Path{gcc, usdt}, quoteResponse{amounts: []int64{}})
	q.on(routerB.Address, Path{gcc, usdt}, quoteResponse{amounts: []int64{10, 5}})

	r := newTestResolver(t, q, nil, routerA, routerB)

	got, err := r.Resolve(context.Background(), gcc, usdt, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, "B", got.Router)
}

func TestResolve_CancellationReturnsContextError(t *testing.T) {
	q := newScriptedQuoter()
	ctx, cancel := context.WithCancel(context.Background())
	q.onCall = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	r := newTestResolver(t, q, []common.Address{wbnb, btcb}, routerA, routerB)

	_, err := r.Resolve(ctx, gcc, usdt, big.NewInt(10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.As(err, new(*NoRouteError)))
	assert.Len(t, q.calls, 1)
}

func TestResolve_CancelledBeforeStart(t *testing.T) {
	q := newScriptedQuoter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestResolver(t, q, nil, routerA)

	_, err := r.Resolve(ctx, gcc, usdt, big.NewInt(10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, q.calls)
}

func TestResolve_Validation(t *testing.T) {
	tests := []struct {
		name   string
		sell   common.Address
		buy    common.Address
		amount *big.Int
		want   error
	}{
		{name: "nil amount", sell: gcc, buy: usdt, amount: nil, want: ErrInvalidAmount},
		{name: "zero amount", sell: gcc, buy: usdt, amount: big.NewInt(0), want: ErrInvalidAmount},
		{name: "negative amount", sell: gcc, buy: usdt, amount: big.NewInt(-1), want: ErrInvalidAmount},
		{name: "same token", sell: gcc, buy: gcc, amount: big.NewInt(1), want: ErrInvalidPair},
		{name: "native to wrapped", sell: NativeSentinel, buy: wbnb, amount: big.NewInt(1), want: ErrInvalidPair},
		{name: "zero address", sell: common.Address{}, buy: usdt, amount: big.NewInt(1), want: ErrInvalidPair},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newScriptedQuoter()
			r := newTestResolver(t, q, []common.Address{wbnb}, routerA)

			_, err := r.Resolve(context.Background(), tt.sell, tt.buy, tt.amount)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, q.calls)
		})
	}
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := NewResolver(ResolverConfig{Quoter: newScriptedQuoter()})
	assert.Error(t, err)

	_, err = NewResolver(ResolverConfig{Routers: []Router{routerA}})
	assert.Error(t, err)
}
