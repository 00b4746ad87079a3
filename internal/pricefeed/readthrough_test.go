package pricefeed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadThrough_ServesWithinTTLDespiteUpstreamFailure(t *testing.T) {
	clk := newFakeClock()
	var calls atomic.Int32
	fetch := func(context.Context) (*PriceResult, error) {
		if calls.Add(1) == 1 {
			return &PriceResult{USD: 0.12, Source: "dexscreener"}, nil
		}
		return nil, errors.New("dexscreener 500")
	}
	rt := NewReadThrough(fetch, 25*time.Second, clk.Now)
	ctx := context.Background()

	first, err := rt.Get(ctx, false)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 25*time.Second, first.TTL)

	clk.Advance(time.Second)
	got, err := rt.Get(ctx, false)
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.False(t, got.Stale)
	assert.Same(t, first.Price, got.Price)
	assert.Equal(t, first.TS, got.TS)
	assert.Equal(t, 24*time.Second, got.TTL)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReadThrough_RepeatedReadsAreIdentical(t *testing.T) {
	clk := newFakeClock()
	ok := true
	src := toggleSource(&ok)
	svc := newTestService(t, clk, src)
	rt := NewReadThrough(svc.GetPrice, 0, clk.Now)
	ctx := context.Background()

	first, err := rt.Get(ctx, false)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		got, err := rt.Get(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, string(first.Price.Data), string(got.Price.Data))
	}
	assert.Equal(t, 1, src.calls())
}

func TestReadThrough_ForceBypassesTTL(t *testing.T) {
	clk := newFakeClock()
	var calls atomic.Int32
	fetch := func(context.Context) (*PriceResult, error) {
		n := calls.Add(1)
		return &PriceResult{USD: float64(n)}, nil
	}
	rt := NewReadThrough(fetch, time.Minute, clk.Now)

	_, err := rt.Get(context.Background(), false)
	require.NoError(t, err)
	got, err := rt.Get(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, got.Cached)
	assert.InDelta(t, 2.0, got.Price.USD, 1e-12)
}

func TestReadThrough_RefreshFailureServesLastGood(t *testing.T) {
	clk := newFakeClock()
	var fail atomic.Bool
	fetch := func(context.Context) (*PriceResult, error) {
		if fail.Load() {
			return nil, errors.New("all price sources failed")
		}
		return &PriceResult{USD: 0.12}, nil
	}
	rt := NewReadThrough(fetch, 25*time.Second, clk.Now)

	first, err := rt.Get(context.Background(), false)
	require.NoError(t, err)

	fail.Store(true)
	clk.Advance(30 * time.Second)
	got, err := rt.Get(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.True(t, got.Stale)
	assert.Zero(t, got.TTL)
	assert.Equal(t, "all price sources failed", got.Note)
	assert.Equal(t, first.TS, got.TS)
}

func TestReadThrough_ColdFailure(t *testing.T) {
	rt := NewReadThrough(func(context.Context) (*PriceResult, error) {
		return nil, &NoPriceAvailableError{Cause: errors.New("down")}
	}, 0, nil)

	_, err := rt.Get(context.Background(), false)
	var noPrice *NoPriceAvailableError
	assert.ErrorAs(t, err, &noPrice)
}

func TestReadThrough_StaleResultPropagates(t *testing.T) {
	clk := newFakeClock()
	rt := NewReadThrough(func(context.Context) (*PriceResult, error) {
		return &PriceResult{USD: 0.1, Stale: true, LastError: LastErrorCircuitOpen}, nil
	}, 0, clk.Now)

	got, err := rt.Get(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.Equal(t, LastErrorCircuitOpen, got.Note)

	got, err = rt.Get(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.True(t, got.Stale)
}

// blockingFetch returns a fetch that signals on started and waits for release.
// It reports the context error it observes after release, so a refresh
// aborted by a departed caller shows up as a failure.
func blockingFetch(calls *atomic.Int32, started chan<- struct{}, release <-chan struct{}) FetchFunc {
	return func(ctx context.Context) (*PriceResult, error) {
		calls.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &PriceResult{USD: 0.12, Source: "pricebook"}, nil
	}
}

func TestReadThrough_CancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	rt := NewReadThrough(blockingFetch(&calls, started, release), time.Minute, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := rt.Get(leaderCtx, false)
		leaderErr <- err
	}()
	<-started

	type result struct {
		snap *Snapshot
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		snap, err := rt.Get(context.Background(), false)
		follower <- result{snap, err}
	}()

	cancelLeader()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting on the refresh")
	}

	close(release)
	select {
	case got := <-follower:
		require.NoError(t, got.err)
		assert.False(t, got.snap.Cached)
		assert.False(t, got.snap.Stale)
		assert.InDelta(t, 0.12, got.snap.Price.USD, 1e-12)
	case <-time.After(2 * time.Second):
		t.Fatal("follower never received the refreshed price")
	}

	last, _ := rt.Last()
	require.NotNil(t, last)
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestReadThrough_RefreshOutlivesOnlyCaller(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	rt := NewReadThrough(blockingFetch(&calls, started, release), time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := rt.Get(ctx, false)
		done <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		last, _ := rt.Last()
		return last != nil
	}, 2*time.Second, 5*time.Millisecond)

	got, err := rt.Get(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReadThrough_ConcurrentCallersShareResult(t *testing.T) {
	const callers = 16
	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	rt := NewReadThrough(blockingFetch(&calls, started, release), time.Minute, nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		snaps []*Snapshot
		errs  []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := rt.Get(context.Background(), false)
			mu.Lock()
			defer mu.Unlock()
			snaps = append(snaps, snap)
			errs = append(errs, err)
		}()
	}
	<-started
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, snaps, callers)
	for _, snap := range snaps {
		assert.InDelta(t, 0.12, snap.Price.USD, 1e-12)
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.LessOrEqual(t, calls.Load(), int32(callers))

	got, err := rt.Get(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, got.Cached)
}

func TestReadThrough_Warmup(t *testing.T) {
	clk := newFakeClock()
	ok := false
	svc := newTestService(t, clk, toggleSource(&ok))
	rt := NewReadThrough(svc.GetPrice, time.Minute, clk.Now)
	assert.Equal(t, "price_snapshot", rt.Name())

	// nothing cached and upstream down
	assert.Error(t, rt.Warmup(context.Background()))

	ok = true
	require.NoError(t, rt.Warmup(context.Background()))
	got, err := rt.Get(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.InDelta(t, 0.12, got.Price.USD, 1e-12)

	// a stale answer does not count as warm
	ok = false
	assert.ErrorContains(t, rt.Warmup(context.Background()), "stale")
}
