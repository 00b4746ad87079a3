package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultReadThroughTTL is how long a fetched price is served without
	// touching upstream
	DefaultReadThroughTTL = 25 * time.Second
	// DefaultRefreshTimeout bounds one shared refresh. It is independent of
	// any caller's context.
	DefaultRefreshTimeout = 30 * time.Second
)

// FetchFunc produces a fresh price
type FetchFunc func(ctx context.Context) (*PriceResult, error)

// Snapshot is a read-through answer. TTL is the time left before the next
// call refreshes; it is zero when a failed refresh fell back to Price.
type Snapshot struct {
	Price  *PriceResult
	TS     time.Time
	Cached bool
	Stale  bool
	TTL    time.Duration
	Note   string
}

// ReadThrough is a short TTL cache in front of a FetchFunc for
// high-frequency endpoints
type ReadThrough struct {
	fetch   FetchFunc
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu   sync.RWMutex
	last *PriceResult
	ts   time.Time
}

// NewReadThrough creates a read-through cache. Zero ttl uses the default.
func NewReadThrough(fetch FetchFunc, ttl time.Duration, now func() time.Time) *ReadThrough {
	if ttl <= 0 {
		ttl = DefaultReadThroughTTL
	}
	if now == nil {
		now = time.Now
	}
	return &ReadThrough{fetch: fetch, ttl: ttl, timeout: DefaultRefreshTimeout, now: now}
}

// Get serves the cached price within the TTL unless force is set. A failed
// refresh falls back to the last value, marked stale.
func (r *ReadThrough) Get(ctx context.Context, force bool) (*Snapshot, error) {
	r.mu.RLock()
	last, ts := r.last, r.ts
	r.mu.RUnlock()

	if !force && last != nil {
		if age := r.now().Sub(ts); age < r.ttl {
			return &Snapshot{
				Price:  last,
				TS:     ts,
				Cached: true,
				Stale:  last.Stale,
				TTL:    r.ttl - age,
				Note:   last.LastError,
			}, nil
		}
	}

	// Callers joining a refresh share its outcome, so it runs detached from
	// whichever caller started it. Each caller still stops waiting when its
	// own context ends.
	ch := r.group.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.refresh(fetchCtx)
	})

	var (
		v   any
		err error
	)
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err == nil {
		return v.(*Snapshot), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if last == nil {
		return nil, err
	}
	return &Snapshot{
		Price:  last,
		TS:     ts,
		Cached: true,
		Stale:  true,
		Note:   err.Error(),
	}, nil
}

func (r *ReadThrough) refresh(ctx context.Context) (*Snapshot, error) {
	res, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}
	ts := r.now()
	r.mu.Lock()
	r.last, r.ts = res, ts
	r.mu.Unlock()
	return &Snapshot{
		Price: res,
		TS:    ts,
		Stale: res.Stale,
		TTL:   r.ttl,
		Note:  res.LastError,
	}, nil
}

// Name implements cache.WarmupProvider
func (r *ReadThrough) Name() string { return "price_snapshot" }

// Warmup forces one refresh so the first request is served from memory. A
// refresh that fell back to a cached price counts as a failure; a fresh but
// schema-stale payload does not.
func (r *ReadThrough) Warmup(ctx context.Context) error {
	snap, err := r.Get(ctx, true)
	if err != nil {
		return err
	}
	if snap.Note != "" {
		return fmt.Errorf("warmup served stale price: %s", snap.Note)
	}
	return nil
}

// Last returns the most recent price and when it was fetched
func (r *ReadThrough) Last() (*PriceResult, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.ts
}
