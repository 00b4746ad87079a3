package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(context.Background(), 0, -5)
	defer pool.Close()

	if pool.Workers() != 1 {
		t.Errorf("Expected 1 worker (default), got %d", pool.Workers())
	}
	if pool.QueueLen() != 0 {
		t.Errorf("Expected empty queue, got %d", pool.QueueLen())
	}
}

func TestPool_Run_PreservesOrder(t *testing.T) {
	pool := NewPool(context.Background(), 4, 10)
	defer pool.Close()

	jobs := make([]Job, 10)
	for i := range jobs {
		i := i
		jobs[i] = Job{
			ID: string(rune('a' + i)),
			Execute: func(ctx context.Context) (any, error) {
				// later jobs finish first
				time.Sleep(time.Duration(10-i) * time.Millisecond)
				return i, nil
			},
		}
	}

	results := pool.Run(context.Background(), jobs)
	if len(results) != len(jobs) {
		t.Fatalf("Expected %d results, got %d", len(jobs), len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("job %d: unexpected error %v", i, r.Err)
		}
		if r.Value != i {
			t.Errorf("job %d: expected value %d, got %v", i, i, r.Value)
		}
		if r.JobID != jobs[i].ID {
			t.Errorf("job %d: expected id %s, got %s", i, jobs[i].ID, r.JobID)
		}
	}
}

func TestPool_Run_CarriesErrors(t *testing.T) {
	pool := NewPool(context.Background(), 2, 4)
	defer pool.Close()

	expectedErr := errors.New("job failed")
	results := pool.Run(context.Background(), []Job{
		{ID: "ok", Execute: func(ctx context.Context) (any, error) { return "fine", nil }},
		{ID: "failing", Execute: func(ctx context.Context) (any, error) { return nil, expectedErr }},
	})

	if results[0].Err != nil || results[0].Value != "fine" {
		t.Errorf("Unexpected first result: %+v", results[0])
	}
	if !errors.Is(results[1].Err, expectedErr) {
		t.Errorf("Expected %v, got %v", expectedErr, results[1].Err)
	}

	stats := pool.Stats()
	if stats.JobsSubmitted != 2 || stats.JobsCompleted != 2 || stats.JobsFailed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestPool_Run_BoundsConcurrency(t *testing.T) {
	pool := NewPool(context.Background(), 3, 0)
	defer pool.Close()

	var inFlight, maxSeen atomic.Int32
	jobs := make([]Job, 12)
	for i := range jobs {
		jobs[i] = Job{Execute: func(ctx context.Context) (any, error) {
			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		}}
	}

	pool.Run(context.Background(), jobs)
	if maxSeen.Load() > 3 {
		t.Errorf("Expected at most 3 concurrent jobs, saw %d", maxSeen.Load())
	}
}

func TestPool_Run_ContextCancelled(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := pool.Run(ctx, []Job{
		{ID: "a", Execute: func(ctx context.Context) (any, error) { return 1, nil }},
		{ID: "b", Execute: func(ctx context.Context) (any, error) { return 2, nil }},
	})
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("job %s: expected context.Canceled, got %v", r.JobID, r.Err)
		}
	}
}

func TestPool_ConcurrentRuns(t *testing.T) {
	pool := NewPool(context.Background(), 4, 8)
	defer pool.Close()

	var wg sync.WaitGroup
	for caller := 0; caller < 8; caller++ {
		caller := caller
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs := make([]Job, 5)
			for i := range jobs {
				v := caller*100 + i
				jobs[i] = Job{Execute: func(ctx context.Context) (any, error) { return v, nil }}
			}
			for i, r := range pool.Run(context.Background(), jobs) {
				if r.Value != caller*100+i {
					t.Errorf("caller %d job %d: got %v", caller, i, r.Value)
				}
			}
		}()
	}
	wg.Wait()
}

func TestPool_Close(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)
	pool.Close()

	results := pool.Run(context.Background(), []Job{
		{ID: "late", Execute: func(ctx context.Context) (any, error) { return nil, nil }},
	})
	if !errors.Is(results[0].Err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", results[0].Err)
	}
}
