// Package worker provides a fixed-size worker pool shared by concurrent
// callers, each of which gets its own results back in order.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned for jobs that could not run because the pool
// shut down first.
var ErrPoolClosed = errors.New("worker pool closed")

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID is an optional identifier for the job (useful for logging/debugging)
	ID string
	// Execute is the function to run. It receives the caller's context.
	Execute func(ctx context.Context) (any, error)
}

// Result represents the outcome of a job execution.
type Result struct {
	JobID string
	Value any
	Err   error
}

type task struct {
	ctx   context.Context
	job   Job
	index int
	out   chan<- indexedResult
}

type indexedResult struct {
	index int
	Result
}

// Stats is a snapshot of pool counters
type Stats struct {
	JobsSubmitted int64
	JobsCompleted int64
	JobsFailed    int64
}

// Pool is a worker pool that processes jobs concurrently.
// It maintains a fixed number of worker goroutines that pull jobs from a queue.
type Pool struct {
	workers int
	tasks   chan task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a new worker pool with the specified number of workers.
// The pool starts immediately and workers begin waiting for jobs.
//
// Example:
//
//	pool := worker.NewPool(ctx, 8, 64)
//	defer pool.Close()
//	results := pool.Run(ctx, jobs)
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers: workers,
		tasks:   make(chan task, queueSize),
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.tasks:
			var (
				value any
				err   error
			)
			if err = t.ctx.Err(); err == nil {
				value, err = t.job.Execute(t.ctx)
			}
			if err != nil {
				p.failed.Add(1)
			}
			p.completed.Add(1)
			// out is buffered for the whole batch
			t.out <- indexedResult{index: t.index, Result: Result{JobID: t.job.ID, Value: value, Err: err}}
		}
	}
}

// Run executes jobs on the pool and returns their results in submission
// order. Jobs not started before ctx ends or the pool closes carry that
// error in their Result.
func (p *Pool) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	out := make(chan indexedResult, len(jobs))

	pending := 0
	for i, job := range jobs {
		results[i].JobID = job.ID
		if pending < i {
			results[i].Err = results[pending].Err
			continue
		}
		select {
		case p.tasks <- task{ctx: ctx, job: job, index: i, out: out}:
			p.submitted.Add(1)
			pending++
		case <-ctx.Done():
			results[i].Err = ctx.Err()
		case <-p.ctx.Done():
			results[i].Err = ErrPoolClosed
		}
	}

	done := make([]bool, pending)
	for received := 0; received < pending; received++ {
		select {
		case r := <-out:
			results[r.index] = r.Result
			done[r.index] = true
		case <-p.ctx.Done():
			for i, ok := range done {
				if !ok {
					results[i].Err = ErrPoolClosed
				}
			}
			return results
		}
	}
	return results
}

// Close stops the workers and waits for running jobs to return.
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// QueueLen returns the current number of jobs waiting in the queue.
func (p *Pool) QueueLen() int {
	return len(p.tasks)
}

// Stats returns the pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		JobsSubmitted: p.submitted.Load(),
		JobsCompleted: p.completed.Load(),
		JobsFailed:    p.failed.Load(),
	}
}
