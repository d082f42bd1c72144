package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// DefaultMaxWorkers is the number of tasks processed concurrently when none is configured.
const DefaultMaxWorkers = 2

// Runner drives a single task. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, task *types.ApplicationTask) error
}

// Pool runs tasks on a bounded number of workers. Each worker owns its task and
// its own browser session; tasks are not ordered relative to each other.
type Pool struct {
	runner  Runner
	workers int
}

// NewPool creates a pool with at most workers concurrent tasks.
func NewPool(runner Runner, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	return &Pool{runner: runner, workers: workers}
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int {
	return p.workers
}

// Process runs tasks received on the channel until it is closed or ctx is done.
// Tasks still queued in the channel when ctx is done are not started.
// The returned error joins the errors of every task that could not be persisted.
func (p *Pool) Process(ctx context.Context, tasks <-chan *types.ApplicationTask) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(p.workers)

	collect := func() error {
		_ = g.Wait()
		mu.Lock()
		defer mu.Unlock()
		return errors.Join(errs...)
	}

	for {
		select {
		case <-ctx.Done():
			return errors.Join(collect(), ctx.Err())
		case task, ok := <-tasks:
			if !ok {
				return collect()
			}
			g.Go(func() error {
				if err := p.runner.Run(ctx, task); err != nil {
					log.Printf("[POOL] application %s: %v", task.ID, err)
					mu.Lock()
					errs = append(errs, fmt.Errorf("application %s: %w", task.ID, err))
					mu.Unlock()
				}
				return nil
			})
		}
	}
}

// RunAll processes a fixed batch of tasks.
func (p *Pool) RunAll(ctx context.Context, tasks []*types.ApplicationTask) error {
	ch := make(chan *types.ApplicationTask, len(tasks))
	for _, t := range tasks {
		ch <- t
	}
	close(ch)
	return p.Process(ctx, ch)
}
