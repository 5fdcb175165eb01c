package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

var ErrPoolClosed = errors.New("worker pool closed")

type Task func(ctx context.Context) error

type Result struct {
	Err error
}

// WorkerPool runs submitted tasks on a fixed number of workers, or on one
// goroutine per task when built with workers <= 0. An optional rate limit is
// shared by all workers.
type WorkerPool struct {
	workers int
	tasks   chan Task
	wg      sync.WaitGroup
	mu      sync.RWMutex
	limiter *rate.Limiter
	closed  bool
}

func NewWorkerPool(workers, buffer int) *WorkerPool {
	if workers < 0 {
		workers = 0
	}
	if buffer < 0 {
		buffer = 0
	}
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan Task, buffer),
	}
}

func (p *WorkerPool) Unbounded() bool {
	return p != nil && p.workers == 0
}

func (p *WorkerPool) SetRateLimit(rps int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if rps <= 0 {
		p.limiter = nil
		return
	}
	p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
}

// Submit blocks until a worker slot accepts t or ctx ends.
func (p *WorkerPool) Submit(ctx context.Context, t Task) error {
	if p == nil || t == nil {
		return nil
	}
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- t:
		return nil
	}
}

func (p *WorkerPool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
}

func (p *WorkerPool) Run(ctx context.Context) <-chan Result {
	buf := p.workers * 1024
	if buf < 1 {
		buf = 1024
	}
	out := make(chan Result, buf)
	if p == nil {
		close(out)
		return out
	}

	exec := func(t Task) bool {
		if !p.waitRate(ctx) {
			return false
		}
		err := runTask(ctx, t)
		select {
		case <-ctx.Done():
			return false
		case out <- Result{Err: err}:
			return true
		}
	}

	if p.workers == 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-p.tasks:
					if !ok {
						return
					}
					if t == nil {
						continue
					}
					p.wg.Add(1)
					go func() {
						defer p.wg.Done()
						exec(t)
					}()
				}
			}
		}()
	} else {
		p.wg.Add(p.workers)
		for i := 0; i < p.workers; i++ {
			go func() {
				defer p.wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case t, ok := <-p.tasks:
						if !ok {
							return
						}
						if t == nil {
							continue
						}
						if !exec(t) {
							return
						}
					}
				}
			}()
		}
	}

	go func() {
		p.wg.Wait()
		close(out)
	}()

	return out
}

func (p *WorkerPool) waitRate(ctx context.Context) bool {
	p.mu.RLock()
	lim := p.limiter
	p.mu.RUnlock()
	if lim == nil {
		return ctx.Err() == nil
	}
	return lim.Wait(ctx) == nil
}

func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return t(ctx)
}
