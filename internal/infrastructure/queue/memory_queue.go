package queue

import (
	"context"
	"sync"
	"time"

	"catalog-scraper/internal/domain/scrape"
)

// MemoryQueue satisfies Queue inside one process. Nothing survives a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	lanes    map[scrape.TargetType][]Task
	inFlight map[scrape.TargetType]int
	notify   map[scrape.TargetType]chan struct{}
	delays   []time.Duration
	scale    float64
	timers   []*time.Timer
}

type MemoryOption func(*MemoryQueue)

// WithDelayScale multiplies every delay before it is waited out. Requested
// delays are still recorded unscaled.
func WithDelayScale(f float64) MemoryOption {
	return func(q *MemoryQueue) {
		if f >= 0 {
			q.scale = f
		}
	}
}

func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		lanes:    map[scrape.TargetType][]Task{},
		inFlight: map[scrape.TargetType]int{},
		notify:   map[scrape.TargetType]chan struct{}{},
		scale:    1,
	}
	for _, t := range scrape.TargetTypes {
		q.notify[t] = make(chan struct{}, 1)
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Push(ctx context.Context, t Task) error {
	if err := t.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	q.lanes[t.TargetType] = append(q.lanes[t.TargetType], t)
	ch := q.notify[t.TargetType]
	q.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) PushDelayed(ctx context.Context, t Task, delay time.Duration) error {
	if err := t.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	q.delays = append(q.delays, delay)
	wait := time.Duration(float64(delay) * q.scale)
	q.mu.Unlock()
	if wait <= 0 {
		return q.Push(ctx, t)
	}
	timer := time.AfterFunc(wait, func() {
		_ = q.Push(context.Background(), t)
	})
	q.mu.Lock()
	q.timers = append(q.timers, timer)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, lane scrape.TargetType, timeout time.Duration) (Task, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		q.mu.Lock()
		if tasks := q.lanes[lane]; len(tasks) > 0 {
			t := tasks[0]
			q.lanes[lane] = tasks[1:]
			q.inFlight[lane]++
			more := len(tasks) > 1
			ch := q.notify[lane]
			q.mu.Unlock()
			if more {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
			return t, nil
		}
		ch := q.notify[lane]
		q.mu.Unlock()
		if ch == nil {
			return Task{}, ErrNoTask
		}

		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-deadline:
			return Task{}, ErrNoTask
		case <-ch:
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight[t.TargetType] > 0 {
		q.inFlight[t.TargetType]--
	}
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context, lane scrape.TargetType) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.lanes[lane])), nil
}

// Delays returns every delay requested through PushDelayed, in order.
func (q *MemoryQueue) Delays() []time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]time.Duration(nil), q.delays...)
}

// Close stops pending delayed pushes.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.timers {
		t.Stop()
	}
	q.timers = nil
}
