package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-scraper/internal/domain/scrape"

	"github.com/google/uuid"
)

var (
	ErrNoTask     = errors.New("no task available")
	ErrNilTaskJob = errors.New("task job id is empty")
)

// Task is the unit of work a lane worker receives.
type Task struct {
	JobID      uuid.UUID         `json:"job_id"`
	TargetType scrape.TargetType `json:"target_type"`
	TargetURL  string            `json:"target_url"`
	TargetID   string            `json:"target_id,omitempty"`
	Attempt    int               `json:"attempt"`
	EnqueuedAt time.Time         `json:"enqueued_at"`

	raw string
}

func TaskFor(job scrape.Job, now time.Time) Task {
	return Task{
		JobID:      job.ID,
		TargetType: job.TargetType,
		TargetURL:  job.TargetURL,
		TargetID:   job.TargetID,
		Attempt:    job.RetryCount,
		EnqueuedAt: now.UTC(),
	}
}

func (t Task) validate() error {
	if t.JobID == uuid.Nil {
		return ErrNilTaskJob
	}
	if !t.TargetType.Valid() {
		return fmt.Errorf("%w: %q", scrape.ErrInvalidTarget, t.TargetType)
	}
	return nil
}

func (t Task) encode() (string, error) {
	if t.raw != "" {
		return t.raw, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	return string(b), nil
}

func decodeTask(raw string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	t.raw = raw
	return t, nil
}

// Queue is the durable work queue drained by lanes. Pop returns ErrNoTask when
// timeout passes without work; popped tasks stay in flight until Ack.
type Queue interface {
	Push(ctx context.Context, t Task) error
	PushDelayed(ctx context.Context, t Task, delay time.Duration) error
	Pop(ctx context.Context, lane scrape.TargetType, timeout time.Duration) (Task, error)
	Ack(ctx context.Context, t Task) error
	Depth(ctx context.Context, lane scrape.TargetType) (int64, error)
}
