package scrape

import (
	"fmt"
	"time"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true},
	StatusFailed:  {StatusPending: true},
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Apply moves j to status to, mutating timing and error fields. On an illegal
// transition j is left untouched and ErrInvalidTransition is returned.
func (j *Job) Apply(to Status, errorDetail string, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.Status, to, j.ID)
	}
	now = now.UTC()

	switch to {
	case StatusRunning:
		if j.StartedAt == nil {
			t := now
			j.StartedAt = &t
		}
	case StatusCompleted:
		t := now
		j.FinishedAt = &t
		j.ErrorLog = nil
	case StatusFailed:
		t := now
		j.FinishedAt = &t
		detail := errorDetail
		if detail == "" {
			detail = "unknown error"
		}
		j.ErrorLog = &detail
	case StatusPending:
		// re-enqueue after failure; errorLog keeps the last failure
		j.RetryCount++
		j.FinishedAt = nil
	case StatusCancelled:
	}

	j.Status = to
	j.UpdatedAt = now
	return nil
}
