package ws

import (
	"encoding/json"
	"time"

	"catalog-scraper/internal/domain/scrape"
)

const EventJobStatus = "job_status"

type JobStatusEvent struct {
	Type       string            `json:"type"`
	JobID      string            `json:"job_id"`
	TargetType string            `json:"target_type"`
	TargetURL  string            `json:"target_url"`
	Status     string            `json:"status"`
	RetryCount int               `json:"retry_count"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

func jobStatusEvent(job scrape.Job) JobStatusEvent {
	evt := JobStatusEvent{
		Type:       EventJobStatus,
		JobID:      job.ID.String(),
		TargetType: string(job.TargetType),
		TargetURL:  job.TargetURL,
		Status:     string(job.Status),
		RetryCount: job.RetryCount,
		Timestamp:  job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.Status == scrape.StatusFailed && job.ErrorLog != nil {
		evt.Error = *job.ErrorLog
	}
	if job.Status == scrape.StatusCompleted {
		evt.Metadata = job.Metadata
	}
	return evt
}

func (h *Hub) JobChanged(job scrape.Job) {
	if h == nil {
		return
	}
	b, err := json.Marshal(jobStatusEvent(job))
	if err != nil {
		h.logf("[WS] event encode failed job_id=%s err=%v", job.ID, err)
		return
	}
	h.Broadcast(job.ID.String(), b)
}
