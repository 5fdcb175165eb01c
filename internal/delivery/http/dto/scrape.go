package dto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/usecase/crawl"
)

type SubmitScrapeRequest struct {
	TargetType string            `json:"target_type" validate:"required"`
	TargetURL  string            `json:"target_url" validate:"required,url"`
	TargetID   string            `json:"target_id" validate:"omitempty,max=255"`
	Force      bool              `json:"force"`
	Metadata   map[string]string `json:"metadata" validate:"omitempty,max=32,dive,keys,max=64,endkeys,max=1024"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (r SubmitScrapeRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	return fmt.Errorf("%s failed %q validation", jsonName(fe.Field()), fe.Tag())
}

func jsonName(field string) string {
	switch field {
	case "TargetType":
		return "target_type"
	case "TargetURL":
		return "target_url"
	case "TargetID":
		return "target_id"
	case "Metadata":
		return "metadata"
	}
	return field
}

func (r SubmitScrapeRequest) Target() (scrape.Target, error) {
	t, err := scrape.ParseTargetType(r.TargetType)
	if err != nil {
		return scrape.Target{}, err
	}
	md := make(map[string]string, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		md[k] = v
	}
	if r.Force {
		md["force"] = "true"
	}
	return scrape.Target{
		URL:      strings.TrimSpace(r.TargetURL),
		Type:     t,
		TargetID: strings.TrimSpace(r.TargetID),
		Metadata: md,
	}, nil
}

type JobHandleResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func NewJobHandleResponse(h scrape.Handle) JobHandleResponse {
	return JobHandleResponse{ID: h.ID.String(), Status: string(h.Status)}
}

type JobResponse struct {
	ID         string            `json:"id"`
	TargetURL  string            `json:"target_url"`
	TargetType string            `json:"target_type"`
	TargetID   string            `json:"target_id,omitempty"`
	Status     string            `json:"status"`
	RetryCount int               `json:"retry_count"`
	ErrorLog   *string           `json:"error_log"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func NewJobResponse(j scrape.Job) JobResponse {
	return JobResponse{
		ID:         j.ID.String(),
		TargetURL:  j.TargetURL,
		TargetType: string(j.TargetType),
		TargetID:   j.TargetID,
		Status:     string(j.Status),
		RetryCount: j.RetryCount,
		ErrorLog:   j.ErrorLog,
		Metadata:   j.Metadata,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

type QuickScrapeResponse struct {
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Unchanged int              `json:"unchanged"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	CacheHit  bool             `json:"cache_hit"`
	Stale     bool             `json:"stale"`
	Records   []catalog.Record `json:"records"`
}

func NewQuickScrapeResponse(o crawl.Outcome) QuickScrapeResponse {
	recs := o.Records
	if recs == nil {
		recs = []catalog.Record{}
	}
	return QuickScrapeResponse{
		Created:   o.Created,
		Updated:   o.Updated,
		Unchanged: o.Unchanged,
		Failed:    o.Failed,
		Skipped:   o.Skipped,
		CacheHit:  o.CacheHit,
		Stale:     o.Stale,
		Records:   recs,
	}
}
