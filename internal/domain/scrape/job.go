package scrape

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("scrape job not found")
	ErrInvalidTransition = errors.New("invalid scrape job transition")
	ErrInvalidTarget     = errors.New("invalid scrape target")
)

type TargetType string

const (
	TargetNavigation    TargetType = "NAVIGATION"
	TargetCategory      TargetType = "CATEGORY"
	TargetProduct       TargetType = "PRODUCT"
	TargetProductDetail TargetType = "PRODUCT_DETAIL"
)

// TargetTypes lists every lane in a stable order.
var TargetTypes = []TargetType{TargetNavigation, TargetCategory, TargetProduct, TargetProductDetail}

func ParseTargetType(s string) (TargetType, error) {
	t := TargetType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown target type %q", ErrInvalidTarget, s)
	}
	return t, nil
}

func (t TargetType) Valid() bool {
	switch t {
	case TargetNavigation, TargetCategory, TargetProduct, TargetProductDetail:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Target struct {
	URL      string
	Type     TargetType
	TargetID string
	Metadata map[string]string
}

func (t Target) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown target type %q", ErrInvalidTarget, t.Type)
	}
	raw := strings.TrimSpace(t.URL)
	if raw == "" {
		return fmt.Errorf("%w: empty target url", ErrInvalidTarget)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: target url must be absolute http(s): %q", ErrInvalidTarget, raw)
	}
	return nil
}

type Job struct {
	ID         uuid.UUID         `json:"id"`
	TargetURL  string            `json:"target_url"`
	TargetType TargetType        `json:"target_type"`
	TargetID   string            `json:"target_id,omitempty"`
	Status     Status            `json:"status"`
	RetryCount int               `json:"retry_count"`
	ErrorLog   *string           `json:"error_log"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewJob builds a PENDING job for target. The caller persists it.
func NewJob(target Target, now time.Time) Job {
	now = now.UTC()
	md := make(map[string]string, len(target.Metadata))
	for k, v := range target.Metadata {
		md[k] = v
	}
	return Job{
		ID:         uuid.New(),
		TargetURL:  strings.TrimSpace(target.URL),
		TargetType: target.Type,
		TargetID:   strings.TrimSpace(target.TargetID),
		Status:     StatusPending,
		Metadata:   md,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy so stores can hand out jobs without sharing maps or pointers.
func (j Job) Clone() Job {
	out := j
	if j.Metadata != nil {
		out.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			out.Metadata[k] = v
		}
	}
	if j.ErrorLog != nil {
		v := *j.ErrorLog
		out.ErrorLog = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		out.StartedAt = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		out.FinishedAt = &v
	}
	return out
}

// Handle is what admission returns to callers.
type Handle struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
}

func (j Job) Handle() Handle {
	return Handle{ID: j.ID, Status: j.Status}
}
