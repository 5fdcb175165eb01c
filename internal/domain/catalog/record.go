package catalog

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("catalog record not found")

type RecordType string

const (
	RecordNavigation RecordType = "NAVIGATION"
	RecordCategory   RecordType = "CATEGORY"
	RecordProduct    RecordType = "PRODUCT"
)

// Price is either a known decimal amount or explicitly unknown. The zero
// value is unknown, never free.
type Price struct {
	Amount string
	Known  bool
}

const UnknownPrice = "unknown"

func KnownPrice(amount string) Price {
	return Price{Amount: amount, Known: true}
}

func (p Price) String() string {
	if !p.Known {
		return UnknownPrice
	}
	return p.Amount
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" || s == UnknownPrice {
		*p = Price{}
		return nil
	}
	*p = KnownPrice(s)
	return nil
}

type Record struct {
	ID             uuid.UUID  `json:"id"`
	SourceID       string     `json:"source_id"`
	Type           RecordType `json:"type"`
	ParentSourceID string     `json:"parent_source_id,omitempty"`

	Title       string  `json:"title"`
	SourceURL   string  `json:"source_url"`
	Author      string  `json:"author,omitempty"`
	Price       Price   `json:"price"`
	Currency    string  `json:"currency,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	Description string  `json:"description,omitempty"`
	RatingAvg   float64 `json:"rating_avg"`
	ReviewCount int     `json:"review_count"`

	// ReviewsAggregated marks a record whose rating and count were computed
	// from a full review set. Such values replace the stored ones even when
	// zero.
	ReviewsAggregated bool `json:"-"`

	ContentHash   string    `json:"content_hash"`
	LastScrapedAt time.Time `json:"last_scraped_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MergeOnto overlays the non-empty scraped fields of r onto existing. Fields
// a scrape did not see keep their stored value; identity and creation time
// are always preserved.
func (r Record) MergeOnto(existing Record) Record {
	out := existing
	out.Type = r.Type
	out.ContentHash = r.ContentHash
	if !r.LastScrapedAt.IsZero() {
		out.LastScrapedAt = r.LastScrapedAt
	}
	out.Title = pick(r.Title, existing.Title)
	out.SourceURL = pick(r.SourceURL, existing.SourceURL)
	out.ParentSourceID = pick(r.ParentSourceID, existing.ParentSourceID)
	out.Author = pick(r.Author, existing.Author)
	out.Currency = pick(r.Currency, existing.Currency)
	out.ImageURL = pick(r.ImageURL, existing.ImageURL)
	out.Description = pick(r.Description, existing.Description)
	if r.Price.Known {
		out.Price = r.Price
	}
	if r.ReviewsAggregated || r.ReviewCount > 0 || r.RatingAvg > 0 {
		out.RatingAvg = r.RatingAvg
		out.ReviewCount = r.ReviewCount
	}
	out.ReviewsAggregated = false
	return out
}

func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

type Review struct {
	Author   string  `json:"author,omitempty"`
	Rating   float64 `json:"rating"`
	Text     string  `json:"text"`
	Position int     `json:"position"`
}

type ProductDetail struct {
	ProductSourceID string            `json:"product_source_id"`
	FullDescription string            `json:"full_description,omitempty"`
	Specs           map[string]string `json:"specs,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
