package catalog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPrice_UnknownIsNotZero(t *testing.T) {
	var p Price
	if p.String() != UnknownPrice {
		t.Fatalf("zero price must read as unknown, got %q", p.String())
	}
	b, err := json.Marshal(struct {
		Price Price `json:"price"`
	}{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"price":"unknown"}` {
		t.Fatalf("unexpected json %s", b)
	}
}

func TestMergeOnto_KeepsIdentityAndStoredFields(t *testing.T) {
	created := time.Unix(100, 0)
	existing := Record{
		ID:          uuid.New(),
		SourceID:    "src-1",
		Type:        RecordProduct,
		Title:       "Book A",
		Price:       KnownPrice("9.99"),
		Description: "long text",
		CreatedAt:   created,
	}
	incoming := Record{SourceID: "src-1", Type: RecordProduct, Title: "Book A (2nd ed)", ContentHash: "h2"}

	got := incoming.MergeOnto(existing)
	if got.ID != existing.ID || !got.CreatedAt.Equal(created) {
		t.Fatalf("identity must be preserved")
	}
	if got.Title != "Book A (2nd ed)" || got.ContentHash != "h2" {
		t.Fatalf("expected scraped fields applied, got %+v", got)
	}
	if got.Price.String() != "9.99" || got.Description != "long text" {
		t.Fatalf("expected unseen fields kept, got %+v", got)
	}
}

func TestMergeOnto_AggregatedReviewsReplaceStoredEvenWhenZero(t *testing.T) {
	existing := Record{SourceID: "src-1", Type: RecordProduct, RatingAvg: 4.5, ReviewCount: 2}

	listing := Record{SourceID: "src-1", Type: RecordProduct, Title: "Book A"}
	if got := listing.MergeOnto(existing); got.ReviewCount != 2 || got.RatingAvg != 4.5 {
		t.Fatalf("listing without reviews must keep stored aggregate, got %+v", got)
	}

	detail := Record{SourceID: "src-1", Type: RecordProduct, ReviewsAggregated: true}
	got := detail.MergeOnto(existing)
	if got.ReviewCount != 0 || got.RatingAvg != 0 {
		t.Fatalf("detail review set must replace aggregate, got count=%d avg=%v", got.ReviewCount, got.RatingAvg)
	}
	if got.ReviewsAggregated {
		t.Fatalf("merged record must not carry the aggregation flag")
	}
}
