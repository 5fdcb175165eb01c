package scraper

import (
	"strings"
	"testing"
	"time"

	"catalog-scraper/internal/domain/catalog"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		href string
		base string
		want string
	}{
		{"absolute passes through", "https://other.test/a?b=1", "https://example.test/en-gb", "https://other.test/a?b=1"},
		{"root relative uses origin", "/books/x", "https://example.test/en-gb/fiction", "https://example.test/books/x"},
		{"relative joins base", "books/x", "https://example.test/en-gb", "https://example.test/en-gb/books/x"},
		{"relative with trailing slash base", "books/x", "https://example.test/en-gb/", "https://example.test/en-gb/books/x"},
		{"protocol relative", "//cdn.example.test/i.jpg", "https://example.test", "https://cdn.example.test/i.jpg"},
		{"fragment only", "#top", "https://example.test", ""},
		{"javascript", "javascript:void(0)", "https://example.test", ""},
		{"empty", "  ", "https://example.test", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeURL(tc.href, tc.base); got != tc.want {
				t.Fatalf("NormalizeURL(%q, %q) = %q, want %q", tc.href, tc.base, got, tc.want)
			}
		})
	}
}

func TestSourceID_StableAndDistinct(t *testing.T) {
	a1 := SourceID("https://site.test/books/a")
	a2 := SourceID("https://site.test/books/a")
	b := SourceID("https://site.test/books/b")
	if a1 != a2 {
		t.Fatalf("expected stable id, got %q and %q", a1, a2)
	}
	if a1 == b {
		t.Fatalf("expected distinct ids for distinct urls")
	}
	if !strings.HasPrefix(a1, "src-") || len(a1) != len("src-")+24 {
		t.Fatalf("unexpected id shape %q", a1)
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		raw   string
		want  string
		known bool
	}{
		{"£9.99", "9.99", true},
		{"Now only £1,299.50 (was £1,500)", "1299.50", true},
		{"12", "12", true},
		{"£.50", "0.50", true},
		{"9.99.1", "9.99", true},
		{"Out of stock", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		p := ParsePrice(tc.raw)
		if p.Known != tc.known || (tc.known && p.Amount != tc.want) {
			t.Fatalf("ParsePrice(%q) = %+v, want %q known=%v", tc.raw, p, tc.want, tc.known)
		}
		if !tc.known && p.String() != catalog.UnknownPrice {
			t.Fatalf("ParsePrice(%q) should read as unknown, got %q", tc.raw, p.String())
		}
	}
}

func TestDetectCurrency(t *testing.T) {
	if got := DetectCurrency("£9.99", "USD"); got != "GBP" {
		t.Fatalf("got %q", got)
	}
	if got := DetectCurrency("€5", "GBP"); got != "EUR" {
		t.Fatalf("got %q", got)
	}
	if got := DetectCurrency("9.99", "GBP"); got != "GBP" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestFingerprint_Sensitivity(t *testing.T) {
	base := Fingerprint("Book A", catalog.KnownPrice("9.99"), "", 0, 0)
	if base != Fingerprint("Book A", catalog.KnownPrice("9.99"), "", 0, 0) {
		t.Fatalf("fingerprint must be deterministic")
	}
	if base == Fingerprint("Book A", catalog.KnownPrice("10.99"), "", 0, 0) {
		t.Fatalf("price change must change fingerprint")
	}
	if base == Fingerprint("Book A", catalog.Price{}, "", 0, 0) {
		t.Fatalf("unknown price must differ from a known one")
	}
	if base == Fingerprint("Book A", catalog.KnownPrice("9.99"), "", 0, 1) {
		t.Fatalf("review count change must change fingerprint")
	}
}

func TestNormalize_DetailAggregatesCurrentReviews(t *testing.T) {
	n := NewNormalizer("GBP")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n.Now = func() time.Time { return fixed }

	raw := RawRecord{
		Kind:   catalog.RecordProduct,
		Detail: true,
		Fields: map[string]string{
			FieldTitle:       "  Book   A ",
			FieldLink:        "/books/a",
			FieldPrice:       "£9.99",
			FieldDescription: "A story.",
		},
		Reviews: []RawReview{
			{Author: "ann", Rating: "4", Text: "good"},
			{Author: "bob", Rating: "5 out of 5", Text: "great"},
			{Author: "cy", Text: "no rating"},
		},
		Specs: map[string]string{"ISBN": "9780000000001"},
	}

	got := n.Normalize(raw, "https://site.test/fiction")
	if got.Record.Title != "Book A" {
		t.Fatalf("expected collapsed title, got %q", got.Record.Title)
	}
	if got.Record.SourceURL != "https://site.test/books/a" {
		t.Fatalf("unexpected url %q", got.Record.SourceURL)
	}
	if got.Record.SourceID != SourceID("https://site.test/books/a") {
		t.Fatalf("source id not derived from normalized url")
	}
	if got.Record.Currency != "GBP" || got.Record.Price.Amount != "9.99" {
		t.Fatalf("unexpected price %+v %q", got.Record.Price, got.Record.Currency)
	}
	if got.Record.ReviewCount != 3 || got.Record.RatingAvg != 4.5 {
		t.Fatalf("expected 3 reviews avg 4.5, got %d %v", got.Record.ReviewCount, got.Record.RatingAvg)
	}
	if got.Detail == nil || got.Detail.Specs["ISBN"] != "9780000000001" {
		t.Fatalf("expected detail specs, got %+v", got.Detail)
	}
	if !got.Record.LastScrapedAt.Equal(fixed) {
		t.Fatalf("unexpected scrape time %v", got.Record.LastScrapedAt)
	}

	again := n.Normalize(raw, "https://site.test/fiction")
	if again.Record.ContentHash != got.Record.ContentHash {
		t.Fatalf("re-normalizing identical input must keep the fingerprint")
	}
}
