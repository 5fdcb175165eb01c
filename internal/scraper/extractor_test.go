package scraper

import (
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"
)

func pageFromHTML(t *testing.T, url, html string) *Page {
	t.Helper()
	p, err := NewPage(url, url, 200, []byte(html))
	if err != nil {
		t.Fatalf("newPage: %v", err)
	}
	return p
}

func quietExtractor() *Extractor {
	return NewExtractor(log.New(io.Discard, "", 0))
}

func records(items []ItemResult) []*RawRecord {
	var out []*RawRecord
	for _, it := range items {
		if it.Record != nil {
			out = append(out, it.Record)
		}
	}
	return out
}

func TestExtract_CategoryListingPerFieldFallback(t *testing.T) {
	html := `<html><body>
	<div class="product-item">
		<h3>Book A</h3>
		<span class="price">£9.99</span>
		<img data-src="/img/a.jpg">
		<a href="/books/a">view</a>
	</div>
	<div class="product-item">
		<span class="card-title">Book B</span>
		<span class="price">Out of stock</span>
		<img src="https://cdn.site.test/b.jpg">
		<a href="/books/b">view</a>
	</div>
	<div class="product-item">
		<span class="price">£1.00</span>
		<a href="/books/untitled">view</a>
	</div>
	<div class="product-item">
		<h3>Book A again</h3>
		<a href="/books/a">dup</a>
	</div>
	</body></html>`

	items, err := quietExtractor().Extract(pageFromHTML(t, "https://site.test/fiction", html), scrape.TargetCategory)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	recs := records(items)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	a, b := recs[0], recs[1]
	if a.Fields[FieldTitle] != "Book A" || a.Matched[FieldTitle] != "title-h3" {
		t.Fatalf("unexpected title for A: %+v", a.Matched)
	}
	if a.Fields[FieldImage] != "/img/a.jpg" || a.Matched[FieldImage] != "image-lazy" {
		t.Fatalf("expected lazy image fallback, got %q via %q", a.Fields[FieldImage], a.Matched[FieldImage])
	}
	if b.Fields[FieldTitle] != "Book B" || b.Matched[FieldTitle] != "title-fuzzy" {
		t.Fatalf("unexpected title for B: %q via %q", b.Fields[FieldTitle], b.Matched[FieldTitle])
	}
	if b.Fields[FieldImage] != "https://cdn.site.test/b.jpg" || b.Matched[FieldImage] != "image-src" {
		t.Fatalf("unexpected image for B: %+v", b.Fields)
	}
	if a.Kind != catalog.RecordProduct {
		t.Fatalf("expected product kind, got %s", a.Kind)
	}
	if _, ok := a.Fields[FieldAuthor]; ok {
		t.Fatalf("missing author must stay empty")
	}
}

func TestExtract_NavigationLinks(t *testing.T) {
	html := `<html><body><nav>
		<a href="/category/fiction">Fiction</a>
		<a href="/category/history"> History </a>
		<a href="#">   </a>
		<a href="javascript:void(0)">Menu</a>
	</nav></body></html>`

	items, err := quietExtractor().Extract(pageFromHTML(t, "https://site.test", html), scrape.TargetNavigation)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	recs := records(items)
	if len(recs) != 2 {
		t.Fatalf("expected 2 nav records, got %d", len(recs))
	}
	if recs[1].Fields[FieldTitle] != "History" || recs[1].Kind != catalog.RecordNavigation {
		t.Fatalf("unexpected nav record %+v", recs[1])
	}
}

func TestExtract_ProductDetailReviewsAndSpecs(t *testing.T) {
	var reviews strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&reviews, `<div class="review-item"><span class="review-author">u%d</span><span data-rating="4"></span><p class="review-text">text %d</p></div>`, i, i)
	}
	html := `<html><head><meta name="description" content="Short blurb"></head><body>
		<h1>Book A</h1>
		<span class="author">Jane Doe</span>
		<span class="price">£9.99</span>
		<ul class="product-specs">
			<li>ISBN: 9780000000001</li>
			<li>Publisher: Acme</li>
			<li>Colour: blue</li>
		</ul>` + reviews.String() + `</body></html>`

	items, err := quietExtractor().Extract(pageFromHTML(t, "https://site.test/books/a", html), scrape.TargetProductDetail)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	recs := records(items)
	if len(recs) != 1 {
		t.Fatalf("expected one product record, got %d", len(recs))
	}
	r := recs[0]
	if !r.Detail || r.Fields[FieldLink] != "https://site.test/books/a" {
		t.Fatalf("expected detail record linked to page, got %+v", r.Fields)
	}
	if r.Fields[FieldDescription] != "Short blurb" || r.Matched[FieldDescription] != "desc-meta" {
		t.Fatalf("expected meta description fallback, got %q", r.Fields[FieldDescription])
	}
	if len(r.Reviews) != maxReviews {
		t.Fatalf("expected reviews capped at %d, got %d", maxReviews, len(r.Reviews))
	}
	if r.Reviews[0].Author != "u0" || r.Reviews[0].Rating != "4" || r.Reviews[0].Text != "text 0" {
		t.Fatalf("unexpected first review %+v", r.Reviews[0])
	}
	if r.Specs["ISBN"] != "9780000000001" || r.Specs["Publisher"] != "Acme" {
		t.Fatalf("unexpected specs %+v", r.Specs)
	}
	if _, ok := r.Specs["Colour"]; ok {
		t.Fatalf("unknown spec keys must be ignored")
	}
}

func TestExtract_TruncatesLongTitles(t *testing.T) {
	long := strings.Repeat("é", maxTitleLen+20)
	html := `<div class="product-item"><h3>` + long + `</h3><a href="/b">x</a></div>`

	items, err := quietExtractor().Extract(pageFromHTML(t, "https://site.test/c", html), scrape.TargetCategory)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	recs := records(items)
	if len(recs) != 1 {
		t.Fatalf("expected record kept, got %d", len(recs))
	}
	if n := len([]rune(recs[0].Fields[FieldTitle])); n != maxTitleLen {
		t.Fatalf("expected title truncated to %d runes, got %d", maxTitleLen, n)
	}
}

func TestExtract_NoDocument(t *testing.T) {
	if _, err := quietExtractor().Extract(&Page{URL: "https://site.test"}, scrape.TargetCategory); err == nil {
		t.Fatalf("expected error without a parsed document")
	}
}
