package scraper

import (
	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"
)

const (
	FieldTitle       = "title"
	FieldLink        = "link"
	FieldAuthor      = "author"
	FieldPrice       = "price"
	FieldImage       = "image"
	FieldDescription = "description"

	reviewAuthor = "author"
	reviewRating = "rating"
	reviewText   = "text"
)

// Strategy is one selector attempt. An empty Selector means the candidate
// element itself; an empty Attr means its text content.
type Strategy struct {
	ID       string
	Selector string
	Attr     string
}

type FieldRule struct {
	Field      string
	Strategies []Strategy
	MaxLen     int
}

// Layout describes one family of records on a page. Containers are tried in
// order and the first selector with any match defines the candidates; with
// no containers the whole document is the single candidate.
type Layout struct {
	Kind       catalog.RecordType
	Containers []Strategy
	Fields     []FieldRule
	Required   []string
	// SelfLink makes the page URL the candidate link.
	SelfLink bool
	Detail   bool
	Limit    int
}

type ReviewLayout struct {
	Containers []Strategy
	Fields     []FieldRule
	Required   []string
	Limit      int
}

type PageLayout struct {
	Layouts []Layout
	Reviews *ReviewLayout
	Specs   []Strategy
}

const (
	maxTitleLen = 500
	maxURLLen   = 500
	maxDescLen  = 10000
	maxTextLen  = 1000
	maxReviews  = 50
)

var (
	titleRule = FieldRule{Field: FieldTitle, MaxLen: maxTitleLen, Strategies: []Strategy{
		{ID: "title-h2", Selector: "h2"},
		{ID: "title-h3", Selector: "h3"},
		{ID: "title-class", Selector: ".title"},
		{ID: "title-fuzzy", Selector: "[class*='title']"},
		{ID: "title-img-alt", Selector: "img", Attr: "alt"},
	}}
	listingLinkRule = FieldRule{Field: FieldLink, MaxLen: maxURLLen, Strategies: []Strategy{
		{ID: "link-anchor", Selector: "a[href]", Attr: "href"},
		{ID: "link-self", Attr: "href"},
	}}
	authorRule = FieldRule{Field: FieldAuthor, MaxLen: maxTitleLen, Strategies: []Strategy{
		{ID: "author-class", Selector: ".author"},
		{ID: "author-fuzzy", Selector: "[class*='author']"},
		{ID: "author-itemprop", Selector: "[itemprop='author']"},
		{ID: "author-writer", Selector: "[class*='writer']"},
	}}
	priceRule = FieldRule{Field: FieldPrice, MaxLen: maxTextLen, Strategies: []Strategy{
		{ID: "price-class", Selector: ".price"},
		{ID: "price-itemprop", Selector: "[itemprop='price']", Attr: "content"},
		{ID: "price-fuzzy", Selector: "[class*='price']"},
	}}
	imageRule = FieldRule{Field: FieldImage, MaxLen: maxURLLen, Strategies: []Strategy{
		{ID: "image-src", Selector: "img", Attr: "src"},
		{ID: "image-lazy", Selector: "img", Attr: "data-src"},
	}}

	detailTitleRule = FieldRule{Field: FieldTitle, MaxLen: maxTitleLen, Strategies: []Strategy{
		{ID: "detail-h1", Selector: "h1"},
		{ID: "detail-itemprop", Selector: "[itemprop='name']"},
		{ID: "detail-og", Selector: "meta[property='og:title']", Attr: "content"},
		{ID: "detail-doc-title", Selector: "title"},
	}}
	detailImageRule = FieldRule{Field: FieldImage, MaxLen: maxURLLen, Strategies: []Strategy{
		{ID: "detail-og-image", Selector: "meta[property='og:image']", Attr: "content"},
		{ID: "detail-main-image", Selector: "[class*='product'] img", Attr: "src"},
		{ID: "detail-any-image", Selector: "img", Attr: "src"},
	}}
	detailDescriptionRule = FieldRule{Field: FieldDescription, MaxLen: maxDescLen, Strategies: []Strategy{
		{ID: "desc-class", Selector: ".description"},
		{ID: "desc-fuzzy", Selector: "[class*='description']"},
		{ID: "desc-itemprop", Selector: "[itemprop='description']"},
		{ID: "desc-meta", Selector: "meta[name='description']", Attr: "content"},
	}}

	productLayout = Layout{
		Kind:     catalog.RecordProduct,
		SelfLink: true,
		Fields:   []FieldRule{detailTitleRule, authorRule, priceRule, detailImageRule, detailDescriptionRule},
		Required: []string{FieldTitle},
		Limit:    1,
	}
)

// pageLayouts is the per-target extraction table the Extractor interprets.
var pageLayouts = map[scrape.TargetType]PageLayout{
	scrape.TargetNavigation: {
		Layouts: []Layout{{
			Kind: catalog.RecordNavigation,
			Containers: []Strategy{
				{ID: "nav-anchor", Selector: "nav a[href]"},
				{ID: "nav-role", Selector: "[role='navigation'] a[href]"},
				{ID: "nav-menu", Selector: "header a[href]"},
				{ID: "nav-category-link", Selector: "a[href*='/category/'], a[href*='/collections/']"},
			},
			Fields: []FieldRule{
				{Field: FieldTitle, MaxLen: maxTitleLen, Strategies: []Strategy{{ID: "nav-text"}, {ID: "nav-aria", Attr: "aria-label"}}},
				{Field: FieldLink, MaxLen: maxURLLen, Strategies: []Strategy{{ID: "nav-href", Attr: "href"}}},
			},
			Required: []string{FieldTitle, FieldLink},
		}},
	},
	scrape.TargetCategory: {
		Layouts: []Layout{
			{
				Kind: catalog.RecordCategory,
				Containers: []Strategy{
					{ID: "subcategory-list", Selector: ".subcategories a[href]"},
					{ID: "subcategory-fuzzy", Selector: "[class*='subcategor'] a[href]"},
				},
				Fields: []FieldRule{
					{Field: FieldTitle, MaxLen: maxTitleLen, Strategies: []Strategy{{ID: "subcategory-text"}}},
					{Field: FieldLink, MaxLen: maxURLLen, Strategies: []Strategy{{ID: "subcategory-href", Attr: "href"}}},
				},
				Required: []string{FieldTitle, FieldLink},
			},
			{
				Kind: catalog.RecordProduct,
				Containers: []Strategy{
					{ID: "card-product-item", Selector: ".product-item"},
					{ID: "card-product-card", Selector: ".product-card"},
					{ID: "card-book", Selector: ".book-item, [class*='book-card']"},
					{ID: "card-grid-item", Selector: "[class*='grid'] li, [class*='grid'] article"},
					{ID: "card-product-link", Selector: "a[href*='/products/'], a[href*='/product/']"},
				},
				Fields:   []FieldRule{titleRule, authorRule, priceRule, imageRule, listingLinkRule},
				Required: []string{FieldTitle, FieldLink},
			},
		},
	},
	scrape.TargetProduct: {
		Layouts: []Layout{productLayout},
	},
	scrape.TargetProductDetail: {
		Layouts: []Layout{withDetail(productLayout)},
		Reviews: &ReviewLayout{
			Containers: []Strategy{
				{ID: "review-item", Selector: ".review-item, .customer-review"},
				{ID: "review-itemprop", Selector: "[itemprop='review']"},
				{ID: "review-fuzzy", Selector: "[class*='review-card'], [class*='reviewItem']"},
			},
			Fields: []FieldRule{
				{Field: reviewAuthor, MaxLen: maxTitleLen, Strategies: []Strategy{
					{ID: "review-author-class", Selector: "[class*='author']"},
					{ID: "review-author-itemprop", Selector: "[itemprop='author']"},
					{ID: "review-reviewer", Selector: "[class*='reviewer']"},
				}},
				{Field: reviewRating, MaxLen: maxTextLen, Strategies: []Strategy{
					{ID: "review-rating-data", Selector: "[data-rating]", Attr: "data-rating"},
					{ID: "review-rating-itemprop", Selector: "[itemprop='ratingValue']", Attr: "content"},
					{ID: "review-rating-text", Selector: "[class*='rating']"},
				}},
				{Field: reviewText, MaxLen: maxTextLen, Strategies: []Strategy{
					{ID: "review-text-class", Selector: "[class*='text'], [class*='body']"},
					{ID: "review-text-itemprop", Selector: "[itemprop='reviewBody']"},
					{ID: "review-paragraph", Selector: "p"},
				}},
			},
			Required: []string{reviewText},
			Limit:    maxReviews,
		},
		Specs: []Strategy{
			{ID: "spec-table", Selector: "[class*='spec'] tr"},
			{ID: "spec-list", Selector: "[class*='spec'] li, [class*='detail'] li"},
			{ID: "spec-dl", Selector: "dl dt"},
		},
	},
}

func withDetail(l Layout) Layout {
	l.Detail = true
	return l
}

// specKeys are the product facts we keep from a detail page.
var specKeys = []string{"ISBN", "Publisher", "Pages", "Format", "Language", "Publication date", "Condition"}
