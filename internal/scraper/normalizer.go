package scraper

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"catalog-scraper/internal/domain/catalog"

	"golang.org/x/crypto/blake2b"
)

var (
	thousandsSep = regexp.MustCompile(`(\d),(\d{3})`)
	priceToken   = regexp.MustCompile(`\d+(?:\.\d+)?|\.\d+`)
)

// NormalizeURL resolves href against base. Absolute http(s) URLs pass
// through untouched; links that cannot be fetched resolve to "".
func NormalizeURL(href, base string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	for _, p := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return ""
		}
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return href
	}

	base = strings.TrimSpace(base)
	if strings.HasPrefix(href, "//") {
		scheme := "https"
		if u, err := url.Parse(base); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		return scheme + ":" + href
	}
	if strings.HasPrefix(href, "/") {
		return origin(base) + href
	}
	return strings.TrimRight(base, "/") + "/" + href
}

func origin(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(base, "/")
	}
	return u.Scheme + "://" + u.Host
}

// SourceID derives the stable catalog identity of a canonical URL.
func SourceID(canonicalURL string) string {
	sum := sha1.Sum([]byte(canonicalURL))
	return "src-" + hex.EncodeToString(sum[:])[:24]
}

// ParsePrice returns the first numeric token of raw with thousands separators
// removed, or an unknown price when raw has none.
func ParsePrice(raw string) catalog.Price {
	s := strings.TrimSpace(raw)
	for {
		next := thousandsSep.ReplaceAllString(s, "$1$2")
		if next == s {
			break
		}
		s = next
	}
	tok := priceToken.FindString(s)
	if tok == "" {
		return catalog.Price{}
	}
	if strings.HasPrefix(tok, ".") {
		tok = "0" + tok
	}
	return catalog.KnownPrice(tok)
}

// DetectCurrency reads a currency marker off a raw price string.
func DetectCurrency(raw, fallback string) string {
	s := strings.ToUpper(raw)
	switch {
	case strings.Contains(s, "£") || strings.Contains(s, "GBP"):
		return "GBP"
	case strings.Contains(s, "€") || strings.Contains(s, "EUR"):
		return "EUR"
	case strings.Contains(s, "$") || strings.Contains(s, "USD"):
		return "USD"
	}
	return fallback
}

// Fingerprint hashes the fields whose change means the record changed.
func Fingerprint(title string, price catalog.Price, description string, rating float64, reviewCount int) string {
	parts := []string{
		title,
		price.String(),
		description,
		strconv.FormatFloat(rating, 'f', 2, 64),
		strconv.Itoa(reviewCount),
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// NormalizedRecord is a catalog record ready to persist, plus the detail
// payload when the page was a product detail page.
type NormalizedRecord struct {
	Record  catalog.Record
	Detail  *catalog.ProductDetail
	Reviews []catalog.Review
}

type Normalizer struct {
	DefaultCurrency string
	Now             func() time.Time
}

func NewNormalizer(defaultCurrency string) *Normalizer {
	if strings.TrimSpace(defaultCurrency) == "" {
		defaultCurrency = "GBP"
	}
	return &Normalizer{DefaultCurrency: defaultCurrency, Now: time.Now}
}

func (n *Normalizer) Normalize(raw RawRecord, baseURL string) NormalizedRecord {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	link := NormalizeURL(raw.Fields[FieldLink], baseURL)
	rawPrice := raw.Fields[FieldPrice]

	rec := catalog.Record{
		SourceID:      SourceID(link),
		Type:          raw.Kind,
		Title:         collapseSpace(raw.Fields[FieldTitle]),
		SourceURL:     link,
		Author:        collapseSpace(raw.Fields[FieldAuthor]),
		Price:         ParsePrice(rawPrice),
		ImageURL:      NormalizeURL(raw.Fields[FieldImage], baseURL),
		Description:   strings.TrimSpace(raw.Fields[FieldDescription]),
		LastScrapedAt: now().UTC(),
	}
	if rec.Price.Known {
		rec.Currency = DetectCurrency(rawPrice, n.DefaultCurrency)
	}

	out := NormalizedRecord{}
	if raw.Detail {
		out.Reviews = make([]catalog.Review, 0, len(raw.Reviews))
		var sum float64
		var rated int
		for i, rv := range raw.Reviews {
			r := catalog.Review{
				Author:   collapseSpace(rv.Author),
				Text:     strings.TrimSpace(rv.Text),
				Position: i,
			}
			if p := ParsePrice(rv.Rating); p.Known {
				if v, err := strconv.ParseFloat(p.Amount, 64); err == nil {
					r.Rating = v
					sum += v
					rated++
				}
			}
			out.Reviews = append(out.Reviews, r)
		}
		rec.ReviewCount = len(out.Reviews)
		rec.ReviewsAggregated = true
		if rated > 0 {
			rec.RatingAvg = sum / float64(rated)
		}
		specs := make(map[string]string, len(raw.Specs))
		for k, v := range raw.Specs {
			specs[k] = v
		}
		out.Detail = &catalog.ProductDetail{
			ProductSourceID: rec.SourceID,
			FullDescription: rec.Description,
			Specs:           specs,
			UpdatedAt:       rec.LastScrapedAt,
		}
	}

	rec.ContentHash = Fingerprint(rec.Title, rec.Price, rec.Description, rec.RatingAvg, rec.ReviewCount)
	out.Record = rec
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
