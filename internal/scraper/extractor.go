package scraper

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"

	"github.com/PuerkitoBio/goquery"
)

var ErrNoLayout = errors.New("no extraction layout for target type")

type RawReview struct {
	Author string
	Rating string
	Text   string
}

// RawRecord is an extracted candidate before normalization. Matched records
// which strategy produced each field.
type RawRecord struct {
	Kind    catalog.RecordType
	Fields  map[string]string
	Matched map[string]string
	Detail  bool
	Reviews []RawReview
	Specs   map[string]string
}

type ItemResult struct {
	Index  int
	Record *RawRecord
	Err    error
}

type ItemError struct {
	Index int
	Cause any
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("extract item %d: %v", e.Index, e.Cause)
}

type Extractor struct {
	logger  *log.Logger
	layouts map[scrape.TargetType]PageLayout
}

func NewExtractor(logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{logger: logger, layouts: pageLayouts}
}

// Extract runs the layout table for t over page. Per-item failures come back
// as ItemResult.Err; the call itself fails only without a parsed document.
func (e *Extractor) Extract(page *Page, t scrape.TargetType) ([]ItemResult, error) {
	if page == nil || page.Doc == nil {
		return nil, ErrUnparsableDocument
	}
	pl, ok := e.layouts[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLayout, t)
	}

	base := PageBase(page)

	var (
		out     []ItemResult
		seen    = map[string]struct{}{}
		index   int
		dropped int
	)
	for _, layout := range pl.Layouts {
		for _, cand := range candidates(page.Doc, layout) {
			idx := index
			index++
			rec, err := e.extractItem(cand, layout, pl, page)
			if err != nil {
				var ie *ItemError
				if errors.As(err, &ie) {
					ie.Index = idx
				}
				out = append(out, ItemResult{Index: idx, Err: err})
				continue
			}
			if rec == nil {
				dropped++
				continue
			}
			sid := SourceID(NormalizeURL(rec.Fields[FieldLink], base))
			if _, dup := seen[sid]; dup {
				continue
			}
			seen[sid] = struct{}{}
			out = append(out, ItemResult{Index: idx, Record: rec})
			if layout.Limit > 0 && countKind(out, layout.Kind) >= layout.Limit {
				break
			}
		}
	}

	if dropped > 0 {
		e.logger.Printf("[Extractor] Extract dropped candidates target_type=%s url=%s dropped=%d", t, page.URL, dropped)
	}
	return out, nil
}

func countKind(items []ItemResult, kind catalog.RecordType) int {
	n := 0
	for _, it := range items {
		if it.Record != nil && it.Record.Kind == kind {
			n++
		}
	}
	return n
}

func candidates(doc *goquery.Document, layout Layout) []*goquery.Selection {
	if len(layout.Containers) == 0 {
		return []*goquery.Selection{doc.Selection}
	}
	return firstContainerMatch(doc.Selection, layout.Containers)
}

func firstContainerMatch(root *goquery.Selection, containers []Strategy) []*goquery.Selection {
	for _, c := range containers {
		sel := root.Find(c.Selector)
		if sel.Length() == 0 {
			continue
		}
		out := make([]*goquery.Selection, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			out = append(out, s)
		})
		return out
	}
	return nil
}

func (e *Extractor) extractItem(cand *goquery.Selection, layout Layout, pl PageLayout, page *Page) (rec *RawRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = &ItemError{Cause: r}
		}
	}()

	fields, matched := applyRules(cand, layout.Fields)
	if layout.SelfLink {
		fields[FieldLink] = truncate(page.URL, maxURLLen)
		matched[FieldLink] = "page-url"
	}
	for _, req := range layout.Required {
		if fields[req] == "" {
			return nil, nil
		}
	}
	if fields[FieldLink] == "" {
		return nil, nil
	}
	if NormalizeURL(fields[FieldLink], PageBase(page)) == "" {
		return nil, nil
	}

	rec = &RawRecord{Kind: layout.Kind, Fields: fields, Matched: matched, Detail: layout.Detail}
	if layout.Detail {
		if pl.Reviews != nil {
			rec.Reviews = extractReviews(page.Doc.Selection, *pl.Reviews)
		}
		rec.Specs = extractSpecs(page.Doc.Selection, pl.Specs)
	}
	return rec, nil
}

func applyRules(cand *goquery.Selection, rules []FieldRule) (map[string]string, map[string]string) {
	fields := make(map[string]string, len(rules))
	matched := make(map[string]string, len(rules))
	for _, rule := range rules {
		for _, st := range rule.Strategies {
			v := evaluate(cand, st)
			if v == "" {
				continue
			}
			fields[rule.Field] = truncate(v, rule.MaxLen)
			matched[rule.Field] = st.ID
			break
		}
	}
	return fields, matched
}

// evaluate returns the first non-empty value st yields under cand.
func evaluate(cand *goquery.Selection, st Strategy) string {
	sel := cand
	if st.Selector != "" {
		sel = cand.Find(st.Selector)
	}
	var v string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if st.Attr != "" {
			v = strings.TrimSpace(s.AttrOr(st.Attr, ""))
		} else {
			v = collapseSpace(s.Text())
		}
		return v == ""
	})
	return v
}

func extractReviews(root *goquery.Selection, rl ReviewLayout) []RawReview {
	items := firstContainerMatch(root, rl.Containers)
	limit := rl.Limit
	if limit <= 0 {
		limit = maxReviews
	}
	out := make([]RawReview, 0, min(len(items), limit))
	for _, item := range items {
		if len(out) >= limit {
			break
		}
		rv, ok := reviewFrom(item, rl)
		if !ok {
			continue
		}
		out = append(out, rv)
	}
	return out
}

func reviewFrom(item *goquery.Selection, rl ReviewLayout) (rv RawReview, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	fields, _ := applyRules(item, rl.Fields)
	for _, req := range rl.Required {
		if fields[req] == "" {
			return RawReview{}, false
		}
	}
	return RawReview{
		Author: fields[reviewAuthor],
		Rating: fields[reviewRating],
		Text:   fields[reviewText],
	}, true
}

func extractSpecs(root *goquery.Selection, strategies []Strategy) map[string]string {
	for _, st := range strategies {
		specs := map[string]string{}
		root.Find(st.Selector).Each(func(_ int, s *goquery.Selection) {
			k, v := specPair(s)
			if key, ok := canonicalSpecKey(k); ok && v != "" {
				if _, exists := specs[key]; !exists {
					specs[key] = truncate(v, maxTextLen)
				}
			}
		})
		if len(specs) > 0 {
			return specs
		}
	}
	return map[string]string{}
}

func specPair(s *goquery.Selection) (string, string) {
	switch goquery.NodeName(s) {
	case "tr":
		cells := s.Find("th, td")
		if cells.Length() >= 2 {
			return collapseSpace(cells.First().Text()), collapseSpace(cells.Last().Text())
		}
	case "dt":
		return collapseSpace(s.Text()), collapseSpace(s.NextFiltered("dd").Text())
	}
	line := collapseSpace(s.Text())
	if k, v, ok := strings.Cut(line, ":"); ok {
		return strings.TrimSpace(k), strings.TrimSpace(v)
	}
	for _, key := range specKeys {
		if len(line) > len(key) && strings.EqualFold(line[:len(key)], key) {
			return key, strings.TrimSpace(line[len(key):])
		}
	}
	return "", ""
}

func canonicalSpecKey(k string) (string, bool) {
	k = strings.TrimSuffix(strings.TrimSpace(k), ":")
	for _, key := range specKeys {
		if strings.EqualFold(k, key) || (len(k) > len(key) && strings.EqualFold(k[:len(key)], key)) {
			return key, true
		}
	}
	return "", false
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
