package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitespider/internal/spider"
)

type field struct {
	key      string
	selector string
	attr     string
}

// selectorExtractor emits the page url plus one value per configured field.
// A selector that matches nothing yields an empty string.
type selectorExtractor struct {
	fetcher spider.Fetcher
	fields  []field
}

func newSelectorExtractor(cfg Config, fetcher spider.Fetcher) (spider.Extractor, error) {
	if len(cfg.Fields) == 0 {
		return nil, ErrNoFields
	}
	fields := make([]field, 0, len(cfg.Fields))
	for key, raw := range cfg.Fields {
		f, err := parseField(key, raw)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return &selectorExtractor{fetcher: fetcher, fields: fields}, nil
}

// parseField splits "div.price @data-value" into selector and attribute.
func parseField(key, raw string) (field, error) {
	key = strings.TrimSpace(key)
	raw = strings.TrimSpace(raw)
	if key == "" || raw == "" {
		return field{}, fmt.Errorf("field %q: key and selector must be set", key)
	}
	if strings.HasPrefix(raw, "@") {
		return field{}, fmt.Errorf("field %q: malformed selector %q", key, raw)
	}
	f := field{key: key, selector: raw}
	if idx := strings.LastIndex(raw, " @"); idx >= 0 {
		f.selector = strings.TrimSpace(raw[:idx])
		f.attr = strings.TrimSpace(raw[idx+2:])
		if f.selector == "" || f.attr == "" {
			return field{}, fmt.Errorf("field %q: malformed selector %q", key, raw)
		}
	}
	return f, nil
}

func (e *selectorExtractor) Extract(ctx context.Context, url string) (spider.Record, error) {
	doc, err := fetchDocument(ctx, e.fetcher, url)
	if err != nil {
		return nil, err
	}
	rec := spider.Record{"url": url}
	for _, f := range e.fields {
		rec[f.key] = f.value(doc)
	}
	return rec, nil
}

func (f field) value(doc *goquery.Document) string {
	sel := doc.Find(f.selector).First()
	if sel.Length() == 0 {
		return ""
	}
	if f.attr != "" {
		v, _ := sel.Attr(f.attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(sel.Text())
}
