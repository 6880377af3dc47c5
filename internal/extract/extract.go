// Package extract provides the record extraction strategies run by parse
// workers.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitespider/internal/spider"
)

// Strategy names.
const (
	StrategySelectors = "selectors"
	StrategyLinks     = "links"
)

var (
	// ErrUnknownStrategy is returned by New for an unregistered name.
	ErrUnknownStrategy = errors.New("unknown extraction strategy")
	// ErrNoFields is returned when the selectors strategy has nothing to extract.
	ErrNoFields = errors.New("selectors strategy requires at least one field")
	// ErrNoLinkSelector is returned when the links strategy has no selector.
	ErrNoLinkSelector = errors.New("links strategy requires a selector")
)

// Config carries the settings of every strategy; each reads its own fields.
type Config struct {
	// Fields maps record keys to "css selector" (text) or
	// "css selector @attr" (attribute value).
	Fields map[string]string
	// LinkSelector picks the elements whose href the links strategy collects.
	LinkSelector string
}

// Factory builds an extractor from its configuration.
type Factory func(cfg Config, fetcher spider.Fetcher) (spider.Extractor, error)

var registry = map[string]Factory{
	StrategySelectors: newSelectorExtractor,
	StrategyLinks:     newLinkExtractor,
}

// New returns the extractor registered under name.
func New(name string, cfg Config, fetcher spider.Fetcher) (spider.Extractor, error) {
	factory, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	if fetcher == nil {
		return nil, errors.New("extract: fetcher is required")
	}
	return factory(cfg, fetcher)
}

// Strategies lists the registered strategy names in sorted order.
func Strategies() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fetchDocument loads url and parses it. Non-200 responses are errors here,
// unlike in the crawl stage.
func fetchDocument(ctx context.Context, fetcher spider.Fetcher, url string) (*goquery.Document, error) {
	resp, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %d for %s", spider.ErrBadStatus, resp.StatusCode, url)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", url, err)
	}
	return doc, nil
}
