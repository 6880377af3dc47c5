package extract

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitespider/internal/spider"
)

// linkExtractor collects the href of every element matching a selector, e.g.
// the product tiles of a listing page.
type linkExtractor struct {
	fetcher  spider.Fetcher
	selector string
}

func newLinkExtractor(cfg Config, fetcher spider.Fetcher) (spider.Extractor, error) {
	selector := strings.TrimSpace(cfg.LinkSelector)
	if selector == "" {
		return nil, ErrNoLinkSelector
	}
	return &linkExtractor{fetcher: fetcher, selector: selector}, nil
}

func (e *linkExtractor) Extract(ctx context.Context, url string) (spider.Record, error) {
	doc, err := fetchDocument(ctx, e.fetcher, url)
	if err != nil {
		return nil, err
	}
	links := []string{}
	doc.Find(e.selector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			links = append(links, href)
		}
	})
	return spider.Record{"url": url, "links": links}, nil
}
