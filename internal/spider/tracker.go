package spider

import (
	"sort"
	"sync"
)

// Tracker records which locations entered each stage. Every check-then-insert
// happens under one lock because crawl workers race on the same links.
type Tracker struct {
	mu       sync.Mutex
	crawling map[string]struct{}
	crawled  map[string]struct{}
	parsing  map[string]struct{}
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		crawling: make(map[string]struct{}),
		crawled:  make(map[string]struct{}),
		parsing:  make(map[string]struct{}),
	}
}

// StartCrawl marks loc as crawling and returns true if it was not already.
func (t *Tracker) StartCrawl(loc string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.crawling[loc]; ok {
		return false
	}
	t.crawling[loc] = struct{}{}
	return true
}

// FinishCrawl marks loc as crawled.
func (t *Tracker) FinishCrawl(loc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.crawled[loc] = struct{}{}
}

// ClaimParse calls admit for a location not yet claimed for parsing and
// records the claim only if admit accepted it. It returns true when loc was
// newly claimed.
func (t *Tracker) ClaimParse(loc string, admit func() bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.parsing[loc]; ok {
		return false
	}
	if !admit() {
		return false
	}
	t.parsing[loc] = struct{}{}
	return true
}

// IsCrawled reports whether loc finished crawling.
func (t *Tracker) IsCrawled(loc string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.crawled[loc]
	return ok
}

// IsParsing reports whether loc was accepted for parsing.
func (t *Tracker) IsParsing(loc string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.parsing[loc]
	return ok
}

// CrawlingCount returns the number of locations that started crawling.
func (t *Tracker) CrawlingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.crawling)
}

// CrawledCount returns the number of locations that finished crawling.
func (t *Tracker) CrawledCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.crawled)
}

// ParsingCount returns the number of locations accepted for parsing.
func (t *Tracker) ParsingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.parsing)
}

// Unfinished returns the sorted locations that started crawling but never
// finished, plus any crawled location that never started.
func (t *Tracker) Unfinished() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for loc := range t.crawling {
		if _, ok := t.crawled[loc]; !ok {
			out = append(out, loc)
		}
	}
	for loc := range t.crawled {
		if _, ok := t.crawling[loc]; !ok {
			out = append(out, loc)
		}
	}
	sort.Strings(out)
	return out
}
