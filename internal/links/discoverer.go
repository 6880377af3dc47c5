// Package links turns fetched HTML into in-scope links and capture targets.
package links

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"

	"github.com/JakeFAU/sitespider/internal/spider"
)

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagUppercaseEscapes |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagEncodeNecessaryEscapes |
	purell.FlagRemoveEmptyQuerySeparator |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagSortQuery

// ErrInvalidBase is returned when the base URL is not absolute.
var ErrInvalidBase = errors.New("base url must be absolute")

// Config configures a Discoverer.
type Config struct {
	BaseURL string
	// Exclude drops any href whose site-relative part contains one of these
	// substrings.
	Exclude []string
	// Capture selects parse targets. Nil captures nothing.
	Capture Matcher
}

// Discoverer extracts anchors with goquery and keeps those under the base URL.
type Discoverer struct {
	rawBase string
	base    *url.URL
	prefix  string
	exclude []string
	capture Matcher
}

// NewDiscoverer validates the base URL and returns a Discoverer.
func NewDiscoverer(cfg Config) (*Discoverer, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBase, cfg.BaseURL)
	}
	exclude := make([]string, 0, len(cfg.Exclude))
	for _, e := range cfg.Exclude {
		if e != "" {
			exclude = append(exclude, e)
		}
	}
	return &Discoverer{
		rawBase: cfg.BaseURL,
		base:    base,
		prefix:  canonical(base),
		exclude: exclude,
		capture: cfg.Capture,
	}, nil
}

// Normalize returns the canonical string form of u used for dedup.
func Normalize(u *url.URL) string {
	return purell.NormalizeURL(u, normalizeFlags)
}

// canonical normalises u and gives a host-only URL the root path, so
// "https://example.com" and "https://example.com/" dedup to one location.
func canonical(u *url.URL) string {
	if u.Path == "" && u.Opaque == "" && u.Host != "" {
		root := *u
		root.Path = "/"
		u = &root
	}
	return Normalize(u)
}

// Canonical resolves raw against the base URL and returns it in the form
// Discover emits, so a seed location dedups against discovered links.
func (d *Discoverer) Canonical(raw string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse location: %w", err)
	}
	return canonical(d.base.ResolveReference(ref)), nil
}

// Discover parses document and returns its in-scope links in document order.
// Each link appears once even if the page repeats it.
func (d *Discoverer) Discover(document []byte) (spider.Links, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(document))
	if err != nil {
		return spider.Links{}, fmt.Errorf("parse document: %w", err)
	}

	var out spider.Links
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		loc, ok := d.resolve(href)
		if !ok {
			return
		}
		if _, dup := seen[loc]; dup {
			return
		}
		seen[loc] = struct{}{}
		out.InScope = append(out.InScope, loc)
		if d.capture != nil && d.capture.Match(loc) {
			out.Targets = append(out.Targets, loc)
		}
	})
	return out, nil
}

// resolve applies exclusion, resolution against the base, normalisation and
// the scope check to one raw href.
func (d *Discoverer) resolve(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if d.excluded(href) {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	loc := canonical(d.base.ResolveReference(ref))
	if !strings.HasPrefix(loc, d.prefix) {
		return "", false
	}
	return loc, true
}

func (d *Discoverer) excluded(href string) bool {
	relative := strings.TrimPrefix(href, d.rawBase)
	for _, e := range d.exclude {
		if strings.Contains(relative, e) {
			return true
		}
	}
	return false
}
