package links

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Capture predicate kinds.
const (
	MatchSubstring = "substring"
	MatchRegex     = "regex"
)

// ErrUnknownMatcher is returned for a capture kind other than substring or regex.
var ErrUnknownMatcher = errors.New("unknown capture matcher")

// Matcher selects capture targets among in-scope links.
type Matcher interface {
	Match(loc string) bool
}

type substringMatcher string

func (m substringMatcher) Match(loc string) bool {
	return strings.Contains(loc, string(m))
}

type regexMatcher struct {
	re *regexp.Regexp
}

func (m regexMatcher) Match(loc string) bool {
	return m.re.MatchString(loc)
}

// NewMatcher builds a capture predicate. An empty kind means substring.
func NewMatcher(kind, pattern string) (Matcher, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", MatchSubstring:
		return substringMatcher(pattern), nil
	case MatchRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile capture pattern: %w", err)
		}
		return regexMatcher{re: re}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMatcher, kind)
	}
}
