package spider

import (
	"net/http"
	"time"
)

// Record is the structured result extracted from one captured location.
type Record map[string]any

// Response is what a Fetcher returns for a single location.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carries usable content.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Links are the locations discovered on one document.
type Links struct {
	// InScope holds every normalised link under the base URL.
	InScope []string
	// Targets is the subset of InScope matching the capture predicate.
	Targets []string
}

// Result summarises a completed run.
type Result struct {
	RunID     string
	Records   []Record
	Crawled   int
	Accepted  int
	Parsed    int
	Failed    int
	Elapsed   time.Duration
	OutputURI string
}
