package spider

import (
	"context"
	"time"
)

// Fetcher retrieves a location. It is shared by every worker and closed once
// by the pipeline after all workers stop.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
	Close()
}

// Discoverer extracts in-scope links and capture targets from a document.
type Discoverer interface {
	Discover(document []byte) (Links, error)
}

// Extractor produces the record for one captured location.
type Extractor interface {
	Extract(ctx context.Context, url string) (Record, error)
}

// Sink persists the records of a finished run and returns where they went.
type Sink interface {
	Write(ctx context.Context, name string, records []Record) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
