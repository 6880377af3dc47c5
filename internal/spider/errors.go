package spider

import "errors"

var (
	// ErrDeadlineExceeded means the crawl queue did not drain before the run timeout.
	ErrDeadlineExceeded = errors.New("crawl deadline exceeded")
	// ErrInvariantViolated signals a coordination bug detected after the run.
	ErrInvariantViolated = errors.New("pipeline invariant violated")
	// ErrParseAbandoned means every parse worker gave up while parse work remained.
	ErrParseAbandoned = errors.New("parse work abandoned")
	// ErrWorkerPanic wraps a panic recovered from a worker loop.
	ErrWorkerPanic = errors.New("worker panicked")
	// ErrAlreadyRun is returned when Run is called on a used pipeline.
	ErrAlreadyRun = errors.New("pipeline already run")
	// ErrInvalidConfig wraps construction-time validation failures.
	ErrInvalidConfig = errors.New("invalid pipeline config")
	// ErrBadStatus is returned by collaborators for non-200 responses.
	ErrBadStatus = errors.New("bad response status")
	// ErrEmptyRecord is reported when an extractor returns neither record nor error.
	ErrEmptyRecord = errors.New("extractor returned empty record")
)
