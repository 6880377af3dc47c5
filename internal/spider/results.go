package spider

import "sync"

// results collects parse outcomes in completion order.
type results struct {
	mu      sync.Mutex
	records []Record
	failed  int
}

func (r *results) add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *results) fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

// snapshot returns a copy of the records and the failure count.
func (r *results) snapshot() ([]Record, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...), r.failed
}

// handled is the number of parse targets that finished, successfully or not.
func (r *results) handled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records) + r.failed
}
