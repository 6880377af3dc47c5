package spider

import "sync/atomic"

// Gate is a one-way latch. Parse workers stay in their retry phase until a
// crawl worker opens it.
type Gate struct {
	open atomic.Bool
}

// Open latches the gate and returns true only for the call that flipped it.
func (g *Gate) Open() bool {
	return g.open.CompareAndSwap(false, true)
}

// IsOpen reports whether the gate has been opened.
func (g *Gate) IsOpen() bool {
	return g.open.Load()
}
