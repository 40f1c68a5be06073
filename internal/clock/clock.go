// Package clock abstracts the wall clock so due detection, retry delays and
// calendar arithmetic can run against an injected time source.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current instant
type Clock interface {
	Now() time.Time
}

// Real reads the system clock (always in UTC)
type Real struct{}

// Now returns time.Now in UTC
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually driven clock for tests and simulations
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a Fake clock frozen at start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

// Now returns the frozen instant
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set jumps the clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}
