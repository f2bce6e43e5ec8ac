// Package clock provides the time source used for replenishment math.
//
// Production code uses [Real], which reads time.Now and therefore carries Go's
// monotonic clock reading. Tests use [Fake], whose instant only moves when
// told to, including backwards to simulate clock regression.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current instant.
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by time.Now.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// New returns the real clock.
func New() Clock { return Real{} }

// Fake is a manually driven Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock by d. A negative d moves it backwards.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Set jumps the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
