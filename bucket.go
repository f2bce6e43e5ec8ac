package governor

import (
	"fmt"
	"sync"
	"time"
)

// bucket is the state of one key. Permits are kept in fixed point: tokens is
// the accrued replenishment time, and one permit is worth quota.period of it.
// All fields are guarded by mu.
type bucket struct {
	mu      sync.Mutex
	tokens  time.Duration
	last    time.Time
	evicted bool
}

func newBucket(q Quota, now time.Time) *bucket {
	return &bucket{tokens: q.capacity(), last: now}
}

// refill credits the time elapsed since the last refill, capped at capacity.
// An instant at or before last credits nothing and leaves last untouched.
func (b *bucket) refill(q Quota, now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	if room := q.capacity() - b.tokens; elapsed >= room {
		b.tokens = q.capacity()
	} else {
		b.tokens += elapsed
	}
	b.last = now
}

// take runs one admission check costing n permits. A denied check still
// persists the refill so partial replenishment carries over.
func (b *bucket) take(q Quota, now time.Time, n uint32) Decision {
	b.refill(q, now)

	d := Decision{Limit: int64(q.burst), At: now}
	cost := q.period * time.Duration(n)
	if b.tokens >= cost {
		b.tokens -= cost
		d.Allowed = true
	} else {
		d.RetryAfter = cost - b.tokens
	}
	b.mustBeValid(q)

	d.Remaining = int64(b.tokens / q.period)
	d.ResetAfter = q.capacity() - b.tokens
	return d
}

// idleAndFull reports whether the bucket has gone untouched for ttl and
// would be full if checked at now.
func (b *bucket) idleAndFull(q Quota, now time.Time, ttl time.Duration) bool {
	idle := now.Sub(b.last)
	if idle < 0 || idle < ttl {
		return false
	}
	return idle >= q.capacity()-b.tokens
}

func (b *bucket) mustBeValid(q Quota) {
	if b.tokens < 0 || b.tokens > q.capacity() {
		panic(fmt.Sprintf("governor: bucket holds %v, outside [0, %v]", b.tokens, q.capacity()))
	}
}
