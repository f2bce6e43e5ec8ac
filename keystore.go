package governor

import (
	"sync"
	"sync/atomic"
	"time"
)

// keyStore maps keys to buckets.
//
// Lookups of existing keys go through sync.Map.Load and take no shared lock;
// only first sight of a key reaches LoadOrStore. Bucket mutation is guarded
// by the bucket's own mutex, so checks on different keys never contend.
type keyStore[K comparable] struct {
	buckets sync.Map // K -> *bucket
	size    atomic.Int64
}

// load returns the bucket for key, creating a full one if absent. The
// returned bucket may be evicted by the time its lock is taken; callers must
// check bucket.evicted and retry.
func (s *keyStore[K]) load(key K, q Quota, now time.Time) *bucket {
	if v, ok := s.buckets.Load(key); ok {
		return v.(*bucket)
	}
	v, loaded := s.buckets.LoadOrStore(key, newBucket(q, now))
	if !loaded {
		s.size.Add(1)
	}
	return v.(*bucket)
}

// remove must be called with b.mu held.
func (s *keyStore[K]) remove(key K, b *bucket) {
	b.evicted = true
	if s.buckets.CompareAndDelete(key, b) {
		s.size.Add(-1)
	}
}

func (s *keyStore[K]) reset(key K) {
	v, ok := s.buckets.Load(key)
	if !ok {
		return
	}
	b := v.(*bucket)
	b.mu.Lock()
	if !b.evicted {
		s.remove(key, b)
	}
	b.mu.Unlock()
}

// sweep evicts buckets that are idle for at least ttl and fully replenished.
func (s *keyStore[K]) sweep(q Quota, now time.Time, ttl time.Duration) int {
	evicted := 0
	s.buckets.Range(func(k, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		if !b.evicted && b.idleAndFull(q, now, ttl) {
			s.remove(k.(K), b)
			evicted++
		}
		b.mu.Unlock()
		return true
	})
	return evicted
}

func (s *keyStore[K]) len() int {
	return int(s.size.Load())
}
