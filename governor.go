package governor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/krishna-kudari/governor/clock"
)

// Governor admits or rejects requests per key against a single Quota.
//
// A Governor is explicitly owned state: construct it once, share the pointer
// with every request handler, and Close it on shutdown. All methods are safe
// for concurrent use. Checks on the same key are serialized; checks on
// different keys do not contend.
type Governor[K comparable] struct {
	quota  Quota
	clock  clock.Clock
	keys   keyStore[K]
	logger *slog.Logger

	idleTTL   time.Duration
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Governor for q. If idle eviction is enabled a background
// sweep goroutine is started; Close stops it.
func New[K comparable](q Quota, opts ...Option) (*Governor[K], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}

	g := &Governor[K]{
		quota:   q,
		clock:   o.Clock,
		logger:  o.Logger,
		idleTTL: o.IdleTTL,
		done:    make(chan struct{}),
	}
	if g.idleTTL > 0 {
		g.wg.Add(1)
		go g.sweepLoop(o.SweepInterval)
	}
	return g, nil
}

// Check rules on one request for key at the clock's current instant.
func (g *Governor[K]) Check(key K) Decision {
	return g.take(key, g.clock.Now(), 1)
}

// CheckAt rules on one request for key at now.
func (g *Governor[K]) CheckAt(key K, now time.Time) Decision {
	return g.take(key, now, 1)
}

// CheckN rules on a request costing n permits. It fails with
// ErrInsufficientCapacity when n exceeds the burst size, without touching
// the key's state. CheckN with n == 0 reports the state without consuming.
func (g *Governor[K]) CheckN(key K, n uint32) (Decision, error) {
	now := g.clock.Now()
	if n > g.quota.burst {
		return Decision{Limit: int64(g.quota.burst), At: now},
			fmt.Errorf("%w: %d > %d", ErrInsufficientCapacity, n, g.quota.burst)
	}
	return g.take(key, now, n), nil
}

func (g *Governor[K]) take(key K, now time.Time, n uint32) Decision {
	for {
		b := g.keys.load(key, g.quota, now)
		b.mu.Lock()
		if b.evicted {
			// lost a race with eviction or Reset; the replacement starts full
			b.mu.Unlock()
			continue
		}
		d := b.take(g.quota, now, n)
		b.mu.Unlock()
		return d
	}
}

// Reset drops the state for key; its next check sees a full bucket.
func (g *Governor[K]) Reset(key K) {
	g.keys.reset(key)
}

// Len is the number of keys currently holding a bucket.
func (g *Governor[K]) Len() int {
	return g.keys.len()
}

// Quota returns the limit this Governor enforces.
func (g *Governor[K]) Quota() Quota {
	return g.quota
}

// Sweep runs one eviction pass now and returns the number of buckets dropped.
// Only buckets idle for the configured TTL and fully replenished are dropped.
// Without idle eviction Sweep does nothing.
func (g *Governor[K]) Sweep() int {
	if g.idleTTL <= 0 {
		return 0
	}
	return g.keys.sweep(g.quota, g.clock.Now(), g.idleTTL)
}

// Close stops the background sweep. The Governor keeps answering checks
// afterwards; only eviction stops. Close is idempotent.
func (g *Governor[K]) Close() {
	g.closeOnce.Do(func() { close(g.done) })
	g.wg.Wait()
}

func (g *Governor[K]) sweepLoop(every time.Duration) {
	defer g.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			evicted := g.Sweep()
			if g.logger != nil && evicted > 0 {
				g.logger.Debug("evicted idle buckets", "evicted", evicted, "remaining", g.Len())
			}
		case <-g.done:
			return
		}
	}
}
