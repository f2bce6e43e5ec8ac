package governor

import (
	"log/slog"
	"time"

	"github.com/krishna-kudari/governor/clock"
)

// Default builder settings: one permit every 500ms, burst of 8.
const (
	DefaultPeriod = 500 * time.Millisecond
	DefaultBurst  = 8
)

// Builder provides a fluent API for constructing a Governor.
//
//	g, err := governor.NewBuilder[string]().
//	    PerSecond(20).
//	    Burst(5).
//	    IdleTTL(10 * time.Minute).
//	    Build()
type Builder[K comparable] struct {
	period time.Duration
	burst  uint32
	opts   []Option

	// rate form, resolved in Build so Burst may be set in any order
	rateN    uint32
	rateUnit time.Duration
}

// NewBuilder returns a Builder holding the defaults.
func NewBuilder[K comparable]() *Builder[K] {
	return &Builder[K]{period: DefaultPeriod, burst: DefaultBurst}
}

// ─── Quota ───────────────────────────────────────────────────────────────────

// Period sets the time needed to replenish one permit.
func (b *Builder[K]) Period(d time.Duration) *Builder[K] {
	b.period = d
	b.rateN, b.rateUnit = 0, 0
	return b
}

// PerSecond sets the sustained rate to n permits per second.
func (b *Builder[K]) PerSecond(n uint32) *Builder[K] {
	return b.Per(n, time.Second)
}

// PerMinute sets the sustained rate to n permits per minute.
func (b *Builder[K]) PerMinute(n uint32) *Builder[K] {
	return b.Per(n, time.Minute)
}

// Per sets the sustained rate to n permits per unit.
func (b *Builder[K]) Per(n uint32, unit time.Duration) *Builder[K] {
	b.rateN, b.rateUnit = n, unit
	return b
}

// Burst sets the bucket capacity.
func (b *Builder[K]) Burst(n uint32) *Builder[K] {
	b.burst = n
	return b
}

// ─── Option setters ──────────────────────────────────────────────────────────

// Clock overrides the time source.
func (b *Builder[K]) Clock(c clock.Clock) *Builder[K] {
	b.opts = append(b.opts, WithClock(c))
	return b
}

// IdleTTL enables idle eviction.
func (b *Builder[K]) IdleTTL(ttl time.Duration) *Builder[K] {
	b.opts = append(b.opts, WithIdleEviction(ttl))
	return b
}

// SweepInterval sets how often idle eviction runs.
func (b *Builder[K]) SweepInterval(d time.Duration) *Builder[K] {
	b.opts = append(b.opts, WithSweepInterval(d))
	return b
}

// Logger sets the logger for background activity.
func (b *Builder[K]) Logger(l *slog.Logger) *Builder[K] {
	b.opts = append(b.opts, WithLogger(l))
	return b
}

// ─── Build ───────────────────────────────────────────────────────────────────

// Quota validates and returns the configured Quota without building.
func (b *Builder[K]) Quota() (Quota, error) {
	if b.rateUnit != 0 || b.rateN != 0 {
		return Per(b.rateN, b.rateUnit, b.burst)
	}
	return Every(b.period, b.burst)
}

// Build validates the configuration and returns the Governor.
func (b *Builder[K]) Build() (*Governor[K], error) {
	q, err := b.Quota()
	if err != nil {
		return nil, err
	}
	return New[K](q, b.opts...)
}
