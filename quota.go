package governor

import (
	"fmt"
	"math"
	"time"
)

// Quota is the immutable limit shared by every bucket of a Governor.
//
// A bucket holds at most Burst permits and regains one permit every Period.
// Buckets start full.
type Quota struct {
	period time.Duration
	burst  uint32
}

// Every returns a Quota that replenishes one permit per period and holds at
// most burst permits.
func Every(period time.Duration, burst uint32) (Quota, error) {
	q := Quota{period: period, burst: burst}
	if err := q.Validate(); err != nil {
		return Quota{}, err
	}
	return q, nil
}

// Per returns a Quota admitting n permits per unit on average, with the
// given burst. Per(2, time.Second, 5) refills one permit every 500ms.
//
// The period is rounded up to whole nanoseconds when n does not divide unit,
// so the sustained rate never exceeds n per unit: PerSecond(3, b) refills
// every 333.333334ms.
func Per(n uint32, unit time.Duration, burst uint32) (Quota, error) {
	if n == 0 {
		return Quota{}, invalidConfig("rate must be positive")
	}
	if unit <= 0 {
		return Quota{}, invalidConfig("rate unit must be positive, got %v", unit)
	}
	if time.Duration(n) > unit {
		return Quota{}, invalidConfig("%d per %v is finer than 1ns", n, unit)
	}
	period := unit / time.Duration(n)
	if unit%time.Duration(n) != 0 {
		period++
	}
	return Every(period, burst)
}

// PerSecond returns a Quota of n permits per second.
func PerSecond(n, burst uint32) (Quota, error) {
	return Per(n, time.Second, burst)
}

// PerMinute returns a Quota of n permits per minute.
func PerMinute(n, burst uint32) (Quota, error) {
	return Per(n, time.Minute, burst)
}

// Validate reports whether q can drive a bucket. The zero Quota is invalid.
func (q Quota) Validate() error {
	if q.burst == 0 {
		return invalidConfig("burst size must be at least 1")
	}
	if q.period <= 0 {
		return invalidConfig("replenish interval must be positive, got %v", q.period)
	}
	if int64(q.period) > math.MaxInt64/int64(q.burst) {
		return invalidConfig("burst %d x interval %v overflows", q.burst, q.period)
	}
	return nil
}

// Period is the time needed to regain a single permit.
func (q Quota) Period() time.Duration { return q.period }

// Burst is the bucket capacity.
func (q Quota) Burst() uint32 { return q.burst }

// ReplenishInterval is the time an empty bucket needs to become full again.
func (q Quota) ReplenishInterval() time.Duration { return q.capacity() }

// Rate is the sustained permits per second.
func (q Quota) Rate() float64 { return float64(time.Second) / float64(q.period) }

func (q Quota) String() string {
	return fmt.Sprintf("%d burst, 1 per %v", q.burst, q.period)
}

// capacity is the fixed-point size of a full bucket: one permit is worth
// period nanoseconds of accrued time.
func (q Quota) capacity() time.Duration {
	return q.period * time.Duration(q.burst)
}
