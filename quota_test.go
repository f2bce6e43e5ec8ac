package governor

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestQuotaConstructors(t *testing.T) {
	tests := []struct {
		name       string
		build      func() (Quota, error)
		wantPeriod time.Duration
		wantBurst  uint32
	}{
		{"PerSecond", func() (Quota, error) { return PerSecond(2, 5) }, 500 * time.Millisecond, 5},
		{"PerMinute", func() (Quota, error) { return PerMinute(60, 10) }, time.Second, 10},
		{"Per hour", func() (Quota, error) { return Per(4, time.Hour, 1) }, 15 * time.Minute, 1},
		{"Every", func() (Quota, error) { return Every(2*time.Second, 5) }, 2 * time.Second, 5},
		{"uneven rate rounds up", func() (Quota, error) { return PerSecond(3, 1) }, 333333334 * time.Nanosecond, 1},
		{"one per nanosecond", func() (Quota, error) { return Per(1, time.Nanosecond, 1) }, time.Nanosecond, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.build()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Period() != tt.wantPeriod {
				t.Errorf("period: got %v, want %v", q.Period(), tt.wantPeriod)
			}
			if q.Burst() != tt.wantBurst {
				t.Errorf("burst: got %d, want %d", q.Burst(), tt.wantBurst)
			}
		})
	}
}

func TestQuota_ReplenishIntervalAndRate(t *testing.T) {
	q, err := PerSecond(2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got := q.ReplenishInterval(); got != 2500*time.Millisecond {
		t.Errorf("full refill: got %v, want 2.5s", got)
	}
	if got := q.Rate(); got != 2 {
		t.Errorf("rate: got %v, want 2", got)
	}
}

func TestQuota_UnevenRateNeverExceedsRequested(t *testing.T) {
	for _, n := range []uint32{3, 7, 9, 11, 13, 1000003} {
		q, err := PerSecond(n, 1)
		if err != nil {
			t.Fatal(err)
		}
		if q.Rate() > float64(n) {
			t.Errorf("PerSecond(%d): rate %v exceeds requested", n, q.Rate())
		}
		if got := q.Period() * time.Duration(n); got < time.Second {
			t.Errorf("PerSecond(%d): %d permits refill in %v, under a second", n, n, got)
		}
	}
}

func TestQuota_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		build func() (Quota, error)
	}{
		{"zero burst", func() (Quota, error) { return PerSecond(10, 0) }},
		{"zero rate", func() (Quota, error) { return PerSecond(0, 5) }},
		{"zero period", func() (Quota, error) { return Every(0, 5) }},
		{"negative period", func() (Quota, error) { return Every(-time.Second, 5) }},
		{"negative unit", func() (Quota, error) { return Per(1, -time.Second, 5) }},
		{"sub-nanosecond period", func() (Quota, error) { return Per(10, time.Nanosecond, 5) }},
		{"capacity overflow", func() (Quota, error) { return Every(time.Duration(math.MaxInt64/2), 3) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestQuota_ZeroValueInvalid(t *testing.T) {
	if err := (Quota{}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero Quota should be invalid, got %v", err)
	}
}
