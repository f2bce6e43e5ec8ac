package governor

import (
	"strconv"
	"time"
)

// Header names used when a Decision is exposed to clients.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderAfter      = "X-RateLimit-After"
	HeaderRetryAfter = "Retry-After"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed is true when a permit was consumed.
	Allowed bool

	// Limit is the burst size.
	Limit int64

	// Remaining is the number of whole permits left after this check.
	Remaining int64

	// RetryAfter is how long until the request would be admitted.
	// Zero when Allowed.
	RetryAfter time.Duration

	// ResetAfter is how long until the bucket is full again.
	ResetAfter time.Duration

	// At is the instant the check was evaluated at.
	At time.Time
}

// ResetAt is the instant the bucket will be full again.
func (d Decision) ResetAt() time.Time {
	return d.At.Add(d.ResetAfter)
}

// RetryAfterSeconds is RetryAfter in whole seconds, rounded up so a client
// honouring it never comes back early. Zero when Allowed.
func (d Decision) RetryAfterSeconds() int64 {
	return ceilSeconds(d.RetryAfter)
}

// Err returns nil when allowed and a *RateLimitedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RateLimitedError{RetryAfter: d.RetryAfter, Limit: d.Limit, Remaining: d.Remaining}
}

// SetQuotaHeaders emits the limit, remaining and reset headers through set.
// It fits http.Header.Set, gin.Context.Header and similar setters.
func (d Decision) SetQuotaHeaders(set func(name, value string)) {
	set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
	set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
	if !d.At.IsZero() {
		set(HeaderReset, strconv.FormatInt(d.ResetAt().Unix(), 10))
	}
}

// SetRetryHeaders emits Retry-After and X-RateLimit-After for a denial.
// It does nothing when Allowed.
func (d Decision) SetRetryHeaders(set func(name, value string)) {
	if d.Allowed {
		return
	}
	secs := strconv.FormatInt(d.RetryAfterSeconds(), 10)
	set(HeaderRetryAfter, secs)
	set(HeaderAfter, secs)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
