package governor

import (
	"log/slog"
	"time"

	"github.com/krishna-kudari/governor/clock"
)

// Options holds the Governor configuration set through Option values.
type Options struct {
	// Clock supplies the instant for Check. Default: clock.Real.
	Clock clock.Clock

	// IdleTTL enables idle eviction when positive: buckets untouched for
	// at least this long, and already full again, are dropped. Default: 0
	// (buckets live until Reset or process exit).
	IdleTTL time.Duration

	// SweepInterval is the period of the background eviction sweep.
	// Default: IdleTTL.
	SweepInterval time.Duration

	// Logger receives sweep events. Default: nil (no logging).
	Logger *slog.Logger
}

// Option configures a Governor.
type Option func(*Options)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithIdleEviction enables dropping buckets idle for ttl.
func WithIdleEviction(ttl time.Duration) Option {
	return func(o *Options) { o.IdleTTL = ttl }
}

// WithSweepInterval sets how often the eviction sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Options) { o.SweepInterval = d }
}

// WithLogger sets the logger for background activity.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func defaultOptions() *Options {
	return &Options{Clock: clock.New()}
}

func applyOptions(opts []Option) *Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Options) validate() error {
	if o.Clock == nil {
		return invalidConfig("clock must not be nil")
	}
	if o.IdleTTL < 0 {
		return invalidConfig("idle TTL must not be negative, got %v", o.IdleTTL)
	}
	if o.SweepInterval < 0 {
		return invalidConfig("sweep interval must not be negative, got %v", o.SweepInterval)
	}
	if o.IdleTTL > 0 && o.SweepInterval == 0 {
		o.SweepInterval = o.IdleTTL
	}
	return nil
}
