package stats

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Async defaults.
const (
	DefaultBuffer  = 1024
	DefaultTimeout = time.Second
)

// AsyncSink hands events to a wrapped Sink from a single background worker,
// so Record never waits on the backend. Events are dropped, and counted,
// when the buffer is full or the sink is closed.
type AsyncSink struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	events  chan Event
	dropped atomic.Int64
	done    chan struct{}
}

// AsyncOption configures an AsyncSink.
type AsyncOption func(*AsyncSink)

// WithBuffer sets how many events may wait for the worker. Default: DefaultBuffer.
func WithBuffer(n int) AsyncOption {
	return func(a *AsyncSink) {
		if n > 0 {
			a.events = make(chan Event, n)
		}
	}
}

// WithTimeout bounds each Record on the wrapped sink. Default: DefaultTimeout.
func WithTimeout(d time.Duration) AsyncOption {
	return func(a *AsyncSink) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger for failed writes. Nil disables logging.
func WithLogger(l *slog.Logger) AsyncOption {
	return func(a *AsyncSink) { a.logger = l }
}

// NewAsync starts the worker for sink. Close stops it.
func NewAsync(sink Sink, opts ...AsyncOption) *AsyncSink {
	a := &AsyncSink{
		sink:    sink,
		timeout: DefaultTimeout,
		events:  make(chan Event, DefaultBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

// Record enqueues ev without blocking. It never fails; see Dropped.
func (a *AsyncSink) Record(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped is the number of events discarded so far.
func (a *AsyncSink) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events, flushes the queued ones and waits for the
// worker. It does not close the wrapped sink. Close is idempotent.
func (a *AsyncSink) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for ev := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.sink.Record(ctx, ev)
		cancel()
		if err != nil && a.logger != nil {
			a.logger.Error("failed to record rate limit stats",
				"limiter", ev.Limiter,
				"outcome", string(ev.Outcome),
				"error", err,
			)
		}
	}
}
