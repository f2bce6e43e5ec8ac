package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/krishna-kudari/governor"
	"github.com/krishna-kudari/governor/stats"
)

// Recorder reports decisions to a logger and a stats sink. Both are optional;
// the zero value and a nil *Recorder do nothing.
type Recorder struct {
	name   string
	logger *slog.Logger
	sink   stats.Sink
	now    func() time.Time
}

// NewRecorder creates a Recorder labelling events with name.
func NewRecorder(name string, logger *slog.Logger, sink stats.Sink) *Recorder {
	return &Recorder{name: name, logger: logger, sink: sink, now: time.Now}
}

// Allowed records an admitted request. Only the stats sink sees it.
func (r *Recorder) Allowed(ctx context.Context, key, method, path string) {
	r.record(ctx, stats.Event{Key: key, Outcome: stats.Allowed, Method: method, Path: path})
}

// Denied records a rate-limited request.
func (r *Recorder) Denied(ctx context.Context, key, method, path string, d governor.Decision) {
	if r == nil {
		return
	}
	if r.logger != nil {
		r.logger.WarnContext(ctx, "rate limit exceeded",
			"limiter", r.name,
			"key", key,
			"method", method,
			"path", path,
			"retry_after", d.RetryAfter,
			"limit", d.Limit,
		)
	}
	r.record(ctx, stats.Event{Key: key, Outcome: stats.Denied, Method: method, Path: path, At: d.At})
}

// Rejected records a request whose key could not be extracted.
func (r *Recorder) Rejected(ctx context.Context, err *governor.ExtractionError, method, path string) {
	if r == nil {
		return
	}
	outcome := stats.BadRequest
	if err.Kind == governor.Unauthenticated {
		outcome = stats.Unauthenticated
	}
	if r.logger != nil {
		r.logger.InfoContext(ctx, "key extraction failed",
			"limiter", r.name,
			"extractor", err.Extractor,
			"kind", err.Kind.String(),
			"method", method,
			"path", path,
			"error", err,
		)
	}
	r.record(ctx, stats.Event{Outcome: outcome, Method: method, Path: path})
}

func (r *Recorder) record(ctx context.Context, ev stats.Event) {
	if r == nil || r.sink == nil {
		return
	}
	ev.Limiter = r.name
	if ev.At.IsZero() {
		ev.At = r.now()
	}
	if err := r.sink.Record(ctx, ev); err != nil && r.logger != nil {
		r.logger.ErrorContext(ctx, "failed to record rate limit stats",
			"limiter", r.name,
			"outcome", string(ev.Outcome),
			"error", err,
		)
	}
}
