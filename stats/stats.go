// Package stats records the outcome of admission decisions for reporting.
//
// A Sink receives one Event per request the middleware handles. Recording is
// best-effort: middleware logs a failed Record and carries on serving the
// request. Sinks hold counters only; they never hold quota state.
//
// Record runs on the request path. Wrap a sink that does network I/O in
// NewAsync so a slow backend costs dropped events instead of latency.
//
// Two implementations ship with the module: stats/memory for tests and
// single-process deployments, and stats/redis for aggregating counters
// across a fleet.
package stats

import (
	"context"
	"time"
)

// Outcome is what the middleware did with a request.
type Outcome string

const (
	Allowed         Outcome = "allowed"
	Denied          Outcome = "denied"
	Unauthenticated Outcome = "unauthenticated"
	BadRequest      Outcome = "bad_request"
)

// Event describes a single admission decision.
//
// Method and Path are protocol neutral: an HTTP method and URL path, or
// "grpc" and the full gRPC method name. Key is the log-safe key name, never
// a raw credential.
type Event struct {
	Limiter string
	Key     string
	Outcome Outcome
	Method  string
	Path    string
	At      time.Time
}

// Route returns "METHOD path", or "" if neither is set.
func (e Event) Route() string {
	switch {
	case e.Method == "":
		return e.Path
	case e.Path == "":
		return e.Method
	}
	return e.Method + " " + e.Path
}

// Sink persists decision events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Counters aggregates events by outcome.
type Counters struct {
	Allowed         int64
	Denied          int64
	Unauthenticated int64
	BadRequest      int64
}

// Add increments the counter for o.
func (c *Counters) Add(o Outcome, n int64) {
	switch o {
	case Allowed:
		c.Allowed += n
	case Denied:
		c.Denied += n
	case Unauthenticated:
		c.Unauthenticated += n
	case BadRequest:
		c.BadRequest += n
	}
}

// Total is the number of events counted.
func (c Counters) Total() int64 {
	return c.Allowed + c.Denied + c.Unauthenticated + c.BadRequest
}

// Multi fans an event out to every sink, returning the first error.
// All sinks are attempted even when one fails.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Record(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Record(ctx context.Context, ev Event) error { return f(ctx, ev) }
