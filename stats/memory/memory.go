// Package memory provides an in-process stats.Sink.
//
// Counters never expire, so tracking per-key counters is opt-in: the number
// of distinct keys is bounded only by the traffic the process sees.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/krishna-kudari/governor/stats"
)

// Sink keeps decision counters in memory.
type Sink struct {
	mu      sync.Mutex
	total   stats.Counters
	byRoute map[string]stats.Counters
	byKey   map[string]stats.Counters

	trackKeys bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithTrackKeys enables per-key counters.
func WithTrackKeys(track bool) Option {
	return func(s *Sink) { s.trackKeys = track }
}

// New creates an empty Sink.
func New(opts ...Option) *Sink {
	s := &Sink{
		byRoute: make(map[string]stats.Counters),
		byKey:   make(map[string]stats.Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ stats.Sink = (*Sink)(nil)

// Record implements stats.Sink. It never fails.
func (s *Sink) Record(_ context.Context, ev stats.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.Add(ev.Outcome, 1)

	if route := ev.Route(); route != "" {
		c := s.byRoute[route]
		c.Add(ev.Outcome, 1)
		s.byRoute[route] = c
	}
	if s.trackKeys && ev.Key != "" {
		c := s.byKey[ev.Key]
		c.Add(ev.Outcome, 1)
		s.byKey[ev.Key] = c
	}
	return nil
}

// Total returns the counters across all events.
func (s *Sink) Total() stats.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByRoute returns a copy of the per-route counters.
func (s *Sink) ByRoute() map[string]stats.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byRoute)
}

// ByKey returns a copy of the per-key counters. Empty unless WithTrackKeys is set.
func (s *Sink) ByKey() map[string]stats.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byKey)
}

// Reset clears every counter.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = stats.Counters{}
	clear(s.byRoute)
	clear(s.byKey)
}
