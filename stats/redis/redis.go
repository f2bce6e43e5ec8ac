// Package redis provides a stats.Sink that aggregates decision counters in Redis.
//
// It wraps redis.UniversalClient, so standalone Redis, Redis Cluster and
// Redis Sentinel all work:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	sink := redisstats.New(client, redisstats.WithPrefix("edge:stats"))
//
// Each Record is a single pipelined round-trip of HINCRBY commands:
//
//	<prefix>:total                    outcome -> count (never expires)
//	<prefix>:minute:<YYYYMMDDhhmm>    outcome -> count (expires after TTL)
//	<prefix>:route                    "<route>:<outcome>" -> count
//	<prefix>:key:<key>                outcome -> count (opt-in, expires after TTL)
//
// Only counters live in Redis. Admission decisions are always made locally.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/krishna-kudari/governor/stats"
)

const (
	DefaultPrefix = "governor:stats"
	DefaultTTL    = 24 * time.Hour

	minuteLayout = "200601021504"
)

// Sink implements stats.Sink backed by Redis.
type Sink struct {
	client    goredis.UniversalClient
	prefix    string
	ttl       time.Duration
	minutes   bool
	trackKeys bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithPrefix sets the key prefix. Surrounding colons are trimmed.
func WithPrefix(prefix string) Option {
	return func(s *Sink) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithTTL sets the expiry of per-minute and per-key hashes. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Sink) { s.ttl = d }
}

// WithMinuteBuckets toggles the per-minute time series. Enabled by default.
func WithMinuteBuckets(enabled bool) Option {
	return func(s *Sink) { s.minutes = enabled }
}

// WithTrackKeys enables per-key hashes.
func WithTrackKeys(track bool) Option {
	return func(s *Sink) { s.trackKeys = track }
}

// New creates a Sink from any UniversalClient
// (standalone *redis.Client, *redis.ClusterClient, or *redis.Ring).
func New(client goredis.UniversalClient, opts ...Option) *Sink {
	s := &Sink{
		client:  client,
		prefix:  DefaultPrefix,
		ttl:     DefaultTTL,
		minutes: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ stats.Sink = (*Sink)(nil)

// Client returns the underlying Redis client.
func (s *Sink) Client() goredis.UniversalClient {
	return s.client
}

// Record implements stats.Sink.
func (s *Sink) Record(ctx context.Context, ev stats.Event) error {
	if s == nil || s.client == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Outcome)

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, s.totalKey(), field, 1)

	if s.minutes {
		key := s.minuteKey(at)
		pipe.HIncrBy(ctx, key, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	if route := strings.TrimSpace(ev.Route()); route != "" {
		pipe.HIncrBy(ctx, s.routeKey(), route+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(ev.Key); k != "" {
			key := s.keyKey(k)
			pipe.HIncrBy(ctx, key, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("governor/stats/redis: record: %w", err)
	}
	return nil
}

// Total returns the cumulative counters.
func (s *Sink) Total(ctx context.Context) (stats.Counters, error) {
	return s.counters(ctx, s.totalKey())
}

// Minute returns the counters of the minute containing t.
func (s *Sink) Minute(ctx context.Context, t time.Time) (stats.Counters, error) {
	return s.counters(ctx, s.minuteKey(t))
}

// Key returns the counters of one key. Empty unless WithTrackKeys is set.
func (s *Sink) Key(ctx context.Context, key string) (stats.Counters, error) {
	return s.counters(ctx, s.keyKey(key))
}

// Routes returns the per-route counters.
func (s *Sink) Routes(ctx context.Context) (map[string]stats.Counters, error) {
	fields, err := s.client.HGetAll(ctx, s.routeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("governor/stats/redis: routes: %w", err)
	}
	out := make(map[string]stats.Counters)
	for field, raw := range fields {
		i := strings.LastIndexByte(field, ':')
		if i < 0 {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("governor/stats/redis: route %q: %w", field, err)
		}
		c := out[field[:i]]
		c.Add(stats.Outcome(field[i+1:]), n)
		out[field[:i]] = c
	}
	return out, nil
}

// Close closes the underlying client.
func (s *Sink) Close() error {
	return s.client.Close()
}

func (s *Sink) counters(ctx context.Context, key string) (stats.Counters, error) {
	var c stats.Counters
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return c, fmt.Errorf("governor/stats/redis: read %s: %w", key, err)
	}
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c, fmt.Errorf("governor/stats/redis: %s[%s]: %w", key, field, err)
		}
		c.Add(stats.Outcome(field), n)
	}
	return c, nil
}

func (s *Sink) totalKey() string { return s.prefix + ":total" }
func (s *Sink) routeKey() string { return s.prefix + ":route" }
func (s *Sink) keyKey(k string) string {
	return s.prefix + ":key:" + k
}
func (s *Sink) minuteKey(t time.Time) string {
	return s.prefix + ":minute:" + t.UTC().Format(minuteLayout)
}
