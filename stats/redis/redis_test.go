package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishna-kudari/governor/stats"
	redisstats "github.com/krishna-kudari/governor/stats/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func testPrefix(t *testing.T) string {
	return fmt.Sprintf("test:governor:%s:%d", t.Name(), time.Now().UnixNano())
}

func cleanup(t *testing.T, client *goredis.Client, prefix string) {
	t.Cleanup(func() {
		ctx := context.Background()
		keys, err := client.Keys(ctx, prefix+":*").Result()
		if err == nil && len(keys) > 0 {
			_ = client.Del(ctx, keys...).Err()
		}
		_ = client.Close()
	})
}

func TestSink_InterfaceCompliance(t *testing.T) {
	var _ stats.Sink = (*redisstats.Sink)(nil)
}

func TestSink_NilClientIsNoop(t *testing.T) {
	var s *redisstats.Sink
	assert.NoError(t, s.Record(context.Background(), stats.Event{Outcome: stats.Allowed}))
}

func TestSink_Record(t *testing.T) {
	client := newTestClient(t)
	prefix := testPrefix(t)
	cleanup(t, client, prefix)

	s := redisstats.New(client, redisstats.WithPrefix(prefix), redisstats.WithTrackKeys(true))
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 30, 15, 0, time.UTC)

	events := []stats.Event{
		{Key: "alice", Outcome: stats.Allowed, Method: "GET", Path: "/a", At: at},
		{Key: "alice", Outcome: stats.Allowed, Method: "GET", Path: "/a", At: at},
		{Key: "alice", Outcome: stats.Denied, Method: "GET", Path: "/a", At: at},
		{Outcome: stats.Unauthenticated, Method: "GET", Path: "/b", At: at.Add(time.Minute)},
	}
	for _, ev := range events {
		require.NoError(t, s.Record(ctx, ev))
	}

	total, err := s.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.Counters{Allowed: 2, Denied: 1, Unauthenticated: 1}, total)

	minute, err := s.Minute(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, stats.Counters{Allowed: 2, Denied: 1}, minute)

	next, err := s.Minute(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, stats.Counters{Unauthenticated: 1}, next)

	alice, err := s.Key(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, stats.Counters{Allowed: 2, Denied: 1}, alice)

	routes, err := s.Routes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]stats.Counters{
		"GET /a": {Allowed: 2, Denied: 1},
		"GET /b": {Unauthenticated: 1},
	}, routes)
}

func TestSink_MinuteBucketsExpire(t *testing.T) {
	client := newTestClient(t)
	prefix := testPrefix(t)
	cleanup(t, client, prefix)

	s := redisstats.New(client, redisstats.WithPrefix(prefix), redisstats.WithTTL(time.Hour))
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, stats.Event{Outcome: stats.Allowed, At: at}))

	ttl, err := client.TTL(ctx, prefix+":minute:202403011230").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)

	ttl, err = client.TTL(ctx, prefix+":total").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "total never expires")
}

func TestSink_WithoutMinuteBuckets(t *testing.T) {
	client := newTestClient(t)
	prefix := testPrefix(t)
	cleanup(t, client, prefix)

	s := redisstats.New(client, redisstats.WithPrefix(prefix), redisstats.WithMinuteBuckets(false))
	ctx := context.Background()
	at := time.Now()

	require.NoError(t, s.Record(ctx, stats.Event{Outcome: stats.Denied, At: at}))

	minute, err := s.Minute(ctx, at)
	require.NoError(t, err)
	assert.Zero(t, minute.Total())
}
