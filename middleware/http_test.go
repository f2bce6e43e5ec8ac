package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/krishna-kudari/governor"
	"github.com/krishna-kudari/governor/clock"
	"github.com/krishna-kudari/governor/middleware"
	"github.com/krishna-kudari/governor/stats"
	"github.com/krishna-kudari/governor/stats/memory"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func newGovernor(t *testing.T, perSecond, burst uint32) (*governor.Governor[string], *clock.Fake) {
	t.Helper()
	q, err := governor.PerSecond(perSecond, burst)
	if err != nil {
		t.Fatal(err)
	}
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	g, err := governor.New[string](q, governor.WithClock(fake))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(g.Close)
	return g, fake
}

func get(handler http.Handler, path, remoteAddr string, header ...string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = remoteAddr
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	g, _ := newGovernor(t, 1, 5)
	handler := middleware.RateLimit(g, middleware.PeerIP{})(okHandler())

	for i := 0; i < 5; i++ {
		rr := get(handler, "/api/test", "192.168.1.1:12345")

		if rr.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rr.Code)
		}
		if rr.Header().Get("X-RateLimit-Limit") != "5" {
			t.Errorf("request %d: expected X-RateLimit-Limit=5, got %s", i+1, rr.Header().Get("X-RateLimit-Limit"))
		}
		remaining, _ := strconv.ParseInt(rr.Header().Get("X-RateLimit-Remaining"), 10, 64)
		expected := int64(5 - i - 1)
		if remaining != expected {
			t.Errorf("request %d: expected remaining=%d, got %d", i+1, expected, remaining)
		}
		if rr.Header().Get("X-RateLimit-Reset") == "" {
			t.Errorf("request %d: expected X-RateLimit-Reset", i+1)
		}
	}
}

func TestRateLimit_DeniesExceedingBurst(t *testing.T) {
	g, _ := newGovernor(t, 1, 3)
	handler := middleware.RateLimit(g, middleware.PeerIP{})(okHandler())

	for i := 0; i < 3; i++ {
		if rr := get(handler, "/api/test", "10.0.0.1:9999"); rr.Code != http.StatusOK {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	rr := get(handler, "/api/test", "10.0.0.1:9999")

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After=1, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-After"); got != "1" {
		t.Errorf("expected X-RateLimit-After=1, got %q", got)
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining=0, got %s", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if !strings.Contains(rr.Body.String(), "Too Many Requests") {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
}

func TestRateLimit_Replenishes(t *testing.T) {
	g, fake := newGovernor(t, 2, 1)
	handler := middleware.RateLimit(g, middleware.PeerIP{})(okHandler())

	if rr := get(handler, "/", "10.0.0.1:1"); rr.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rr.Code)
	}
	if rr := get(handler, "/", "10.0.0.1:1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rr.Code)
	}

	fake.Advance(500 * time.Millisecond)

	if rr := get(handler, "/", "10.0.0.1:1"); rr.Code != http.StatusOK {
		t.Fatalf("after replenish: expected 200, got %d", rr.Code)
	}
}

func TestRateLimit_SeparateKeysTrackedIndependently(t *testing.T) {
	g, _ := newGovernor(t, 1, 2)
	handler := middleware.RateLimit(g, middleware.PeerIP{})(okHandler())

	for i := 0; i < 2; i++ {
		get(handler, "/", "1.1.1.1:1")
	}
	if rr := get(handler, "/", "1.1.1.1:1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("IP1 should be denied, got %d", rr.Code)
	}
	if rr := get(handler, "/", "2.2.2.2:1"); rr.Code != http.StatusOK {
		t.Errorf("IP2 should be allowed, got %d", rr.Code)
	}
}

func TestRateLimit_ExcludePathsAndMethods(t *testing.T) {
	g, _ := newGovernor(t, 1, 1)
	handler := middleware.RateLimitWithConfig(middleware.Config{
		Limiter:        g,
		Extractor:      middleware.PeerIP{},
		ExcludePaths:   map[string]bool{"/health": true},
		ExcludeMethods: map[string]bool{http.MethodOptions: true},
	})(okHandler())

	get(handler, "/api", "5.5.5.5:1")
	if rr := get(handler, "/api", "5.5.5.5:1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on /api, got %d", rr.Code)
	}

	for i := 0; i < 3; i++ {
		rr := get(handler, "/health", "5.5.5.5:1")
		if rr.Code != http.StatusOK {
			t.Errorf("excluded path request %d: expected 200, got %d", i+1, rr.Code)
		}
		if rr.Header().Get("X-RateLimit-Limit") != "" {
			t.Error("excluded path should not carry rate limit headers")
		}
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api", nil)
	req.RemoteAddr = "5.5.5.5:1"
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("excluded method: expected 200, got %d", rr.Code)
	}
}

func TestRateLimit_CustomDeniedHandler(t *testing.T) {
	g, _ := newGovernor(t, 1, 1)
	var seen governor.Decision
	handler := middleware.RateLimitWithConfig(middleware.Config{
		Limiter:   g,
		Extractor: middleware.PeerIP{},
		DeniedHandler: func(w http.ResponseWriter, _ *http.Request, d governor.Decision) {
			seen = d
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"slow down"}`))
		},
	})(okHandler())

	get(handler, "/", "3.3.3.3:1")
	rr := get(handler, "/", "3.3.3.3:1")

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	if rr.Body.String() != `{"error":"slow down"}` {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if seen.Allowed || seen.RetryAfter != time.Second {
		t.Errorf("handler got decision %+v", seen)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Error("retry headers should be set before the denied handler runs")
	}
}

func TestRateLimit_CustomMessageAndStatus(t *testing.T) {
	g, _ := newGovernor(t, 1, 1)
	handler := middleware.RateLimitWithConfig(middleware.Config{
		Limiter:    g,
		Extractor:  middleware.PeerIP{},
		Message:    "quota exhausted",
		StatusCode: http.StatusServiceUnavailable,
	})(okHandler())

	get(handler, "/", "3.3.3.3:1")
	rr := get(handler, "/", "3.3.3.3:1")

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "quota exhausted" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
}

func TestRateLimit_HeadersDisabled(t *testing.T) {
	g, _ := newGovernor(t, 1, 1)
	noHeaders := false
	handler := middleware.RateLimitWithConfig(middleware.Config{
		Limiter:   g,
		Extractor: middleware.PeerIP{},
		Headers:   &noHeaders,
	})(okHandler())

	rr := get(handler, "/", "4.4.4.4:1")
	if rr.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("expected no X-RateLimit-Limit header when Headers=false")
	}

	rr = get(handler, "/", "4.4.4.4:1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "" {
		t.Error("expected no quota headers on denial when Headers=false")
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After is always sent on denial")
	}
}

func TestRateLimit_BearerToken(t *testing.T) {
	g, _ := newGovernor(t, 20, 5)
	handler := middleware.RateLimit(g, middleware.BearerToken{})(okHandler())

	rr := get(handler, "/", "1.1.1.1:1")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), middleware.UnauthorizedMessage) {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if g.Len() != 0 {
		t.Errorf("failed extraction must not create state, got %d keys", g.Len())
	}

	for i := 0; i < 5; i++ {
		if rr := get(handler, "/", "1.1.1.1:1", "Authorization", "Bearer alice"); rr.Code != http.StatusOK {
			t.Fatalf("alice request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	if rr := get(handler, "/", "1.1.1.1:1", "Authorization", "Bearer alice"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("alice over burst: expected 429, got %d", rr.Code)
	}
	if rr := get(handler, "/", "1.1.1.1:1", "Authorization", "Bearer bob"); rr.Code != http.StatusOK {
		t.Fatalf("bob: expected 200, got %d", rr.Code)
	}
}

func TestRateLimit_BadRequestExtraction(t *testing.T) {
	g, _ := newGovernor(t, 1, 1)
	handler := middleware.RateLimit(g, middleware.Header("X-API-Key"))(okHandler())

	if rr := get(handler, "/", "1.1.1.1:1"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := get(handler, "/", "1.1.1.1:1", "X-API-Key", "k1"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRateLimit_CustomExtractionErrorHandler(t *testing.T) {
	g, _ := newGovernor(t, 1, 1)
	var got *governor.ExtractionError
	handler := middleware.RateLimitWithConfig(middleware.Config{
		Limiter: g,
		Extractor: governor.ExtractorFunc("tenant", func(*http.Request) (string, error) {
			return "", errBoom
		}),
		ExtractionErrorHandler: func(w http.ResponseWriter, _ *http.Request, err *governor.ExtractionError) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		},
	})(okHandler())

	rr := get(handler, "/", "1.1.1.1:1")
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rr.Code)
	}
	if got == nil || got.Kind != governor.BadRequest || got.Extractor != "tenant" {
		t.Fatalf("unexpected extraction error %+v", got)
	}
}

func TestRateLimit_StatsAndLogging(t *testing.T) {
	g, _ := newGovernor(t, 1, 1)
	sink := memory.New(memory.WithTrackKeys(true))
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	handler := middleware.RateLimitWithConfig(middleware.Config{
		Limiter:   g,
		Extractor: middleware.BearerToken{},
		Name:      "api",
		Logger:    logger,
		Stats:     sink,
	})(okHandler())

	get(handler, "/v1", "1.1.1.1:1", "Authorization", "Bearer secret-token")
	get(handler, "/v1", "1.1.1.1:1", "Authorization", "Bearer secret-token")
	get(handler, "/v1", "1.1.1.1:1")

	if got := sink.Total(); got != (stats.Counters{Allowed: 1, Denied: 1, Unauthenticated: 1}) {
		t.Errorf("unexpected totals %+v", got)
	}
	if got := sink.ByRoute()["GET /v1"]; got.Total() != 3 {
		t.Errorf("unexpected route counters %+v", got)
	}
	keys := sink.ByKey()
	if _, ok := keys["secr****"]; !ok {
		t.Errorf("expected redacted key, got %v", keys)
	}

	out := logs.String()
	if !strings.Contains(out, "rate limit exceeded") || !strings.Contains(out, "limiter=api") {
		t.Errorf("missing denial log:\n%s", out)
	}
	if strings.Contains(out, "secret-token") {
		t.Errorf("token leaked into logs:\n%s", out)
	}
}

func TestRateLimit_WorksWithGlobal(t *testing.T) {
	g, _ := newGovernor(t, 1, 2)
	handler := middleware.RateLimit(g, middleware.Global)(okHandler())

	get(handler, "/", "1.1.1.1:1")
	get(handler, "/", "2.2.2.2:1")
	if rr := get(handler, "/", "3.3.3.3:1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("global bucket should be shared, got %d", rr.Code)
	}
}

func TestRateLimitWithConfig_PanicsWithoutRequiredFields(t *testing.T) {
	g, _ := newGovernor(t, 1, 1)
	cases := map[string]middleware.Config{
		"no limiter":   {Extractor: middleware.PeerIP{}},
		"no extractor": {Limiter: g},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			middleware.RateLimitWithConfig(cfg)
		})
	}
}
