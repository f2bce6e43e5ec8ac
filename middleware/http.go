package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/krishna-kudari/governor"
	"github.com/krishna-kudari/governor/stats"
)

// DeniedHandler is called when a request is rate limited. Retry headers are
// already set when it runs.
// Default behavior: 429 Too Many Requests with a plain-text body.
type DeniedHandler func(w http.ResponseWriter, r *http.Request, d governor.Decision)

// ExtractionErrorHandler is called when no key could be derived from the request.
// Default behavior: 401 for Unauthenticated, 400 for BadRequest, with the
// error's client-safe message as the body.
type ExtractionErrorHandler func(w http.ResponseWriter, r *http.Request, err *governor.ExtractionError)

// Config holds the rate limit middleware configuration.
type Config struct {
	// Limiter rules on each key (required). Usually a *governor.Governor[string],
	// optionally wrapped by metrics.Wrap.
	Limiter governor.Limiter[string]

	// Extractor derives the key from the request (required).
	Extractor governor.KeyExtractor[*http.Request, string]

	// Name labels this limiter in logs and stats events.
	// Default: the extractor's name.
	Name string

	// DeniedHandler is called when a request is denied.
	DeniedHandler DeniedHandler

	// ExtractionErrorHandler is called when the extractor fails.
	ExtractionErrorHandler ExtractionErrorHandler

	// ExcludePaths are request paths that bypass rate limiting.
	ExcludePaths map[string]bool

	// ExcludeMethods are request methods that bypass rate limiting.
	ExcludeMethods map[string]bool

	// Headers controls whether X-RateLimit-Limit/Remaining/Reset are set on
	// every checked response. Retry-After is always set on denial.
	// Default: true.
	Headers *bool

	// Message is the response body for denied requests.
	// Default: "Too Many Requests".
	Message string

	// StatusCode is the HTTP status code for denied requests.
	// Default: 429.
	StatusCode int

	// Logger receives denials and extraction failures. Nil disables logging.
	Logger *slog.Logger

	// Stats receives one event per checked request. Nil disables recording.
	Stats stats.Sink
}

// RateLimit creates HTTP middleware with default settings.
// It sets standard rate limit headers and returns 429 on denial.
//
// Usage with net/http:
//
//	gov, _ := governor.New[string](quota)
//	mux := http.NewServeMux()
//	mux.Handle("/api/", middleware.RateLimit(gov, middleware.PeerIP{})(handler))
//
// Usage with gorilla/mux:
//
//	r := mux.NewRouter()
//	r.Use(middleware.RateLimit(gov, middleware.SmartIP{}))
func RateLimit(limiter governor.Limiter[string], extractor governor.KeyExtractor[*http.Request, string]) func(http.Handler) http.Handler {
	return RateLimitWithConfig(Config{
		Limiter:   limiter,
		Extractor: extractor,
	})
}

// RateLimitWithConfig creates HTTP middleware with full configuration control.
func RateLimitWithConfig(cfg Config) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		panic("governor/middleware: Limiter is required")
	}
	if cfg.Extractor == nil {
		panic("governor/middleware: Extractor is required")
	}
	if cfg.ExtractionErrorHandler == nil {
		cfg.ExtractionErrorHandler = defaultExtractionErrorHandler
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler(cfg.Message, cfg.StatusCode)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Extractor.Name()
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers
	rec := NewRecorder(cfg.Name, cfg.Logger, cfg.Stats)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.ExcludePaths[r.URL.Path] || cfg.ExcludeMethods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			key, err := cfg.Extractor.Extract(r)
			if err != nil {
				ee := governor.AsExtractionError(cfg.Extractor.Name(), err)
				rec.Rejected(r.Context(), ee, r.Method, r.URL.Path)
				cfg.ExtractionErrorHandler(w, r, ee)
				return
			}

			d := cfg.Limiter.Check(key)
			name := governor.KeyName(cfg.Extractor, key)

			if sendHeaders {
				d.SetQuotaHeaders(w.Header().Set)
			}
			if !d.Allowed {
				d.SetRetryHeaders(w.Header().Set)
				rec.Denied(r.Context(), name, r.Method, r.URL.Path, d)
				cfg.DeniedHandler(w, r, d)
				return
			}

			rec.Allowed(r.Context(), name, r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractionStatus maps an extraction failure to its HTTP status code.
func ExtractionStatus(err *governor.ExtractionError) int {
	if err.Kind == governor.Unauthenticated {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

// ─── Default Handlers ────────────────────────────────────────────────────────

func defaultExtractionErrorHandler(w http.ResponseWriter, _ *http.Request, err *governor.ExtractionError) {
	http.Error(w, err.Message, ExtractionStatus(err))
}

func defaultDeniedHandler(message string, statusCode int) DeniedHandler {
	if message == "" {
		message = "Too Many Requests"
	}
	if statusCode == 0 {
		statusCode = http.StatusTooManyRequests
	}
	return func(w http.ResponseWriter, _ *http.Request, _ governor.Decision) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(statusCode)
		fmt.Fprintln(w, message)
	}
}
