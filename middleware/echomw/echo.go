// Package echomw provides Echo middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/labstack/echo.
//
// Usage:
//
//	gov, _ := governor.NewBuilder[string]().PerSecond(20).Burst(5).Build()
//	e := echo.New()
//	e.Use(echomw.RateLimit(gov, echomw.RealIP{}))
package echomw

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/krishna-kudari/governor"
	"github.com/krishna-kudari/governor/middleware"
	"github.com/krishna-kudari/governor/stats"
)

// Extractor derives the rate limiting key from an Echo context.
type Extractor = governor.KeyExtractor[echo.Context, string]

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c echo.Context, d governor.Decision) error

// ExtractionErrorHandler is called when no key could be extracted.
type ExtractionErrorHandler func(c echo.Context, err *governor.ExtractionError) error

// Config holds the rate limit middleware configuration.
type Config struct {
	// Limiter rules on each key (required).
	Limiter governor.Limiter[string]

	// Extractor derives the rate limit key (required).
	Extractor Extractor

	// Name labels this limiter in logs and stats. Default: the extractor's name.
	Name string

	// DeniedHandler is called on denial. Default: 429 JSON.
	DeniedHandler DeniedHandler

	// ExtractionErrorHandler is called on extraction failure.
	// Default: 401 or 400 JSON with the error's message.
	ExtractionErrorHandler ExtractionErrorHandler

	// Skipper bypasses rate limiting when it returns true.
	Skipper func(c echo.Context) bool

	// ExcludePaths are request paths that bypass rate limiting.
	ExcludePaths map[string]bool

	// Headers controls whether X-RateLimit-* headers are set.
	// Default: true.
	Headers *bool

	Logger *slog.Logger
	Stats  stats.Sink
}

// RateLimit creates Echo middleware with default settings.
func RateLimit(limiter governor.Limiter[string], extractor Extractor) echo.MiddlewareFunc {
	return RateLimitWithConfig(Config{
		Limiter:   limiter,
		Extractor: extractor,
	})
}

// RateLimitWithConfig creates Echo middleware with full configuration control.
func RateLimitWithConfig(cfg Config) echo.MiddlewareFunc {
	if cfg.Limiter == nil {
		panic("echomw: Limiter is required")
	}
	if cfg.Extractor == nil {
		panic("echomw: Extractor is required")
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	if cfg.ExtractionErrorHandler == nil {
		cfg.ExtractionErrorHandler = defaultExtractionErrorHandler
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Extractor.Name()
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers
	rec := middleware.NewRecorder(cfg.Name, cfg.Logger, cfg.Stats)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if cfg.ExcludePaths[req.URL.Path] || (cfg.Skipper != nil && cfg.Skipper(c)) {
				return next(c)
			}
			ctx := req.Context()

			key, err := cfg.Extractor.Extract(c)
			if err != nil {
				ee := governor.AsExtractionError(cfg.Extractor.Name(), err)
				rec.Rejected(ctx, ee, req.Method, req.URL.Path)
				return cfg.ExtractionErrorHandler(c, ee)
			}

			d := cfg.Limiter.Check(key)
			name := governor.KeyName(cfg.Extractor, key)

			h := c.Response().Header()
			if sendHeaders {
				d.SetQuotaHeaders(h.Set)
			}
			if !d.Allowed {
				d.SetRetryHeaders(h.Set)
				rec.Denied(ctx, name, req.Method, req.URL.Path, d)
				return cfg.DeniedHandler(c, d)
			}

			rec.Allowed(ctx, name, req.Method, req.URL.Path)
			return next(c)
		}
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// RealIP uses Echo's RealIP(), which honours the configured IPExtractor or,
// by default, X-Forwarded-For and X-Real-IP.
type RealIP struct{}

func (RealIP) Name() string { return "real_ip" }

func (RealIP) Extract(c echo.Context) (string, error) {
	if ip := c.RealIP(); ip != "" {
		return ip, nil
	}
	return "", governor.NewBadRequest("real_ip", "unable to determine client address", nil)
}

// PeerIP keys by the socket address, ignoring any forwarding headers.
type PeerIP struct{}

func (PeerIP) Name() string { return "peer_ip" }

func (PeerIP) Extract(c echo.Context) (string, error) {
	return middleware.PeerIP{}.Extract(c.Request())
}

// BearerToken keys by the token of an "Authorization: Bearer" header.
type BearerToken struct{}

func (BearerToken) Name() string { return "bearer_token" }

func (BearerToken) Extract(c echo.Context) (string, error) {
	return middleware.BearerToken{}.Extract(c.Request())
}

func (BearerToken) KeyName(token string) string { return middleware.RedactToken(token) }

// Header keys by the value of a request header.
func Header(name string) Extractor {
	inner := middleware.Header(name)
	return governor.ExtractorFunc(inner.Name(), func(c echo.Context) (string, error) {
		return inner.Extract(c.Request())
	})
}

// Param keys by a path parameter. An empty parameter is a BadRequest.
func Param(param string) Extractor {
	name := "param:" + param
	return governor.ExtractorFunc(name, func(c echo.Context) (string, error) {
		if v := c.Param(param); v != "" {
			return v, nil
		}
		return "", governor.NewBadRequest(name, "missing "+param+" parameter", nil)
	})
}

// PathAndIP combines the matched route and the real IP.
var PathAndIP = governor.ExtractorFunc("path_ip", func(c echo.Context) (string, error) {
	return c.Path() + ":" + c.RealIP(), nil
})

// Global shares one bucket between every request.
var Global Extractor = governor.Global[echo.Context]{}

// ─── Internals ───────────────────────────────────────────────────────────────

func defaultDeniedHandler(c echo.Context, d governor.Decision) error {
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": d.RetryAfterSeconds(),
	})
}

func defaultExtractionErrorHandler(c echo.Context, err *governor.ExtractionError) error {
	return c.JSON(middleware.ExtractionStatus(err), map[string]string{"error": err.Message})
}
