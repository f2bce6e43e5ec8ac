// Package ginmw provides Gin middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/gin-gonic/gin.
//
// Usage:
//
//	gov, _ := governor.NewBuilder[string]().PerSecond(20).Burst(5).Build()
//	r := gin.Default()
//	r.Use(ginmw.RateLimit(gov, ginmw.ClientIP{}))
package ginmw

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/krishna-kudari/governor"
	"github.com/krishna-kudari/governor/middleware"
	"github.com/krishna-kudari/governor/stats"
)

// Extractor derives the rate limiting key from a Gin context.
type Extractor = governor.KeyExtractor[*gin.Context, string]

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c *gin.Context, d governor.Decision)

// ExtractionErrorHandler is called when no key could be extracted.
type ExtractionErrorHandler func(c *gin.Context, err *governor.ExtractionError)

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

	// ExcludePaths are request paths that bypass rate limiting.
	ExcludePaths map[string]bool

	// Headers controls whether X-RateLimit-* headers are set.
	// Default: true.
	Headers *bool

	Logger *slog.Logger
	Stats  stats.Sink
}

// RateLimit creates Gin middleware with default settings.
func RateLimit(limiter governor.Limiter[string], extractor Extractor) gin.HandlerFunc {
	return RateLimitWithConfig(Config{
		Limiter:   limiter,
		Extractor: extractor,
	})
}

// RateLimitWithConfig creates Gin middleware with full configuration control.
func RateLimitWithConfig(cfg Config) gin.HandlerFunc {
	if cfg.Limiter == nil {
		panic("ginmw: Limiter is required")
	}
	if cfg.Extractor == nil {
		panic("ginmw: Extractor is required")
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

	return func(c *gin.Context) {
		if cfg.ExcludePaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		method, path := c.Request.Method, c.Request.URL.Path

		key, err := cfg.Extractor.Extract(c)
		if err != nil {
			ee := governor.AsExtractionError(cfg.Extractor.Name(), err)
			rec.Rejected(ctx, ee, method, path)
			cfg.ExtractionErrorHandler(c, ee)
			return
		}

		d := cfg.Limiter.Check(key)
		name := governor.KeyName(cfg.Extractor, key)

		if sendHeaders {
			d.SetQuotaHeaders(c.Header)
		}
		if !d.Allowed {
			d.SetRetryHeaders(c.Header)
			rec.Denied(ctx, name, method, path, d)
			cfg.DeniedHandler(c, d)
			return
		}

		rec.Allowed(ctx, name, method, path)
		c.Next()
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// ClientIP uses Gin's ClientIP(), which honours the engine's trusted proxies.
type ClientIP struct{}

func (ClientIP) Name() string { return "client_ip" }

func (ClientIP) Extract(c *gin.Context) (string, error) {
	if ip := c.ClientIP(); ip != "" {
		return ip, nil
	}
	return "", governor.NewBadRequest("client_ip", "unable to determine client address", nil)
}

// PeerIP keys by the socket address, ignoring any forwarding headers.
type PeerIP struct{}

func (PeerIP) Name() string { return "peer_ip" }

func (PeerIP) Extract(c *gin.Context) (string, error) {
	return middleware.PeerIP{}.Extract(c.Request)
}

// BearerToken keys by the token of an "Authorization: Bearer" header.
type BearerToken struct{}

func (BearerToken) Name() string { return "bearer_token" }

func (BearerToken) Extract(c *gin.Context) (string, error) {
	return middleware.BearerToken{}.Extract(c.Request)
}

func (BearerToken) KeyName(token string) string { return middleware.RedactToken(token) }

// Header keys by the value of a request header.
func Header(name string) Extractor {
	inner := middleware.Header(name)
	return governor.ExtractorFunc(inner.Name(), func(c *gin.Context) (string, error) {
		return inner.Extract(c.Request)
	})
}

// Param keys by a URL parameter. An empty parameter is a BadRequest.
func Param(param string) Extractor {
	name := "param:" + param
	return governor.ExtractorFunc(name, func(c *gin.Context) (string, error) {
		if v := c.Param(param); v != "" {
			return v, nil
		}
		return "", governor.NewBadRequest(name, "missing "+param+" parameter", nil)
	})
}

// PathAndIP combines the matched route and the client IP.
var PathAndIP = governor.ExtractorFunc("path_ip", func(c *gin.Context) (string, error) {
	return c.FullPath() + ":" + c.ClientIP(), nil
})

// Global shares one bucket between every request.
var Global Extractor = governor.Global[*gin.Context]{}

// ─── Internals ───────────────────────────────────────────────────────────────

func defaultDeniedHandler(c *gin.Context, d governor.Decision) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "rate limit exceeded",
		"retry_after": d.RetryAfterSeconds(),
	})
}

func defaultExtractionErrorHandler(c *gin.Context, err *governor.ExtractionError) {
	c.AbortWithStatusJSON(middleware.ExtractionStatus(err), gin.H{"error": err.Message})
}
