// Package fibermw provides Fiber middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/gofiber/fiber. Fiber uses fasthttp (not net/http),
// so a dedicated adapter is required.
//
// Usage:
//
//	gov, _ := governor.NewBuilder[string]().PerSecond(20).Burst(5).Build()
//	app := fiber.New()
//	app.Use(fibermw.RateLimit(gov, fibermw.IP{}))
package fibermw

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/krishna-kudari/governor"
	"github.com/krishna-kudari/governor/middleware"
	"github.com/krishna-kudari/governor/stats"
)

// Extractor derives the rate limiting key from a Fiber context.
type Extractor = governor.KeyExtractor[*fiber.Ctx, string]

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c *fiber.Ctx, d governor.Decision) error

// ExtractionErrorHandler is called when no key could be extracted.
type ExtractionErrorHandler func(c *fiber.Ctx, err *governor.ExtractionError) error

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

	// Next bypasses rate limiting when it returns true.
	Next func(c *fiber.Ctx) bool

	// ExcludePaths are request paths that bypass rate limiting.
	ExcludePaths map[string]bool

	// Headers controls whether X-RateLimit-* headers are set.
	// Default: true.
	Headers *bool

	Logger *slog.Logger
	Stats  stats.Sink
}

// RateLimit creates Fiber middleware with default settings.
func RateLimit(limiter governor.Limiter[string], extractor Extractor) fiber.Handler {
	return RateLimitWithConfig(Config{
		Limiter:   limiter,
		Extractor: extractor,
	})
}

// RateLimitWithConfig creates Fiber middleware with full configuration control.
func RateLimitWithConfig(cfg Config) fiber.Handler {
	if cfg.Limiter == nil {
		panic("fibermw: Limiter is required")
	}
	if cfg.Extractor == nil {
		panic("fibermw: Extractor is required")
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

	return func(c *fiber.Ctx) error {
		if cfg.ExcludePaths[c.Path()] || (cfg.Next != nil && cfg.Next(c)) {
			return c.Next()
		}
		ctx := c.UserContext()
		// fasthttp reuses request buffers; copy before they escape into stats.
		method, path := c.Method(), copyString(c.Path())

		key, err := cfg.Extractor.Extract(c)
		if err != nil {
			ee := governor.AsExtractionError(cfg.Extractor.Name(), err)
			rec.Rejected(ctx, ee, method, path)
			return cfg.ExtractionErrorHandler(c, ee)
		}
		key = copyString(key)

		d := cfg.Limiter.Check(key)
		name := governor.KeyName(cfg.Extractor, key)

		if sendHeaders {
			d.SetQuotaHeaders(c.Set)
		}
		if !d.Allowed {
			d.SetRetryHeaders(c.Set)
			rec.Denied(ctx, name, method, path, d)
			return cfg.DeniedHandler(c, d)
		}

		rec.Allowed(ctx, name, method, path)
		return c.Next()
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// IP uses Fiber's c.IP(), which honours the app's ProxyHeader setting.
type IP struct{}

func (IP) Name() string { return "ip" }

func (IP) Extract(c *fiber.Ctx) (string, error) {
	if ip := c.IP(); ip != "" {
		return ip, nil
	}
	return "", governor.NewBadRequest("ip", "unable to determine client address", nil)
}

// SmartIP checks Forwarded, X-Forwarded-For and X-Real-IP before falling back
// to the peer address.
type SmartIP struct{}

func (SmartIP) Name() string { return "smart_ip" }

func (SmartIP) Extract(c *fiber.Ctx) (string, error) {
	if ip := middleware.ForwardedIP(func(name string) string { return c.Get(name) }); ip != "" {
		return ip, nil
	}
	return IP{}.Extract(c)
}

// BearerToken keys by the token of an "Authorization: Bearer" header.
type BearerToken struct{}

func (BearerToken) Name() string { return "bearer_token" }

func (BearerToken) Extract(c *fiber.Ctx) (string, error) {
	token, ok := middleware.ParseBearer(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return "", governor.NewUnauthenticated("bearer_token", middleware.UnauthorizedMessage)
	}
	return token, nil
}

func (BearerToken) KeyName(token string) string { return middleware.RedactToken(token) }

// Header keys by the value of a request header.
func Header(header string) Extractor {
	name := "header:" + header
	return governor.ExtractorFunc(name, func(c *fiber.Ctx) (string, error) {
		if v := c.Get(header); v != "" {
			return v, nil
		}
		return "", governor.NewBadRequest(name, "missing "+header+" header", nil)
	})
}

// Param keys by a route parameter. An empty parameter is a BadRequest.
func Param(param string) Extractor {
	name := "param:" + param
	return governor.ExtractorFunc(name, func(c *fiber.Ctx) (string, error) {
		if v := c.Params(param); v != "" {
			return v, nil
		}
		return "", governor.NewBadRequest(name, "missing "+param+" parameter", nil)
	})
}

// PathAndIP combines the request path and client IP.
var PathAndIP = governor.ExtractorFunc("path_ip", func(c *fiber.Ctx) (string, error) {
	return c.Path() + ":" + c.IP(), nil
})

// Global shares one bucket between every request.
var Global Extractor = governor.Global[*fiber.Ctx]{}

// ─── Internals ───────────────────────────────────────────────────────────────

func copyString(s string) string {
	return string([]byte(s))
}

func defaultDeniedHandler(c *fiber.Ctx, d governor.Decision) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       "rate limit exceeded",
		"retry_after": d.RetryAfterSeconds(),
	})
}

func defaultExtractionErrorHandler(c *fiber.Ctx, err *governor.ExtractionError) error {
	return c.Status(middleware.ExtractionStatus(err)).JSON(fiber.Map{"error": err.Message})
}
