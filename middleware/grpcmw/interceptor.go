// Package grpcmw provides gRPC server interceptors for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in google.golang.org/grpc.
//
// Usage:
//
//	gov, _ := governor.NewBuilder[string]().PerSecond(100).Burst(20).Build()
//	server := grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(grpcmw.UnaryServerInterceptor(gov, grpcmw.PeerIP{})),
//	    grpc.ChainStreamInterceptor(grpcmw.StreamServerInterceptor(gov, grpcmw.PeerIP{})),
//	)
package grpcmw

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/krishna-kudari/governor"
	"github.com/krishna-kudari/governor/middleware"
	"github.com/krishna-kudari/governor/stats"
)

// Call is what an Extractor sees of an RPC: its context (peer and incoming
// metadata) and the full method name.
type Call struct {
	Ctx        context.Context
	FullMethod string
	Stream     bool
}

// Extractor derives the rate limiting key from an RPC.
type Extractor = governor.KeyExtractor[Call, string]

// DeniedHandler produces the gRPC error returned when a request is rate limited.
// Default: codes.ResourceExhausted with a RetryInfo detail.
type DeniedHandler func(ctx context.Context, d governor.Decision) error

// ExtractionErrorHandler produces the gRPC error returned when no key could be
// extracted. Default: codes.Unauthenticated or codes.InvalidArgument.
type ExtractionErrorHandler func(ctx context.Context, err *governor.ExtractionError) error

// Config holds full configuration for gRPC rate limit interceptors.
type Config struct {
	// Limiter rules on each key (required).
	Limiter governor.Limiter[string]

	// Extractor derives the rate limit key for unary and streaming RPCs (required).
	Extractor Extractor

	// Name labels this limiter in logs and stats. Default: the extractor's name.
	Name string

	// DeniedHandler produces the error returned on denial.
	DeniedHandler DeniedHandler

	// ExtractionErrorHandler produces the error returned on extraction failure.
	ExtractionErrorHandler ExtractionErrorHandler

	// ExcludeMethods are full method names (e.g. "/pkg.Service/Method")
	// that bypass rate limiting.
	ExcludeMethods map[string]bool

	// Headers controls whether rate limit metadata is sent in response headers.
	// Default: true.
	Headers *bool

	Logger *slog.Logger
	Stats  stats.Sink
}

// checker is the shared admission path of both interceptor kinds.
type checker struct {
	cfg         Config
	sendHeaders bool
	rec         *middleware.Recorder
}

func newChecker(cfg Config) *checker {
	if cfg.Limiter == nil {
		panic("grpcmw: Limiter is required")
	}
	if cfg.Extractor == nil {
		panic("grpcmw: Extractor is required")
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
	return &checker{
		cfg:         cfg,
		sendHeaders: cfg.Headers == nil || *cfg.Headers,
		rec:         middleware.NewRecorder(cfg.Name, cfg.Logger, cfg.Stats),
	}
}

// check returns nil when the call may proceed.
func (c *checker) check(call Call) error {
	if c.cfg.ExcludeMethods[call.FullMethod] {
		return nil
	}
	ctx := call.Ctx

	key, err := c.cfg.Extractor.Extract(call)
	if err != nil {
		ee := governor.AsExtractionError(c.cfg.Extractor.Name(), err)
		c.rec.Rejected(ctx, ee, "grpc", call.FullMethod)
		return c.cfg.ExtractionErrorHandler(ctx, ee)
	}

	d := c.cfg.Limiter.Check(key)
	name := governor.KeyName(c.cfg.Extractor, key)

	md := metadata.MD{}
	set := func(k, v string) { md.Set(k, v) }
	if c.sendHeaders {
		d.SetQuotaHeaders(set)
	}
	if !d.Allowed {
		d.SetRetryHeaders(set)
	}
	if len(md) > 0 {
		_ = grpc.SetHeader(ctx, md)
	}

	if !d.Allowed {
		c.rec.Denied(ctx, name, "grpc", call.FullMethod, d)
		return c.cfg.DeniedHandler(ctx, d)
	}
	c.rec.Allowed(ctx, name, "grpc", call.FullMethod)
	return nil
}

// ─── Unary Interceptors ──────────────────────────────────────────────────────

// UnaryServerInterceptor creates a unary server interceptor with default settings.
func UnaryServerInterceptor(limiter governor.Limiter[string], extractor Extractor) grpc.UnaryServerInterceptor {
	return UnaryServerInterceptorWithConfig(Config{
		Limiter:   limiter,
		Extractor: extractor,
	})
}

// UnaryServerInterceptorWithConfig creates a unary server interceptor with full
// configuration control.
func UnaryServerInterceptorWithConfig(cfg Config) grpc.UnaryServerInterceptor {
	c := newChecker(cfg)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := c.check(Call{Ctx: ctx, FullMethod: info.FullMethod}); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// ─── Stream Interceptors ─────────────────────────────────────────────────────

// StreamServerInterceptor creates a stream server interceptor with default settings.
// One permit is taken per stream, not per message.
func StreamServerInterceptor(limiter governor.Limiter[string], extractor Extractor) grpc.StreamServerInterceptor {
	return StreamServerInterceptorWithConfig(Config{
		Limiter:   limiter,
		Extractor: extractor,
	})
}

// StreamServerInterceptorWithConfig creates a stream server interceptor with full
// configuration control.
func StreamServerInterceptorWithConfig(cfg Config) grpc.StreamServerInterceptor {
	c := newChecker(cfg)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := c.check(Call{Ctx: ss.Context(), FullMethod: info.FullMethod, Stream: true}); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// PeerIP keys by the IP of the remote peer.
type PeerIP struct{}

func (PeerIP) Name() string { return "peer_ip" }

func (PeerIP) Extract(call Call) (string, error) {
	if ip := peerIP(call.Ctx); ip != "" {
		return ip, nil
	}
	return "", governor.NewBadRequest("peer_ip", "unable to determine peer address", nil)
}

// SmartIP checks forwarding metadata set by a gateway (x-forwarded-for,
// x-real-ip, forwarded) before falling back to the peer.
type SmartIP struct{}

func (SmartIP) Name() string { return "smart_ip" }

func (SmartIP) Extract(call Call) (string, error) {
	get := func(name string) string { return metadataValue(call.Ctx, name) }
	if ip := middleware.ForwardedIP(get); ip != "" {
		return ip, nil
	}
	return PeerIP{}.Extract(call)
}

// BearerToken keys by the token of an "authorization: Bearer" metadata entry.
type BearerToken struct{}

func (BearerToken) Name() string { return "bearer_token" }

func (BearerToken) Extract(call Call) (string, error) {
	token, ok := middleware.ParseBearer(metadataValue(call.Ctx, "authorization"))
	if !ok {
		return "", governor.NewUnauthenticated("bearer_token", middleware.UnauthorizedMessage)
	}
	return token, nil
}

func (BearerToken) KeyName(token string) string { return middleware.RedactToken(token) }

// Metadata keys by the first value of an incoming metadata entry.
// A missing entry is a BadRequest.
func Metadata(key string) Extractor {
	key = strings.ToLower(key)
	name := "metadata:" + key
	return governor.ExtractorFunc(name, func(call Call) (string, error) {
		if v := metadataValue(call.Ctx, key); v != "" {
			return v, nil
		}
		return "", governor.NewBadRequest(name, "missing "+key+" metadata", nil)
	})
}

// MethodAndPeer keys by "method:peer", giving each caller a bucket per method.
var MethodAndPeer = governor.ExtractorFunc("method_peer", func(call Call) (string, error) {
	ip, err := PeerIP{}.Extract(call)
	if err != nil {
		return "", err
	}
	return call.FullMethod + ":" + ip, nil
})

// Global shares one bucket between every RPC.
var Global Extractor = governor.Global[Call]{}

// ExtractionCode maps an extraction failure to its gRPC status code.
func ExtractionCode(err *governor.ExtractionError) codes.Code {
	if err.Kind == governor.Unauthenticated {
		return codes.Unauthenticated
	}
	return codes.InvalidArgument
}

// ─── Internals ───────────────────────────────────────────────────────────────

func metadataValue(ctx context.Context, key string) string {
	if vals := metadata.ValueFromIncomingContext(ctx, key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func defaultDeniedHandler(_ context.Context, d governor.Decision) error {
	st := status.New(codes.ResourceExhausted,
		"rate limit exceeded, retry after "+strconv.FormatInt(d.RetryAfterSeconds(), 10)+"s")
	if detailed, err := st.WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(d.RetryAfter)}); err == nil {
		st = detailed
	}
	return st.Err()
}

func defaultExtractionErrorHandler(_ context.Context, err *governor.ExtractionError) error {
	return status.Error(ExtractionCode(err), err.Message)
}
