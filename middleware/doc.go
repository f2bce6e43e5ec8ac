// Package middleware adapts a governor.Limiter to net/http and holds the
// pieces every framework adapter shares: credential and forwarded-address
// parsing, and the Recorder that logs decisions and feeds a stats.Sink.
//
// Framework adapters live in subpackages so each framework dependency is
// opt-in:
//
//	middleware/ginmw    Gin
//	middleware/echomw   Echo
//	middleware/fibermw  Fiber
//	middleware/grpcmw   gRPC unary and stream interceptors
package middleware
