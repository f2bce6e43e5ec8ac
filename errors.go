package governor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig is wrapped by every construction-time error. It is fatal
	// to startup: fix the configuration and construct again.
	ErrInvalidConfig = errors.New("governor: invalid config")

	// ErrRateLimited matches the error returned by Decision.Err for a denial.
	ErrRateLimited = errors.New("governor: rate limited")

	// ErrExtraction matches every *ExtractionError.
	ErrExtraction = errors.New("governor: key extraction failed")

	// ErrInsufficientCapacity is returned by CheckN when n exceeds the burst
	// size. Such a request can never be admitted, however long the caller waits.
	ErrInsufficientCapacity = errors.New("governor: cost exceeds burst size")
)

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// ─── Extraction ──────────────────────────────────────────────────────────────

// ExtractionErrorKind classifies why a key could not be derived from a request.
// Adapters map it to a protocol status that differs from the rate-limited one.
type ExtractionErrorKind int

const (
	// BadRequest means the request was malformed (e.g. an unparsable address).
	BadRequest ExtractionErrorKind = iota
	// Unauthenticated means a required credential was missing or malformed.
	Unauthenticated
)

func (k ExtractionErrorKind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "bad_request"
	}
}

// ExtractionError is returned by a KeyExtractor that cannot produce a key.
// It never consumes a permit.
type ExtractionError struct {
	// Extractor is the Name() of the failing extractor.
	Extractor string
	Kind      ExtractionErrorKind
	// Message is safe to show to the client.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("governor: %s extractor: %s", e.Extractor, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// NewUnauthenticated builds an Unauthenticated ExtractionError.
func NewUnauthenticated(extractor, message string) *ExtractionError {
	return &ExtractionError{Extractor: extractor, Kind: Unauthenticated, Message: message}
}

// NewBadRequest builds a BadRequest ExtractionError wrapping cause.
func NewBadRequest(extractor, message string, cause error) *ExtractionError {
	return &ExtractionError{Extractor: extractor, Kind: BadRequest, Message: message, Err: cause}
}

// AsExtractionError classifies any error returned by an extractor. Errors that
// are not an *ExtractionError are reported as BadRequest from extractor.
func AsExtractionError(extractor string, err error) *ExtractionError {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}
	return NewBadRequest(extractor, "unable to extract key", err)
}

// ─── Rate limited ────────────────────────────────────────────────────────────

// RateLimitedError is the structured rejection for a denied Decision.
type RateLimitedError struct {
	RetryAfter time.Duration
	Limit      int64
	Remaining  int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("governor: rate limited, retry after %v", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
