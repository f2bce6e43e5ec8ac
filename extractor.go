package governor

import "fmt"

// KeyExtractor derives the rate limiting key from a request of type R.
//
// Implementations are interchangeable values: adapters accept any of them.
// A failing Extract should return an *ExtractionError so the adapter can
// answer with the right status; the failed request consumes no permit.
type KeyExtractor[R any, K comparable] interface {
	// Name identifies the extractor in logs and errors.
	Name() string
	Extract(req R) (K, error)
}

// KeyNamer is implemented by extractors whose keys should not be logged
// verbatim, such as credentials.
type KeyNamer[K comparable] interface {
	KeyName(key K) string
}

// KeyName returns a loggable name for key, using ex's KeyNamer if it has one.
func KeyName[R any, K comparable](ex KeyExtractor[R, K], key K) string {
	if n, ok := ex.(KeyNamer[K]); ok {
		return n.KeyName(key)
	}
	return fmt.Sprint(key)
}

// ExtractorFunc adapts a plain function into a named KeyExtractor.
func ExtractorFunc[R any, K comparable](name string, fn func(R) (K, error)) KeyExtractor[R, K] {
	return funcExtractor[R, K]{name: name, fn: fn}
}

type funcExtractor[R any, K comparable] struct {
	name string
	fn   func(R) (K, error)
}

func (f funcExtractor[R, K]) Name() string { return f.name }

func (f funcExtractor[R, K]) Extract(req R) (K, error) { return f.fn(req) }

// Global keys every request identically, so one bucket is shared by all
// callers.
type Global[R any] struct{}

// GlobalKey is the key returned by Global.
const GlobalKey = "global"

func (Global[R]) Name() string { return "global" }

func (Global[R]) Extract(R) (string, error) { return GlobalKey, nil }
