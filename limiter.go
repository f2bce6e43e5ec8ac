package governor

// Limiter is anything that can rule on a key. *Governor implements it, and
// wrappers such as metrics.Wrap preserve it.
type Limiter[K comparable] interface {
	Check(key K) Decision
}

// WeightedLimiter rules on requests that cost more than one permit.
type WeightedLimiter[K comparable] interface {
	CheckN(key K, n uint32) (Decision, error)
}

// Resetter can drop the state held for a key.
type Resetter[K comparable] interface {
	Reset(key K)
}

// Sizer reports how many keys currently hold state.
type Sizer interface {
	Len() int
}

var (
	_ Limiter[string]         = (*Governor[string])(nil)
	_ WeightedLimiter[string] = (*Governor[string])(nil)
	_ Resetter[string]        = (*Governor[string])(nil)
	_ Sizer                   = (*Governor[string])(nil)
)
