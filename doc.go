// Package governor decides, per request, whether a caller identified by a key
// may proceed. It is the admission core behind the middleware in
// [github.com/krishna-kudari/governor/middleware] and its framework siblings.
//
// # Algorithm
//
// Every key owns a continuous token bucket (equivalent to GCRA). A bucket
// holds at most Burst permits, starts full, and regains one permit every
// Period with fractional accounting, so request spacing never biases the
// rate. A denied check reports exactly how long until a permit is available.
//
// # Quick Start
//
//	q, err := governor.PerSecond(2, 5) // 2/s sustained, bursts of 5
//	if err != nil {
//	    log.Fatal(err)
//	}
//	g, err := governor.New[string](q)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer g.Close()
//
//	d := g.Check("user:123")
//	if !d.Allowed {
//	    // reject, telling the client to come back after d.RetryAfter
//	}
//
// # Builder API
//
//	g, _ := governor.NewBuilder[string]().
//	    PerSecond(20).
//	    Burst(5).
//	    IdleTTL(10 * time.Minute).
//	    Build()
//
// # Keys
//
// Keys are any comparable type. Adapters derive them with a [KeyExtractor];
// extraction failures are [ExtractionError] values and never consume a
// permit. Rate limiting itself is not an error: it is a [Decision] with
// Allowed false.
//
// # Concurrency
//
// Checks on one key are serialized by that key's bucket lock, so N
// concurrent checks on a fresh key admit exactly Burst of them. Lookups of
// existing keys take no shared lock.
package governor
