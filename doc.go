// Package ratelimiter implements a standalone rate-limiting decision
// engine: five interchangeable admission algorithms decided against a
// (key, Config) pair, independent of any transport.
//
// # Algorithms
//
//   - Token Bucket — continuous refill, burst-friendly
//   - Leaky Bucket — constant drain, policing or shaping mode
//   - Fixed Window Counter — simple, aligned time windows
//   - Sliding Window Log — exact, stores every admission timestamp
//   - Sliding Window Counter — weighted approximation, O(1) memory
//
// GCRA is available as a standalone extension ([NewGCRA]) outside the
// five-algorithm enumeration the [Engine] dispatches on.
//
// # Quick Start
//
//	engine := ratelimiter.NewEngine()
//	decision, err := engine.TryAcquire(ctx, "user:123", ratelimiter.Config{
//	    Algorithm:  ratelimiter.TokenBucket,
//	    Capacity:   100,
//	    RefillRate: 10,
//	})
//	if decision.Admitted {
//	    // serve request
//	}
//
// # Binding a fixed configuration
//
//	limiter, _ := engine.Bind(ratelimiter.Config{
//	    Algorithm: ratelimiter.SlidingWindowCounter,
//	    Limit:     100,
//	    WindowSeconds: 60,
//	})
//	decision, _ := limiter.Allow(ctx, "user:123")
//
// # Builder API
//
//	limiter, _ := ratelimiter.NewBuilder(engine).
//	    SlidingWindowCounter(100, 60*time.Second).
//	    Build()
package ratelimiter
