package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/corerate/ratelimiter/store"
)

// evictor is implemented by every strategy; it is kept separate from the
// strategy interface because eviction is an engine-level extension, not
// part of the base try_acquire/reset contract.
type evictor interface {
	evictIdleBefore(threshold int64)
}

// Engine is the facade over the five admission strategies. It holds no
// per-key configuration: every TryAcquire call supplies its own Config, so
// the same Engine can serve arbitrarily many distinct (key, config) pairs
// for the same algorithm concurrently.
type Engine struct {
	strategies map[AlgorithmTag]strategy
	clock      clock

	idleTTL    time.Duration
	stopEvict  chan struct{}
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*engineConfig)

type engineConfig struct {
	clock             clock
	legacyTokenBucket bool
	idleTTL           time.Duration
	redisStore        store.Store
	redisOpts         redisOptions
}

// WithClock overrides the engine's time source. Intended for tests that
// need deterministic control over refill/leak/window arithmetic.
func WithClock(now func() int64) EngineOption {
	return func(c *engineConfig) { c.clock = now }
}

// WithLegacyTokenBucketCap restores the source behavior of capping Token
// Bucket refill at max(refill_rate*60, capacity) instead of capacity alone.
// See SPEC_FULL.md §8 Open Question 1; off by default.
func WithLegacyTokenBucketCap() EngineOption {
	return func(c *engineConfig) { c.legacyTokenBucket = true }
}

// WithIdleEviction starts a background sweep that removes per-key state
// untouched for longer than ttl, across all five strategies. Without this
// option the engine never evicts: memory grows with the number of distinct
// keys ever seen, matching the base spec's silence on eviction. The sweep
// runs every ttl/2, floored at one second.
func WithIdleEviction(ttl time.Duration) EngineOption {
	return func(c *engineConfig) { c.idleTTL = ttl }
}

// NewEngine constructs an Engine with all five strategies wired in.
func NewEngine(opts ...EngineOption) *Engine {
	cfg := &engineConfig{clock: systemClock}
	for _, opt := range opts {
		opt(cfg)
	}

	strategies := map[AlgorithmTag]strategy{
		TokenBucket:          newTokenBucketStrategy(cfg.legacyTokenBucket),
		LeakyBucket:          newLeakyBucketStrategy(),
		FixedWindowCounter:   newFixedWindowStrategy(),
		SlidingWindowLog:     newSlidingWindowLogStrategy(),
		SlidingWindowCounter: newSlidingWindowCounterStrategy(),
	}
	if cfg.redisStore != nil {
		strategies = newRedisStrategies(cfg.redisStore, cfg.redisOpts)
	}

	e := &Engine{
		strategies: strategies,
		clock:      cfg.clock,
		idleTTL:    cfg.idleTTL,
	}

	// Idle eviction only applies to in-memory state; Redis-backed strategies
	// expire their own keys via TTL and never register as an evictor.
	if cfg.idleTTL > 0 && cfg.redisStore == nil {
		e.stopEvict = make(chan struct{})
		go e.runEvictionLoop()
	}

	return e
}

// TryAcquire decides admission for key under cfg, dispatching to the
// strategy named by cfg.Algorithm. It returns ErrUnknownAlgorithm if
// cfg.Algorithm is not one of the five defined tags, and an invalid-config
// error if the algorithm's required numeric fields are missing or
// non-positive.
func (e *Engine) TryAcquire(ctx context.Context, key string, cfg Config) (Decision, error) {
	s, ok := e.strategies[cfg.Algorithm]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, cfg.Algorithm)
	}
	return s.tryAcquire(ctx, e.clock(), key, cfg)
}

// Reset clears key's state for the given algorithm. Resetting a key with
// no prior state is a no-op.
func (e *Engine) Reset(ctx context.Context, key string, algo AlgorithmTag) error {
	s, ok := e.strategies[algo]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownAlgorithm, algo)
	}
	return s.reset(ctx, key)
}

// ResetAll clears key's state across every algorithm. Useful when a
// caller doesn't track which algorithm previously rate-limited a key.
func (e *Engine) ResetAll(ctx context.Context, key string) {
	for _, s := range e.strategies {
		s.reset(ctx, key)
	}
}

// Bind returns a Limiter fixed to cfg, for collaborators (cache, metrics,
// middleware) that want a single-algorithm, single-config view of the
// engine instead of passing Config on every call.
func (e *Engine) Bind(cfg Config) (Limiter, error) {
	if _, ok := e.strategies[cfg.Algorithm]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, cfg.Algorithm)
	}
	return &boundLimiter{engine: e, cfg: cfg}, nil
}

// Close stops the idle-eviction sweep, if one was started. Safe to call on
// an Engine constructed without WithIdleEviction.
func (e *Engine) Close() {
	if e.stopEvict != nil {
		close(e.stopEvict)
	}
}

func (e *Engine) runEvictionLoop() {
	interval := e.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopEvict:
			return
		case <-ticker.C:
			threshold := e.clock() - e.idleTTL.Milliseconds()
			for _, s := range e.strategies {
				if ev, ok := s.(evictor); ok {
					ev.evictIdleBefore(threshold)
				}
			}
		}
	}
}
