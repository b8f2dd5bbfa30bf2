package ratelimiter

import "context"

// Limiter is a single (algorithm, config) pair bound to one key space. It is
// the interface collaborator packages (cache, metrics, middleware, GCRA)
// depend on so they never need to know which algorithm or Config produced
// it. Like Engine, a Limiter carries no per-call weighting: every Allow
// consumes exactly one unit.
type Limiter interface {
	// Allow checks whether the request identified by key is admitted now.
	Allow(ctx context.Context, key string) (Decision, error)

	// Reset clears all state for key.
	Reset(ctx context.Context, key string) error
}

// boundLimiter adapts an Engine plus a fixed Config into a Limiter. It is
// what Engine.Bind returns.
type boundLimiter struct {
	engine *Engine
	cfg    Config
}

func (b *boundLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return b.engine.TryAcquire(ctx, key, b.cfg)
}

func (b *boundLimiter) Reset(ctx context.Context, key string) error {
	return b.engine.Reset(ctx, key, b.cfg.Algorithm)
}
