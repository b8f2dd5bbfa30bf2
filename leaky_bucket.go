package ratelimiter

import (
	"context"
	"fmt"
	"math"

	"github.com/corerate/ratelimiter/internal/keymap"
)

// leakyBucketState is the per-key state for Leaky Bucket. level is used in
// Policing mode; nextFree is used in Shaping mode (see LeakyBucketMode).
type leakyBucketState struct {
	level    float64
	lastLeak int64
	nextFree int64
}

// leakyBucketStrategy is fill-on-admit, drain-continuous: it never
// accumulates credit beyond empty, so unlike Token Bucket it cannot pass
// bursts — the steady-state admit rate equals RefillRate (the leak rate).
type leakyBucketStrategy struct {
	states *keymap.Map[leakyBucketState]
}

func newLeakyBucketStrategy() *leakyBucketStrategy {
	return &leakyBucketStrategy{states: keymap.New[leakyBucketState]()}
}

func (l *leakyBucketStrategy) tryAcquire(_ context.Context, now int64, key string, cfg Config) (Decision, error) {
	if err := requirePositive("capacity", cfg.Capacity); err != nil {
		return Decision{}, err
	}
	if err := requirePositiveFloat("refill_rate", cfg.RefillRate); err != nil {
		return Decision{}, err
	}

	if cfg.LeakyBucketMode == Shaping {
		return l.tryAcquireShaping(now, key, cfg)
	}
	return l.tryAcquirePolicing(now, key, cfg)
}

func (l *leakyBucketStrategy) tryAcquirePolicing(now int64, key string, cfg Config) (Decision, error) {
	var decision Decision
	l.states.WithLock(key, func(existing *leakyBucketState, set func(*leakyBucketState)) {
		state := existing
		if state == nil {
			state = &leakyBucketState{lastLeak: now, nextFree: now}
		}

		elapsed := sinceMillis(now, state.lastLeak)
		if elapsed > 0 {
			leaked := float64(elapsed) / 1000 * cfg.RefillRate
			state.level = math.Max(0, state.level-leaked)
			state.lastLeak = now
		}

		capacity := float64(cfg.Capacity)
		if state.level < capacity {
			state.level++
			decision = Decision{
				Admitted:  true,
				Remaining: int64(math.Max(0, math.Floor(capacity-state.level))),
			}
		} else {
			retryAfter := int64(math.Ceil(1 / cfg.RefillRate))
			if retryAfter < 1 {
				retryAfter = 1
			}
			decision = Decision{
				Admitted:          false,
				RetryAfterSeconds: retryAfter,
				Message:           "leaky bucket full",
			}
		}

		set(state)
	})
	return decision, nil
}

// tryAcquireShaping never rejects while the projected queue depth stays
// within Capacity: it queues the request rather than dropping it, reporting
// the processing delay in Message instead of RetryAfterSeconds — Admitted
// and RetryAfterSeconds==0 still travel together, as for every other
// strategy (SPEC_FULL §8.6).
func (l *leakyBucketStrategy) tryAcquireShaping(now int64, key string, cfg Config) (Decision, error) {
	var decision Decision
	l.states.WithLock(key, func(existing *leakyBucketState, set func(*leakyBucketState)) {
		state := existing
		if state == nil {
			state = &leakyBucketState{lastLeak: now, nextFree: now}
		}
		if state.nextFree < now {
			state.nextFree = now
		}

		delayMs := state.nextFree - now
		queueDepth := float64(delayMs) / 1000 * cfg.RefillRate
		capacity := float64(cfg.Capacity)

		if queueDepth+1 <= capacity {
			unitDelayMs := int64(math.Round(1 / cfg.RefillRate * 1000))
			state.nextFree += unitDelayMs
			decision = Decision{
				Admitted:  true,
				Remaining: int64(math.Max(0, math.Floor(capacity-queueDepth-1))),
				Message:   fmt.Sprintf("queued, processed in %dms", delayMs),
			}
		} else {
			retryAfter := int64(math.Ceil((queueDepth + 1 - capacity) / cfg.RefillRate))
			if retryAfter < 1 {
				retryAfter = 1
			}
			decision = Decision{
				Admitted:          false,
				RetryAfterSeconds: retryAfter,
				Message:           "leaky bucket queue full",
			}
		}

		set(state)
	})
	return decision, nil
}

func (l *leakyBucketStrategy) reset(_ context.Context, key string) error {
	l.states.Delete(key)
	return nil
}

func (l *leakyBucketStrategy) evictIdleBefore(threshold int64) {
	// Shaping mode advances nextFree rather than lastLeak on each call.
	l.states.Sweep(func(s *leakyBucketState) bool { return max(s.lastLeak, s.nextFree) < threshold })
}
