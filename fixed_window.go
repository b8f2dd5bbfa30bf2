package ratelimiter

import (
	"context"

	"github.com/corerate/ratelimiter/internal/keymap"
)

// fixedWindowState is the per-key state for Fixed Window Counter: the id
// of the window currently being counted and its count so far.
type fixedWindowState struct {
	windowID int64
	count    int64
	lastSeen int64
}

// fixedWindowStrategy buckets admissions by wall-clock window id
// (now_ms / window_size_ms). Known weakness, preserved per the base spec:
// up to 2*limit admissions may occur within any window_seconds interval
// that spans a window boundary.
type fixedWindowStrategy struct {
	states *keymap.Map[fixedWindowState]
}

func newFixedWindowStrategy() *fixedWindowStrategy {
	return &fixedWindowStrategy{states: keymap.New[fixedWindowState]()}
}

func (f *fixedWindowStrategy) tryAcquire(_ context.Context, now int64, key string, cfg Config) (Decision, error) {
	if err := requirePositive("limit", cfg.Limit); err != nil {
		return Decision{}, err
	}
	if err := requirePositive("window_seconds", cfg.WindowSeconds); err != nil {
		return Decision{}, err
	}

	windowSizeMs := cfg.WindowSeconds * 1000
	currentWindow := now / windowSizeMs

	var decision Decision
	f.states.WithLock(key, func(existing *fixedWindowState, set func(*fixedWindowState)) {
		state := existing
		if state == nil || state.windowID != currentWindow {
			state = &fixedWindowState{windowID: currentWindow}
		}
		state.lastSeen = now

		if state.count < cfg.Limit {
			state.count++
			decision = Decision{
				Admitted:  true,
				Remaining: cfg.Limit - state.count,
			}
		} else {
			windowEnd := (currentWindow + 1) * windowSizeMs
			retryAfter := ceilDiv(windowEnd-now, 1000)
			if retryAfter < 0 {
				retryAfter = 0
			}
			decision = Decision{
				Admitted:          false,
				RetryAfterSeconds: retryAfter,
				Message:           "fixed window exhausted",
			}
		}

		set(state)
	})
	return decision, nil
}

func (f *fixedWindowStrategy) reset(_ context.Context, key string) error {
	f.states.Delete(key)
	return nil
}

func (f *fixedWindowStrategy) evictIdleBefore(threshold int64) {
	f.states.Sweep(func(s *fixedWindowState) bool { return s.lastSeen < threshold })
}

func ceilDiv(numerator, denominator int64) int64 {
	if numerator <= 0 {
		return 0
	}
	return (numerator + denominator - 1) / denominator
}
