package ratelimiter

import (
	"context"

	"github.com/corerate/ratelimiter/internal/keymap"
)

// slidingWindowLogState holds the ordered queue of admission timestamps
// (milliseconds) for one key. Memory cost is O(admissions in window).
type slidingWindowLogState struct {
	timestamps []int64
}

// slidingWindowLogStrategy is exact: at any instant, exactly Limit
// admissions may occur in any sliding WindowSeconds interval.
type slidingWindowLogStrategy struct {
	states *keymap.Map[slidingWindowLogState]
}

func newSlidingWindowLogStrategy() *slidingWindowLogStrategy {
	return &slidingWindowLogStrategy{states: keymap.New[slidingWindowLogState]()}
}

func (s *slidingWindowLogStrategy) tryAcquire(_ context.Context, now int64, key string, cfg Config) (Decision, error) {
	if err := requirePositive("limit", cfg.Limit); err != nil {
		return Decision{}, err
	}
	if err := requirePositive("window_seconds", cfg.WindowSeconds); err != nil {
		return Decision{}, err
	}

	horizon := now - cfg.WindowSeconds*1000

	var decision Decision
	s.states.WithLock(key, func(existing *slidingWindowLogState, set func(*slidingWindowLogState)) {
		state := existing
		if state == nil {
			state = &slidingWindowLogState{}
		}

		cutoff := 0
		for cutoff < len(state.timestamps) && state.timestamps[cutoff] <= horizon {
			cutoff++
		}
		state.timestamps = state.timestamps[cutoff:]

		if int64(len(state.timestamps)) < cfg.Limit {
			state.timestamps = append(state.timestamps, now)
			decision = Decision{
				Admitted:  true,
				Remaining: cfg.Limit - int64(len(state.timestamps)),
			}
		} else {
			oldest := state.timestamps[0]
			retryAfter := ceilDiv((oldest+cfg.WindowSeconds*1000)-now, 1000)
			if retryAfter < 1 {
				retryAfter = 1
			}
			decision = Decision{
				Admitted:          false,
				RetryAfterSeconds: retryAfter,
				Message:           "sliding window log exhausted",
			}
		}

		set(state)
	})
	return decision, nil
}

func (s *slidingWindowLogStrategy) reset(_ context.Context, key string) error {
	s.states.Delete(key)
	return nil
}

func (s *slidingWindowLogStrategy) evictIdleBefore(threshold int64) {
	s.states.Sweep(func(st *slidingWindowLogState) bool {
		return len(st.timestamps) == 0 || st.timestamps[len(st.timestamps)-1] < threshold
	})
}
