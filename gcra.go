package ratelimiter

import (
	"context"
	"math"

	"github.com/corerate/ratelimiter/internal/keymap"
)

// NewGCRA builds a Generic Cell Rate Algorithm Limiter: rate is the
// sustained admissions per second, burst is the maximum instantaneous
// burst. GCRA is not part of the five-algorithm enumeration the engine
// dispatches on (SPEC_FULL.md §8 Open Question 5); it is an independent
// extension that satisfies the same bound Limiter interface as
// Engine.Bind, so it drops into cache/metrics/middleware unchanged.
func NewGCRA(rate, burst int64, opts ...EngineOption) (Limiter, error) {
	if rate <= 0 {
		return nil, invalidConfigf("rate must be positive, got %d", rate)
	}
	if burst <= 0 {
		return nil, invalidConfigf("burst must be positive, got %d", burst)
	}

	cfg := &engineConfig{clock: systemClock}
	for _, opt := range opts {
		opt(cfg)
	}

	emissionInterval := 1.0 / float64(rate)
	burstAllowance := float64(burst-1) * emissionInterval

	return &gcraLimiter{
		states:           keymap.New[gcraState](),
		clock:            cfg.clock,
		emissionInterval: emissionInterval,
		burstAllowance:   burstAllowance,
		burst:            burst,
	}, nil
}

type gcraState struct {
	tat float64 // theoretical arrival time, in fractional seconds
}

type gcraLimiter struct {
	states           *keymap.Map[gcraState]
	clock            clock
	emissionInterval float64
	burstAllowance   float64
	burst            int64
}

func (g *gcraLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	nowMs := g.clock()
	now := float64(nowMs) / 1000

	var decision Decision
	g.states.WithLock(key, func(existing *gcraState, set func(*gcraState)) {
		state := existing
		if state == nil {
			state = &gcraState{}
		}

		tat := math.Max(state.tat, now)
		newTAT := tat + g.emissionInterval
		diff := newTAT - now

		if diff <= g.burstAllowance+g.emissionInterval {
			state.tat = newTAT
			remaining := int64(math.Floor((g.burstAllowance - diff + g.emissionInterval) / g.emissionInterval))
			decision = Decision{Admitted: true, Remaining: remaining}
		} else {
			retryAfter := int64(math.Ceil(diff - g.burstAllowance))
			if retryAfter < 1 {
				retryAfter = 1
			}
			decision = Decision{Admitted: false, RetryAfterSeconds: retryAfter, Message: "gcra: arrival too early"}
		}

		set(state)
	})
	return decision, nil
}

func (g *gcraLimiter) Reset(ctx context.Context, key string) error {
	g.states.Delete(key)
	return nil
}
