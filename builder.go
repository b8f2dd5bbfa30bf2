package ratelimiter

import (
	"errors"
	"fmt"
	"time"
)

type algorithmSelection int

const (
	selectionNone algorithmSelection = iota
	selectionTokenBucket
	selectionLeakyBucket
	selectionFixedWindow
	selectionSlidingWindowLog
	selectionSlidingWindowCounter
	selectionGCRA
)

// Builder provides a fluent API for configuring a Limiter without
// constructing a Config by hand.
//
//	limiter, err := ratelimiter.NewBuilder(engine).
//	    TokenBucket(100, 10).
//	    Build()
type Builder struct {
	engine    *Engine
	selection algorithmSelection

	limit         int64
	windowSeconds int64

	capacity   int64
	refillRate float64
	lbMode     LeakyBucketMode

	gcraRate  int64
	gcraBurst int64
	gcraOpts  []EngineOption
}

// NewBuilder returns a Builder that binds the algorithm it is configured
// for against engine.
func NewBuilder(engine *Engine) *Builder {
	return &Builder{engine: engine}
}

// TokenBucket configures a Token Bucket of the given capacity and
// refillRate (tokens/second).
func (b *Builder) TokenBucket(capacity int64, refillRate float64) *Builder {
	b.selection = selectionTokenBucket
	b.capacity = capacity
	b.refillRate = refillRate
	return b
}

// LeakyBucket configures a Leaky Bucket of the given capacity and
// refillRate (leak units/second) in the given mode.
func (b *Builder) LeakyBucket(capacity int64, refillRate float64, mode LeakyBucketMode) *Builder {
	b.selection = selectionLeakyBucket
	b.capacity = capacity
	b.refillRate = refillRate
	b.lbMode = mode
	return b
}

// FixedWindow configures a Fixed Window Counter admitting limit requests
// per window.
func (b *Builder) FixedWindow(limit int64, window time.Duration) *Builder {
	b.selection = selectionFixedWindow
	b.limit = limit
	b.windowSeconds = int64(window.Seconds())
	return b
}

// SlidingWindowLog configures an exact Sliding Window Log admitting limit
// requests per window.
func (b *Builder) SlidingWindowLog(limit int64, window time.Duration) *Builder {
	b.selection = selectionSlidingWindowLog
	b.limit = limit
	b.windowSeconds = int64(window.Seconds())
	return b
}

// SlidingWindowCounter configures a Sliding Window Counter approximation
// admitting limit requests per window.
func (b *Builder) SlidingWindowCounter(limit int64, window time.Duration) *Builder {
	b.selection = selectionSlidingWindowCounter
	b.limit = limit
	b.windowSeconds = int64(window.Seconds())
	return b
}

// GCRA configures a standalone GCRA limiter (outside the engine's
// algorithm enumeration). opts are forwarded to NewGCRA, e.g. WithClock.
func (b *Builder) GCRA(rate, burst int64, opts ...EngineOption) *Builder {
	b.selection = selectionGCRA
	b.gcraRate = rate
	b.gcraBurst = burst
	b.gcraOpts = opts
	return b
}

// Build validates the selection and its parameters and returns the
// configured Limiter.
func (b *Builder) Build() (Limiter, error) {
	switch b.selection {
	case selectionTokenBucket, selectionLeakyBucket:
		if err := errors.Join(requirePositive("capacity", b.capacity), requirePositiveFloat("refill_rate", b.refillRate)); err != nil {
			return nil, err
		}
	case selectionFixedWindow, selectionSlidingWindowLog, selectionSlidingWindowCounter:
		if err := errors.Join(requirePositive("limit", b.limit), requirePositive("window_seconds", b.windowSeconds)); err != nil {
			return nil, err
		}
	}
	switch b.selection {
	case selectionTokenBucket:
		return b.engine.Bind(Config{Algorithm: TokenBucket, Capacity: b.capacity, RefillRate: b.refillRate})
	case selectionLeakyBucket:
		return b.engine.Bind(Config{Algorithm: LeakyBucket, Capacity: b.capacity, RefillRate: b.refillRate, LeakyBucketMode: b.lbMode})
	case selectionFixedWindow:
		return b.engine.Bind(Config{Algorithm: FixedWindowCounter, Limit: b.limit, WindowSeconds: b.windowSeconds})
	case selectionSlidingWindowLog:
		return b.engine.Bind(Config{Algorithm: SlidingWindowLog, Limit: b.limit, WindowSeconds: b.windowSeconds})
	case selectionSlidingWindowCounter:
		return b.engine.Bind(Config{Algorithm: SlidingWindowCounter, Limit: b.limit, WindowSeconds: b.windowSeconds})
	case selectionGCRA:
		return NewGCRA(b.gcraRate, b.gcraBurst, b.gcraOpts...)
	default:
		return nil, fmt.Errorf("ratelimiter: no algorithm selected; call TokenBucket, LeakyBucket, FixedWindow, SlidingWindowLog, SlidingWindowCounter, or GCRA before Build")
	}
}
