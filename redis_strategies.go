package ratelimiter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/corerate/ratelimiter/store"
)

// redisOptions configures every Redis-backed strategy twin. Grounded on the
// teacher's Options.KeyPrefix/FailOpen/HashTag fields, narrowed to the
// three settings that still apply once configuration moves from per-Limiter
// construction to per-call Config (see SPEC_FULL.md §5.6).
type redisOptions struct {
	keyPrefix string
	failOpen  bool
	hashTag   bool
}

// fullKey wraps the user-supplied portion in Cluster hash-tag braces when
// hashTag is set, so every key derived from it — including the
// current/previous window pair Sliding Window Counter builds inside its
// Lua script — hashes to the same Cluster slot.
func (o redisOptions) fullKey(key string) string {
	if o.hashTag {
		return fmt.Sprintf("%s:{%s}", o.keyPrefix, key)
	}
	return fmt.Sprintf("%s:%s", o.keyPrefix, key)
}

// WithRedis switches every strategy in the Engine to a Redis-backed twin
// that coordinates admission across processes through s, instead of the
// default in-memory maps. Algorithms keep their formulas; only where the
// per-key state lives changes. Off by default — an Engine built without
// this option never makes a network call.
func WithRedis(s store.Store, opts ...RedisOption) EngineOption {
	ro := redisOptions{keyPrefix: "ratelimiter", failOpen: false}
	for _, opt := range opts {
		opt(&ro)
	}
	return func(c *engineConfig) {
		c.redisStore = s
		c.redisOpts = ro
	}
}

// RedisOption configures the distributed mode enabled by WithRedis.
type RedisOption func(*redisOptions)

// WithKeyPrefix namespaces every key this Engine writes to the store,
// matching the teacher's Options.KeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.keyPrefix = prefix }
}

// WithFailOpen admits the request when the backing store is unreachable
// instead of returning an error, matching the teacher's Options.FailOpen.
func WithFailOpen() RedisOption {
	return func(o *redisOptions) { o.failOpen = true }
}

// WithHashTag enables Redis Cluster hash-tag key wrapping, matching the
// teacher's Options.HashTag. Without it, Sliding Window Counter's
// current/previous window keys are only guaranteed to land on the same
// Cluster slot by accident; with it they share a {key} tag and always do.
func WithHashTag() RedisOption {
	return func(o *redisOptions) { o.hashTag = true }
}

func newRedisStrategies(s store.Store, ro redisOptions) map[AlgorithmTag]strategy {
	return map[AlgorithmTag]strategy{
		TokenBucket:          &redisTokenBucketStrategy{store: s, opts: ro},
		LeakyBucket:          &redisLeakyBucketStrategy{store: s, opts: ro},
		FixedWindowCounter:   &redisFixedWindowStrategy{store: s, opts: ro},
		SlidingWindowLog:     &redisSlidingWindowLogStrategy{store: s, opts: ro},
		SlidingWindowCounter: &redisSlidingWindowCounterStrategy{store: s, opts: ro},
	}
}

// ─── Token Bucket ──────────────────────────────────────────────────────────

// redisTokenBucketScript mirrors the in-memory formula in token_bucket.go:
// continuous refill to Capacity, computed lazily against the stored
// last-refill timestamp, both carried in epoch milliseconds.
const redisTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  last = now
end

local elapsed_ms = now - last
if elapsed_ms < 0 then elapsed_ms = 0 end
tokens = math.min(capacity, tokens + (elapsed_ms / 1000.0) * refill_rate)

local allowed = 0
local remaining = 0
local retry_after = 0

if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
  remaining = math.floor(tokens)
else
  local deficit = 1 - tokens
  retry_after = math.ceil(deficit / refill_rate)
  if retry_after < 1 then retry_after = 1 end
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('EXPIRE', key, math.ceil(capacity / refill_rate) + 1)

return { allowed, remaining, retry_after }
`

type redisTokenBucketStrategy struct {
	store store.Store
	opts  redisOptions
}

func (t *redisTokenBucketStrategy) tryAcquire(ctx context.Context, now int64, key string, cfg Config) (Decision, error) {
	if err := requirePositive("capacity", cfg.Capacity); err != nil {
		return Decision{}, err
	}
	if err := requirePositiveFloat("refill_rate", cfg.RefillRate); err != nil {
		return Decision{}, err
	}

	raw, err := t.store.Eval(ctx, redisTokenBucketScript, []string{t.opts.fullKey(key)}, cfg.Capacity, cfg.RefillRate, now)
	if err != nil {
		return failOpenOrWrap(t.opts, cfg.Capacity, err)
	}
	allowed, remaining, retryAfter := decodeTriple(raw)
	if allowed {
		return Decision{Admitted: true, Remaining: remaining}, nil
	}
	return Decision{Admitted: false, RetryAfterSeconds: retryAfter, Message: "token bucket empty"}, nil
}

func (t *redisTokenBucketStrategy) reset(ctx context.Context, key string) error {
	return t.store.Del(ctx, t.opts.fullKey(key))
}

// ─── Leaky Bucket (Policing) ───────────────────────────────────────────────

// redisLeakyBucketScript implements Policing mode only; Shaping mode stays
// in-memory-only (SPEC_FULL.md §5.6) since its nextFree scheduling has no
// natural atomic Redis formulation without a second round trip.
const redisLeakyBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'level', 'ts')
local level = tonumber(data[1])
local last = tonumber(data[2])
if level == nil then
  level = 0
  last = now
end

local elapsed_ms = now - last
if elapsed_ms < 0 then elapsed_ms = 0 end
local leaked = (elapsed_ms / 1000.0) * refill_rate
level = math.max(0, level - leaked)

local allowed = 0
local remaining = 0
local retry_after = 0

if level < capacity then
  level = level + 1
  allowed = 1
  remaining = math.max(0, math.floor(capacity - level))
else
  retry_after = math.ceil(1 / refill_rate)
  if retry_after < 1 then retry_after = 1 end
end

redis.call('HSET', key, 'level', tostring(level), 'ts', tostring(now))
redis.call('EXPIRE', key, math.ceil(capacity / refill_rate) + 1)

return { allowed, remaining, retry_after }
`

type redisLeakyBucketStrategy struct {
	store store.Store
	opts  redisOptions
}

func (l *redisLeakyBucketStrategy) tryAcquire(ctx context.Context, now int64, key string, cfg Config) (Decision, error) {
	if err := requirePositive("capacity", cfg.Capacity); err != nil {
		return Decision{}, err
	}
	if err := requirePositiveFloat("refill_rate", cfg.RefillRate); err != nil {
		return Decision{}, err
	}
	if cfg.LeakyBucketMode == Shaping {
		return Decision{}, invalidConfigf("leaky bucket shaping mode is not supported in Redis mode")
	}

	raw, err := l.store.Eval(ctx, redisLeakyBucketScript, []string{l.opts.fullKey(key)}, cfg.Capacity, cfg.RefillRate, now)
	if err != nil {
		return failOpenOrWrap(l.opts, cfg.Capacity, err)
	}
	allowed, remaining, retryAfter := decodeTriple(raw)
	if allowed {
		return Decision{Admitted: true, Remaining: remaining}, nil
	}
	return Decision{Admitted: false, RetryAfterSeconds: retryAfter, Message: "leaky bucket full"}, nil
}

func (l *redisLeakyBucketStrategy) reset(ctx context.Context, key string) error {
	return l.store.Del(ctx, l.opts.fullKey(key))
}

// ─── Fixed Window Counter ───────────────────────────────────────────────────

// redisFixedWindowScript keys each window by its epoch-aligned id so the
// counter resets for free when the window rolls over: a new window id is a
// new Redis key, expired by the window length.
const redisFixedWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_seconds = tonumber(ARGV[2])

local count = redis.call('INCR', key)
if count == 1 then
  redis.call('EXPIRE', key, window_seconds)
end

local ttl = redis.call('TTL', key)
if ttl < 0 then ttl = window_seconds end

if count <= limit then
  return { 1, limit - count, ttl }
end
return { 0, 0, ttl }
`

type redisFixedWindowStrategy struct {
	store store.Store
	opts  redisOptions
}

func (f *redisFixedWindowStrategy) tryAcquire(ctx context.Context, now int64, key string, cfg Config) (Decision, error) {
	if err := requirePositive("limit", cfg.Limit); err != nil {
		return Decision{}, err
	}
	if err := requirePositive("window_seconds", cfg.WindowSeconds); err != nil {
		return Decision{}, err
	}

	windowID := now / (cfg.WindowSeconds * 1000)
	fullKey := fmt.Sprintf("%s:%d", f.opts.fullKey(key), windowID)

	raw, err := f.store.Eval(ctx, redisFixedWindowScript, []string{fullKey}, cfg.Limit, cfg.WindowSeconds)
	if err != nil {
		return failOpenOrWrap(f.opts, cfg.Limit, err)
	}
	allowed, remaining, retryAfter := decodeTriple(raw)
	if allowed {
		return Decision{Admitted: true, Remaining: remaining}, nil
	}
	return Decision{Admitted: false, RetryAfterSeconds: retryAfter, Message: "fixed window exhausted"}, nil
}

func (f *redisFixedWindowStrategy) reset(ctx context.Context, key string) error {
	// The current window's key is unknown without now; callers resetting a
	// Redis-backed fixed window should let the window's own TTL expire it,
	// or delete key:<windowID> directly if the window id is known.
	return nil
}

// ─── Sliding Window Log ─────────────────────────────────────────────────────

// redisSlidingWindowLogScript keeps the exact timestamp log in a sorted
// set, trimming entries older than the window before counting, matching
// sliding_window_log.go's semantics.
const redisSlidingWindowLogScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]

local horizon = now - window_ms
redis.call('ZREMRANGEBYSCORE', key, '-inf', horizon)

local count = redis.call('ZCARD', key)
local allowed = 0
local remaining = 0
local retry_after = 0

if count < limit then
  redis.call('ZADD', key, now, member)
  allowed = 1
  remaining = limit - count - 1
else
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local oldest_ts = tonumber(oldest[2])
  retry_after = math.ceil(((oldest_ts + window_ms) - now) / 1000)
  if retry_after < 1 then retry_after = 1 end
end

redis.call('EXPIRE', key, math.ceil(window_ms / 1000) + 1)

return { allowed, remaining, retry_after }
`

type redisSlidingWindowLogStrategy struct {
	store   store.Store
	opts    redisOptions
	counter atomic.Uint64
}

func (s *redisSlidingWindowLogStrategy) tryAcquire(ctx context.Context, now int64, key string, cfg Config) (Decision, error) {
	if err := requirePositive("limit", cfg.Limit); err != nil {
		return Decision{}, err
	}
	if err := requirePositive("window_seconds", cfg.WindowSeconds); err != nil {
		return Decision{}, err
	}

	member := fmt.Sprintf("%d-%d", now, s.counter.Add(1))

	raw, err := s.store.Eval(ctx, redisSlidingWindowLogScript, []string{s.opts.fullKey(key)},
		cfg.Limit, cfg.WindowSeconds*1000, now, member)
	if err != nil {
		return failOpenOrWrap(s.opts, cfg.Limit, err)
	}
	allowed, remaining, retryAfter := decodeTriple(raw)
	if allowed {
		return Decision{Admitted: true, Remaining: remaining}, nil
	}
	return Decision{Admitted: false, RetryAfterSeconds: retryAfter, Message: "sliding window log exhausted"}, nil
}

func (s *redisSlidingWindowLogStrategy) reset(ctx context.Context, key string) error {
	return s.store.Del(ctx, s.opts.fullKey(key))
}

// ─── Sliding Window Counter ──────────────────────────────────────────────────

// redisSlidingWindowCounterScript stores the current window's count under
// key:<windowID> and reads the previous window's count from
// key:<windowID-1>, blending them exactly like sliding_window_counter.go.
const redisSlidingWindowCounterScript = `
local prefix = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local window_id = tonumber(ARGV[4])

local current_key = prefix .. ':' .. tostring(window_id)
local previous_key = prefix .. ':' .. tostring(window_id - 1)

local current = tonumber(redis.call('GET', current_key)) or 0
local previous = tonumber(redis.call('GET', previous_key)) or 0

local window_start = window_id * window_ms
local position = (now - window_start) / window_ms
local weighted = previous * (1 - position) + current

local allowed = 0
local remaining = 0
local retry_after = 0

if weighted < limit then
  current = redis.call('INCR', current_key)
  redis.call('EXPIRE', current_key, math.ceil(window_ms / 1000) * 2)
  remaining = math.max(0, limit - math.ceil(weighted) - 1)
  allowed = 1
else
  retry_after = math.ceil((window_start + window_ms - now) / 1000)
  if retry_after < 1 then retry_after = 1 end
end

return { allowed, remaining, retry_after }
`

type redisSlidingWindowCounterStrategy struct {
	store store.Store
	opts  redisOptions
}

func (s *redisSlidingWindowCounterStrategy) tryAcquire(ctx context.Context, now int64, key string, cfg Config) (Decision, error) {
	if err := requirePositive("limit", cfg.Limit); err != nil {
		return Decision{}, err
	}
	if err := requirePositive("window_seconds", cfg.WindowSeconds); err != nil {
		return Decision{}, err
	}

	windowSizeMs := cfg.WindowSeconds * 1000
	windowID := now / windowSizeMs

	raw, err := s.store.Eval(ctx, redisSlidingWindowCounterScript, []string{s.opts.fullKey(key)},
		cfg.Limit, windowSizeMs, now, windowID)
	if err != nil {
		return failOpenOrWrap(s.opts, cfg.Limit, err)
	}
	allowed, remaining, retryAfter := decodeTriple(raw)
	if allowed {
		return Decision{Admitted: true, Remaining: remaining}, nil
	}
	return Decision{Admitted: false, RetryAfterSeconds: retryAfter, Message: "sliding window counter exhausted"}, nil
}

func (s *redisSlidingWindowCounterStrategy) reset(ctx context.Context, key string) error {
	// Both the current and previous windowed keys expire on their own; an
	// explicit reset would need the current window id, which reset's
	// key-only signature does not carry.
	return nil
}

// ─── Shared helpers ──────────────────────────────────────────────────────────

// decodeTriple reads the { allowed, remaining, retry_after } shape every
// script above returns. Eval backends decode Lua integers as int64.
func decodeTriple(raw interface{}) (allowed bool, remaining, retryAfter int64) {
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return false, 0, 1
	}
	a, _ := vals[0].(int64)
	r, _ := vals[1].(int64)
	ra, _ := vals[2].(int64)
	return a == 1, r, ra
}

func failOpenOrWrap(opts redisOptions, budget int64, err error) (Decision, error) {
	if opts.failOpen {
		return Decision{Admitted: true, Remaining: budget - 1}, nil
	}
	return Decision{}, fmt.Errorf("ratelimiter: redis error: %w", err)
}
