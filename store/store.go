// Package store defines the backend contract that Redis-mode rate limiting
// needs.
//
// The in-memory strategies (the Engine's default) never touch a Store at
// all — they hold state directly in an internal/keymap map. Store only
// matters once WithRedis is in play: every Redis-backed strategy twin
// reaches the shared backend through exactly two operations, atomic script
// evaluation and key deletion, so that's all this interface asks for.
//
// The primary implementation is store/redis, wrapping redis.UniversalClient
// (standalone, Cluster, or Sentinel). store/memory is a scripting-incapable
// stand-in for tests and demos that want to exercise the Redis code path
// without a Redis server.
package store

import "context"

// Store abstracts the backend a Redis-mode Engine coordinates admission
// through. Implementations must be safe for concurrent use.
type Store interface {
	// Eval executes a Lua script atomically with the given keys and args
	// and returns its result. Every redis-backed strategy's admission
	// decision is computed inside one of these scripts, so the whole
	// check-and-increment stays atomic even under concurrent callers.
	// Implementations that can't run scripts (store/memory) return
	// ErrScriptNotSupported.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)

	// Del deletes one or more keys. Used by Reset, which clears a key's
	// entire admission state in one call.
	Del(ctx context.Context, keys ...string) error
}

// ErrScriptNotSupported is returned by Eval when the backend doesn't
// support server-side scripting.
type ErrScriptNotSupported struct{}

func (e *ErrScriptNotSupported) Error() string {
	return "store: scripting not supported by this backend"
}
