// Package memory provides a scripting-incapable store.Store.
//
// It exists so tests and demos can exercise the Redis-backed strategy
// wiring (key construction, Reset issuing Del) without a real Redis server.
// It never admits anything on its own: Eval always returns
// ErrScriptNotSupported, since there's no Lua runtime behind it. Callers
// who want working rate limiting without a network dependency should bind
// one of the in-memory algorithms directly instead — that's the Engine's
// default, and it doesn't go through a Store at all.
//
//	s := memory.New()
package memory

import (
	"context"
	"sync"

	"github.com/corerate/ratelimiter/store"
)

// Store tracks which keys are currently present, nothing more. Safe for
// concurrent use.
type Store struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{keys: make(map[string]struct{})}
}

func (s *Store) Eval(_ context.Context, _ string, _ []string, _ ...interface{}) (interface{}, error) {
	return nil, &store.ErrScriptNotSupported{}
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.keys, k)
	}
	return nil
}

// Seed marks key as present. Test-only: lets a test assert that Del
// actually removes a key that was there.
func (s *Store) Seed(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = struct{}{}
}

// Has reports whether key is currently present.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}
