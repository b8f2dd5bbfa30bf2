package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ratelimiter "github.com/corerate/ratelimiter"
)

// mockLimiter records calls and returns configurable decisions.
type mockLimiter struct {
	mu       sync.Mutex
	calls    int
	allow    func(ctx context.Context, key string) (ratelimiter.Decision, error)
	resetErr error
	resets   int
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (ratelimiter.Decision, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.allow(ctx, key)
}

func (m *mockLimiter) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
	return m.resetErr
}

func (m *mockLimiter) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestLocalCache_CacheHit(t *testing.T) {
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			return ratelimiter.Decision{Admitted: true, Remaining: 10}, nil
		},
	}

	lc := New(mock, WithTTL(500*time.Millisecond))
	defer lc.Close()

	ctx := context.Background()

	d, err := lc.Allow(ctx, "k1")
	if err != nil || !d.Admitted {
		t.Fatalf("expected admitted, got err=%v admitted=%v", err, d.Admitted)
	}
	if mock.getCalls() != 1 {
		t.Fatalf("expected 1 backend call, got %d", mock.getCalls())
	}

	for i := 0; i < 5; i++ {
		d, err = lc.Allow(ctx, "k1")
		if err != nil || !d.Admitted {
			t.Fatalf("call %d: expected admitted, got err=%v admitted=%v", i, err, d.Admitted)
		}
	}
	if mock.getCalls() != 1 {
		t.Fatalf("expected still 1 backend call after cache hits, got %d", mock.getCalls())
	}
}

func TestLocalCache_RemainingDecreases(t *testing.T) {
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			return ratelimiter.Decision{Admitted: true, Remaining: 5}, nil
		},
	}

	lc := New(mock, WithTTL(time.Second))
	defer lc.Close()

	ctx := context.Background()

	d, _ := lc.Allow(ctx, "k1")
	if d.Remaining != 5 {
		t.Fatalf("expected remaining=5 from backend, got %d", d.Remaining)
	}

	d, _ = lc.Allow(ctx, "k1")
	if d.Remaining != 4 {
		t.Fatalf("expected remaining=4, got %d", d.Remaining)
	}

	d, _ = lc.Allow(ctx, "k1")
	if d.Remaining != 3 {
		t.Fatalf("expected remaining=3, got %d", d.Remaining)
	}
}

func TestLocalCache_ExhaustedLocalQuota_SyncsBackend(t *testing.T) {
	var callCount atomic.Int64
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			callCount.Add(1)
			return ratelimiter.Decision{Admitted: true, Remaining: 1}, nil
		},
	}

	lc := New(mock, WithTTL(5*time.Second))
	defer lc.Close()

	ctx := context.Background()

	lc.Allow(ctx, "k1")
	if callCount.Load() != 1 {
		t.Fatalf("expected 1 backend call, got %d", callCount.Load())
	}

	lc.Allow(ctx, "k1")
	if callCount.Load() != 1 {
		t.Fatalf("expected still 1 backend call, got %d", callCount.Load())
	}

	lc.Allow(ctx, "k1")
	if callCount.Load() != 2 {
		t.Fatalf("expected 2 backend calls after local exhaustion, got %d", callCount.Load())
	}
}

func TestLocalCache_DeniedCached(t *testing.T) {
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			return ratelimiter.Decision{Admitted: false, RetryAfterSeconds: 1}, nil
		},
	}

	lc := New(mock, WithTTL(time.Second))
	defer lc.Close()

	ctx := context.Background()

	d, _ := lc.Allow(ctx, "k1")
	if d.Admitted {
		t.Fatal("expected denied")
	}

	for i := 0; i < 5; i++ {
		d, _ = lc.Allow(ctx, "k1")
		if d.Admitted {
			t.Fatal("expected cached denial")
		}
	}
	if mock.getCalls() != 1 {
		t.Fatalf("expected 1 backend call for cached denial, got %d", mock.getCalls())
	}
}

func TestLocalCache_TTLExpiry(t *testing.T) {
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			return ratelimiter.Decision{Admitted: true, Remaining: 100}, nil
		},
	}

	lc := New(mock, WithTTL(50*time.Millisecond))
	defer lc.Close()

	ctx := context.Background()

	lc.Allow(ctx, "k1")
	if mock.getCalls() != 1 {
		t.Fatal("expected 1 call")
	}

	lc.Allow(ctx, "k1")
	if mock.getCalls() != 1 {
		t.Fatal("expected still 1 call within TTL")
	}

	time.Sleep(60 * time.Millisecond)

	lc.Allow(ctx, "k1")
	if mock.getCalls() != 2 {
		t.Fatalf("expected 2 calls after TTL expiry, got %d", mock.getCalls())
	}
}

func TestLocalCache_DenialTTL_UsesRetryAfter(t *testing.T) {
	callCount := 0
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			callCount++
			return ratelimiter.Decision{Admitted: false, RetryAfterSeconds: 1}, nil
		},
	}

	// TTL is 5s, but the denial's RetryAfterSeconds=1 is the shorter one.
	lc := New(mock, WithTTL(5*time.Second))
	defer lc.Close()

	ctx := context.Background()

	lc.Allow(ctx, "k1")
	if callCount != 1 {
		t.Fatal("expected 1 call")
	}

	time.Sleep(1100 * time.Millisecond)

	lc.Allow(ctx, "k1")
	if callCount != 2 {
		t.Fatalf("expected 2 calls after retryAfter expiry, got %d", callCount)
	}
}

func TestLocalCache_Reset(t *testing.T) {
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			return ratelimiter.Decision{Admitted: true, Remaining: 10}, nil
		},
	}

	lc := New(mock, WithTTL(5*time.Second))
	defer lc.Close()

	ctx := context.Background()

	lc.Allow(ctx, "k1")
	if mock.getCalls() != 1 {
		t.Fatal("expected 1 call")
	}

	if err := lc.Reset(ctx, "k1"); err != nil {
		t.Fatal(err)
	}

	lc.Allow(ctx, "k1")
	if mock.getCalls() != 2 {
		t.Fatalf("expected 2 backend calls after reset, got %d", mock.getCalls())
	}
}

func TestLocalCache_MultipleKeys(t *testing.T) {
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			return ratelimiter.Decision{Admitted: true, Remaining: 5}, nil
		},
	}

	lc := New(mock, WithTTL(time.Second))
	defer lc.Close()

	ctx := context.Background()

	lc.Allow(ctx, "user:1")
	lc.Allow(ctx, "user:2")
	lc.Allow(ctx, "user:3")

	if mock.getCalls() != 3 {
		t.Fatalf("expected 3 backend calls for 3 different keys, got %d", mock.getCalls())
	}

	lc.Allow(ctx, "user:1")
	lc.Allow(ctx, "user:2")
	lc.Allow(ctx, "user:3")
	if mock.getCalls() != 3 {
		t.Fatalf("expected still 3 backend calls after cache hits, got %d", mock.getCalls())
	}
}

func TestLocalCache_MaxKeys(t *testing.T) {
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			return ratelimiter.Decision{Admitted: true, Remaining: 10}, nil
		},
	}

	lc := New(mock, WithTTL(5*time.Second), WithMaxKeys(3))
	defer lc.Close()

	ctx := context.Background()

	lc.Allow(ctx, "k1")
	time.Sleep(time.Millisecond)
	lc.Allow(ctx, "k2")
	time.Sleep(time.Millisecond)
	lc.Allow(ctx, "k3")

	stats := lc.Stats()
	if stats.Keys != 3 {
		t.Fatalf("expected 3 keys, got %d", stats.Keys)
	}

	lc.Allow(ctx, "k4")
	stats = lc.Stats()
	if stats.Keys != 3 {
		t.Fatalf("expected 3 keys after eviction, got %d", stats.Keys)
	}
}

func TestLocalCache_ConcurrentAccess(t *testing.T) {
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			return ratelimiter.Decision{Admitted: true, Remaining: 1000}, nil
		},
	}

	lc := New(mock, WithTTL(time.Second))
	defer lc.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := lc.Allow(ctx, "concurrent-key"); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if mock.getCalls() > 100 {
		t.Fatalf("expected significantly fewer backend calls with caching, got %d", mock.getCalls())
	}
}

func TestLocalCache_Stats(t *testing.T) {
	mock := &mockLimiter{
		allow: func(_ context.Context, _ string) (ratelimiter.Decision, error) {
			return ratelimiter.Decision{Admitted: true, Remaining: 10}, nil
		},
	}

	lc := New(mock, WithTTL(time.Second))
	defer lc.Close()

	ctx := context.Background()

	stats := lc.Stats()
	if stats.Keys != 0 {
		t.Fatalf("expected 0 keys initially, got %d", stats.Keys)
	}

	lc.Allow(ctx, "k1")
	lc.Allow(ctx, "k2")

	stats = lc.Stats()
	if stats.Keys != 2 {
		t.Fatalf("expected 2 keys, got %d", stats.Keys)
	}
}
