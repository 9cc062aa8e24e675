package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLimiterBurstPerScope(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(1, 2)
	ctx := context.Background()

	for i := range 2 {
		allowed, err := limiter.Allow(ctx, ScopeDirectoryRead)
		if err != nil || !allowed {
			t.Fatalf("call %d allowed = %v, err = %v", i, allowed, err)
		}
	}
	allowed, _ := limiter.Allow(ctx, ScopeDirectoryRead)
	if allowed {
		t.Fatal("third call in burst should be rejected")
	}

	allowed, _ = limiter.Allow(ctx, ScopeDirectoryInstall)
	if !allowed {
		t.Fatal("install scope should have its own bucket")
	}
}

func TestLocalLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(1, 1)
	if err := limiter.Wait(context.Background(), ScopeDirectoryRead); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, ScopeDirectoryRead); err == nil {
		t.Fatal("Wait() should fail once the budget cannot be met before the deadline")
	}
}

type stubLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (s *stubLimiter) Allow(context.Context, string) (bool, error) {
	s.calls++
	return s.allowed, s.err
}

func (s *stubLimiter) Wait(context.Context, string) error {
	s.calls++
	return s.err
}

func TestChainStopsAtFirstRejection(t *testing.T) {
	t.Parallel()

	first := &stubLimiter{allowed: false}
	second := &stubLimiter{allowed: true}
	chain := Chain{first, second}

	allowed, err := chain.Allow(context.Background(), ScopeDirectoryRead)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("chain should reject when the first limiter rejects")
	}
	if second.calls != 0 {
		t.Fatalf("second limiter called %d times, want 0", second.calls)
	}

	boom := errors.New("redis down")
	chain = Chain{&stubLimiter{err: boom}}
	if err := chain.Wait(context.Background(), ScopeDirectoryRead); !errors.Is(err, boom) {
		t.Fatalf("Wait() error = %v, want %v", err, boom)
	}
}
