package ratelimit

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalLimiter)(nil)

// LocalLimiter is an in-process token bucket per scope. It smooths one
// worker's burst before the shared budget is consulted.
type LocalLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func NewLocalLimiter(perSec int, burst int) *LocalLimiter {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = perSec
	}
	return &LocalLimiter{
		perSec:   rate.Limit(perSec),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, scope string) (bool, error) {
	return l.forScope(scope).Allow(), nil
}

func (l *LocalLimiter) Wait(ctx context.Context, scope string) error {
	return l.forScope(scope).Wait(ctx)
}

func (l *LocalLimiter) forScope(scope string) *rate.Limiter {
	key := strings.ToLower(strings.TrimSpace(scope))

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Chain consults each limiter in order. A call proceeds only after every
// limiter admitted it.
type Chain []RateLimiter

func (c Chain) Allow(ctx context.Context, scope string) (bool, error) {
	for _, l := range c {
		allowed, err := l.Allow(ctx, scope)
		if err != nil || !allowed {
			return false, err
		}
	}
	return true, nil
}

func (c Chain) Wait(ctx context.Context, scope string) error {
	for _, l := range c {
		if err := l.Wait(ctx, scope); err != nil {
			return err
		}
	}
	return nil
}
