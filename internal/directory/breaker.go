package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/ratelimit"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultTripFailures = 5
	defaultOpenTimeout  = 30 * time.Second
)

type BreakerConfig struct {
	TripFailures int
	OpenTimeout  time.Duration
}

var _ Directory = (*Protected)(nil)

// Protected guards a Directory with a shared call budget and two circuit
// breakers, one for reads and one for installs. An open circuit surfaces as
// domain.ErrCircuitOpen.
type Protected struct {
	next    Directory
	limiter ratelimit.RateLimiter
	read    *gobreaker.CircuitBreaker
	install *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewProtected(next Directory, limiter ratelimit.RateLimiter, cfg BreakerConfig, logger *zap.Logger) *Protected {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TripFailures <= 0 {
		cfg.TripFailures = defaultTripFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}

	return &Protected{
		next:    next,
		limiter: limiter,
		read:    newBreaker("directory-read", cfg, logger),
		install: newBreaker("directory-install", cfg, logger),
		logger:  logger,
	}
}

func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	trip := uint32(cfg.TripFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		// Only transient failures say anything about the health of the
		// dependency. A 404 for one user must not open the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("directory circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (p *Protected) EnumerateAllUsers(ctx context.Context, cursor string) ([]domain.DirectoryUser, string, error) {
	type result struct {
		users  []domain.DirectoryUser
		cursor string
	}
	r, err := guard(ctx, p, p.read, ratelimit.ScopeDirectoryRead, func() (result, error) {
		users, next, err := p.next.EnumerateAllUsers(ctx, cursor)
		return result{users: users, cursor: next}, err
	})
	return r.users, r.cursor, err
}

func (p *Protected) EnumerateGroupMembers(ctx context.Context, groupID string) ([]domain.DirectoryUser, error) {
	return guard(ctx, p, p.read, ratelimit.ScopeDirectoryRead, func() ([]domain.DirectoryUser, error) {
		return p.next.EnumerateGroupMembers(ctx, groupID)
	})
}

func (p *Protected) EnumerateTeamMembers(ctx context.Context, teamID string) ([]domain.DirectoryUser, error) {
	return guard(ctx, p, p.read, ratelimit.ScopeDirectoryRead, func() ([]domain.DirectoryUser, error) {
		return p.next.EnumerateTeamMembers(ctx, teamID)
	})
}

func (p *Protected) InstallApp(ctx context.Context, userID string, appID string) (bool, error) {
	return guard(ctx, p, p.install, ratelimit.ScopeDirectoryInstall, func() (bool, error) {
		return p.next.InstallApp(ctx, userID, appID)
	})
}

func (p *Protected) ResolvePersonalConversation(ctx context.Context, userID string, appID string) (string, error) {
	return guard(ctx, p, p.install, ratelimit.ScopeDirectoryInstall, func() (string, error) {
		return p.next.ResolvePersonalConversation(ctx, userID, appID)
	})
}

func (p *Protected) InstallAppForTeam(ctx context.Context, teamID string, appID string) (bool, error) {
	return guard(ctx, p, p.install, ratelimit.ScopeDirectoryInstall, func() (bool, error) {
		return p.next.InstallAppForTeam(ctx, teamID, appID)
	})
}

func (p *Protected) ResolveTeamChannel(ctx context.Context, teamID string) (domain.TeamChannel, error) {
	return guard(ctx, p, p.install, ratelimit.ScopeDirectoryInstall, func() (domain.TeamChannel, error) {
		return p.next.ResolveTeamChannel(ctx, teamID)
	})
}

func guard[T any](
	ctx context.Context,
	p *Protected,
	cb *gobreaker.CircuitBreaker,
	scope string,
	fn func() (T, error),
) (T, error) {
	var zero T

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, scope); err != nil {
			return zero, fmt.Errorf("wait for directory budget: %w", err)
		}
	}

	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%w: %s", domain.ErrCircuitOpen, cb.Name())
	}

	// Execute hands back fn's value even when fn failed.
	value, _ := out.(T)
	return value, err
}
