package ratelimit

import "context"

// Directory call scopes share one tenant-wide budget per scope.
const (
	ScopeDirectoryRead    = "directory:read"
	ScopeDirectoryInstall = "directory:install"
)

// RateLimiter throttles outbound directory calls per scope.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
