package directory

import (
	"context"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

// Directory is the outbound port to the tenant directory and the app
// installation API.
type Directory interface {
	// EnumerateAllUsers returns users changed since cursor and the cursor for
	// the next call. An empty cursor means a full enumeration. Removed users
	// come back with Deleted set.
	EnumerateAllUsers(ctx context.Context, cursor string) ([]domain.DirectoryUser, string, error)
	EnumerateGroupMembers(ctx context.Context, groupID string) ([]domain.DirectoryUser, error)
	EnumerateTeamMembers(ctx context.Context, teamID string) ([]domain.DirectoryUser, error)

	// InstallApp reports true when the app ends up installed for the user,
	// including when it already was.
	InstallApp(ctx context.Context, userID string, appID string) (bool, error)
	ResolvePersonalConversation(ctx context.Context, userID string, appID string) (string, error)

	InstallAppForTeam(ctx context.Context, teamID string, appID string) (bool, error)
	ResolveTeamChannel(ctx context.Context, teamID string) (domain.TeamChannel, error)
}
