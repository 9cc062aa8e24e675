package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/broadcast-engine/internal/directory"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultUserCachePageSize = 500

// DeltaCursorStore persists the directory delta cursor between syncs.
type DeltaCursorStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, cursor string) error
	Reset(ctx context.Context) error
}

type ResolveResult struct {
	UsersCreated int
	TeamsCreated int
}

func (r ResolveResult) Created() int {
	return r.UsersCreated + r.TeamsCreated
}

// AudienceResolver turns a notification's audience into delivery records.
// Every step is an upsert or a guarded insert, so a replay after a crash
// converges on the same rows.
type AudienceResolver struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	users         repository.UserRepository
	teams         repository.TeamRepository
	directory     directory.Directory
	cursors       DeltaCursorStore
	metrics       *observability.Metrics
	logger        *zap.Logger
	pageSize      int
}

func NewAudienceResolver(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	users repository.UserRepository,
	teams repository.TeamRepository,
	dir directory.Directory,
	cursors DeltaCursorStore,
	logger *zap.Logger,
) *AudienceResolver {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AudienceResolver{
		notifications: notifications,
		deliveries:    deliveries,
		users:         users,
		teams:         teams,
		directory:     dir,
		cursors:       cursors,
		logger:        logger,
		pageSize:      defaultUserCachePageSize,
	}
}

func (r *AudienceResolver) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

func (r *AudienceResolver) Resolve(ctx context.Context, notificationID string) (ResolveResult, error) {
	notification, err := r.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("load notification: %w", err)
	}

	var result ResolveResult
	if notification.AllUsers {
		if _, err := r.SyncAllUsers(ctx); err != nil {
			return result, err
		}
		created, err := r.createFromUserCache(ctx, notificationID)
		if err != nil {
			return result, err
		}
		result.UsersCreated += created
		r.metrics.AddRecipientsResolved("all_users", created)
		return result, nil
	}

	for _, spec := range notification.Audience {
		switch spec.Type {
		case domain.AudienceGroup:
			members, err := r.directory.EnumerateGroupMembers(ctx, spec.TargetID)
			if err != nil {
				return result, fmt.Errorf("enumerate group %s: %w", spec.TargetID, err)
			}
			created, err := r.createForMembers(ctx, notificationID, members)
			if err != nil {
				return result, err
			}
			result.UsersCreated += created
			r.metrics.AddRecipientsResolved("group", created)

		case domain.AudienceRoster:
			members, err := r.directory.EnumerateTeamMembers(ctx, spec.TargetID)
			if err != nil {
				return result, fmt.Errorf("enumerate roster %s: %w", spec.TargetID, err)
			}
			created, err := r.createForMembers(ctx, notificationID, members)
			if err != nil {
				return result, err
			}
			result.UsersCreated += created
			r.metrics.AddRecipientsResolved("roster", created)

		case domain.AudienceTeam:
			created, err := r.createForTeam(ctx, notificationID, spec.TargetID)
			if err != nil {
				return result, err
			}
			if created {
				result.TeamsCreated++
				r.metrics.AddRecipientsResolved("team", 1)
			}

		default:
			return result, fmt.Errorf("%w: unsupported audience type %q", domain.ErrValidation, spec.Type)
		}
	}

	observability.WithContextLogger(r.logger, ctx).Info("audience resolved",
		zap.Int("usersCreated", result.UsersCreated),
		zap.Int("teamsCreated", result.TeamsCreated),
	)
	return result, nil
}

// SyncAllUsers applies the directory delta since the last run to the user
// cache. An expired cursor falls back to a full enumeration.
func (r *AudienceResolver) SyncAllUsers(ctx context.Context) (int, error) {
	cursor, err := r.cursors.Get(ctx)
	if err != nil {
		return 0, err
	}

	users, next, err := r.directory.EnumerateAllUsers(ctx, cursor)
	if errors.Is(err, directory.ErrDeltaExpired) {
		r.logger.Warn("directory delta cursor expired, running full enumeration")
		if err := r.cursors.Reset(ctx); err != nil {
			return 0, err
		}
		users, next, err = r.directory.EnumerateAllUsers(ctx, "")
	}
	if err != nil {
		return 0, fmt.Errorf("enumerate users: %w", err)
	}

	active := make([]domain.DirectoryUser, 0, len(users))
	removed := make([]string, 0)
	for _, u := range users {
		if u.Deleted {
			removed = append(removed, u.AadID)
			continue
		}
		active = append(active, u)
	}

	if err := r.users.Upsert(ctx, active); err != nil {
		return 0, fmt.Errorf("upsert users: %w", err)
	}
	if err := r.users.Delete(ctx, removed); err != nil {
		return 0, fmt.Errorf("delete removed users: %w", err)
	}

	// The cursor only moves once the cache holds everything it covers.
	if next != "" {
		if err := r.cursors.Set(ctx, next); err != nil {
			return 0, err
		}
	}

	r.logger.Info("directory users synced",
		zap.Int("upserted", len(active)),
		zap.Int("removed", len(removed)),
		zap.Bool("fullSync", cursor == ""),
	)
	return len(active) + len(removed), nil
}

func (r *AudienceResolver) createFromUserCache(ctx context.Context, notificationID string) (int, error) {
	created := 0
	after := ""
	for {
		users, err := r.users.ListAfter(ctx, after, r.pageSize)
		if err != nil {
			return created, fmt.Errorf("list user cache: %w", err)
		}
		if len(users) == 0 {
			return created, nil
		}

		records := make([]domain.DeliveryRecord, 0, len(users))
		for _, u := range users {
			if u.IsGuest() {
				continue
			}
			records = append(records, domain.DeliveryRecord{
				NotificationID: notificationID,
				RecipientID:    u.AadID,
				RecipientType:  domain.RecipientUser,
				ConversationID: u.ConversationID,
				ServiceURL:     u.ServiceURL,
				DeliveryStatus: domain.DeliveryQueued,
			})
		}

		inserted, err := r.deliveries.CreateIfMissing(ctx, records)
		if err != nil {
			return created, fmt.Errorf("create delivery records: %w", err)
		}
		created += int(inserted)
		after = users[len(users)-1].AadID
	}
}

func (r *AudienceResolver) createForMembers(ctx context.Context, notificationID string, members []domain.DirectoryUser) (int, error) {
	active := make([]domain.DirectoryUser, 0, len(members))
	for _, m := range members {
		if m.AadID == "" || m.Deleted {
			continue
		}
		active = append(active, m)
	}
	if len(active) == 0 {
		return 0, nil
	}

	if err := r.users.Upsert(ctx, active); err != nil {
		return 0, fmt.Errorf("upsert members: %w", err)
	}

	records := make([]domain.DeliveryRecord, 0, len(active))
	for _, m := range active {
		records = append(records, domain.DeliveryRecord{
			NotificationID: notificationID,
			RecipientID:    m.AadID,
			RecipientType:  domain.RecipientUser,
			DeliveryStatus: domain.DeliveryQueued,
		})
	}

	inserted, err := r.deliveries.CreateIfMissing(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("create delivery records: %w", err)
	}
	return int(inserted), nil
}

func (r *AudienceResolver) createForTeam(ctx context.Context, notificationID string, teamID string) (bool, error) {
	exists, err := r.deliveries.Exists(ctx, notificationID, teamID)
	if err != nil {
		return false, fmt.Errorf("check team record: %w", err)
	}
	if exists {
		return false, nil
	}

	record := domain.DeliveryRecord{
		NotificationID: notificationID,
		RecipientID:    teamID,
		RecipientType:  domain.RecipientTeam,
		DeliveryStatus: domain.DeliveryQueued,
	}

	channel, err := r.teams.GetByID(ctx, teamID)
	switch {
	case err == nil && channel.ConversationID != "":
		conversationID, serviceURL := channel.ConversationID, channel.ServiceURL
		record.ConversationID = &conversationID
		record.ServiceURL = &serviceURL
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return false, fmt.Errorf("load team channel: %w", err)
	}

	inserted, err := r.deliveries.CreateIfMissing(ctx, []domain.DeliveryRecord{record})
	if err != nil {
		return false, fmt.Errorf("create team record: %w", err)
	}
	return inserted > 0, nil
}
