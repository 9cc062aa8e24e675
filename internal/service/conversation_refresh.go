package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/broadcast-engine/internal/repository"
)

type RefreshResult struct {
	UsersRefreshed int64
	TeamsRefreshed int64
	StillPending   int64
}

// ConversationRefresher copies conversations learned by installs (or by
// other notifications) from the directory caches onto delivery records
// that are still missing one.
type ConversationRefresher struct {
	deliveries repository.DeliveryRepository
}

func NewConversationRefresher(deliveries repository.DeliveryRepository) *ConversationRefresher {
	return &ConversationRefresher{deliveries: deliveries}
}

func (r *ConversationRefresher) Refresh(ctx context.Context, notificationID string) (RefreshResult, error) {
	users, err := r.deliveries.RefreshUserConversations(ctx, notificationID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("refresh user conversations: %w", err)
	}
	teams, err := r.deliveries.RefreshTeamConversations(ctx, notificationID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("refresh team conversations: %w", err)
	}
	pending, err := r.deliveries.CountPendingConversation(ctx, notificationID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("count pending conversations: %w", err)
	}

	return RefreshResult{
		UsersRefreshed: users,
		TeamsRefreshed: teams,
		StillPending:   pending,
	}, nil
}
