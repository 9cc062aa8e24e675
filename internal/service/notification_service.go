package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

// NotificationService is the API-facing entry point: it authors drafts and
// hands them to the pipeline.
type NotificationService struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	publisher     queue.Publisher
	aggregator    *StatusAggregator
	logger        *zap.Logger
	now           func() time.Time
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		deliveries:    deliveries,
		publisher:     publisher,
		aggregator:    NewStatusAggregator(notifications, deliveries, logger),
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *NotificationService) Create(ctx context.Context, notification *domain.Notification) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := prepareNotificationForCreate(notification); err != nil {
		return nil, err
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return notification, nil
}

func (s *NotificationService) Get(ctx context.Context, id string) (*domain.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, id)
}

// Send queues a draft for immediate preparation.
func (s *NotificationService) Send(ctx context.Context, id string) (*domain.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	queued, err := s.notifications.TransitionStatus(ctx, id, []domain.Status{domain.StatusDraft}, domain.StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to queue notification: %w", err)
	}
	if !queued {
		if _, err := s.notifications.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: only draft notifications can be sent", domain.ErrConflict)
	}

	msg := queue.PrepareMessage{NotificationID: id, CorrelationID: id}
	if err := s.publisher.PublishPrepare(ctx, msg); err != nil {
		s.logger.Error("failed to publish prepare message",
			zap.String("notificationId", id),
			zap.Error(err),
		)
		if _, updateErr := s.notifications.MarkFailed(ctx, id, "failed to enqueue notification"); updateErr != nil {
			s.logger.Error("failed to mark notification as failed after publish error",
				zap.String("notificationId", id),
				zap.Error(updateErr),
			)
			return nil, fmt.Errorf("failed to publish notification: %w (failed to mark as failed: %v)", err, updateErr)
		}
		return nil, fmt.Errorf("failed to publish notification: %w", err)
	}

	return s.notifications.GetByID(ctx, id)
}

// Schedule sets or moves the send time of a draft or scheduled notification.
func (s *NotificationService) Schedule(ctx context.Context, id string, at time.Time) (*domain.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	if !at.After(s.now()) {
		return nil, fmt.Errorf("%w: scheduled time must be in the future", domain.ErrValidation)
	}

	if err := s.notifications.Schedule(ctx, id, at.UTC()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			if _, getErr := s.notifications.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("%w: only draft or scheduled notifications can be scheduled", domain.ErrConflict)
		}
		return nil, fmt.Errorf("failed to schedule notification: %w", err)
	}

	return s.notifications.GetByID(ctx, id)
}

// Cancel stops a notification that has not finished. Records that were not
// delivered yet end Canceled; the running pipeline stops at its next phase.
func (s *NotificationService) Cancel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	notification, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !notification.Status.IsCancelable() {
		return fmt.Errorf("%w: notification in status %s cannot be canceled", domain.ErrConflict, notification.Status)
	}

	if err := s.notifications.Cancel(ctx, id); err != nil {
		return err
	}

	canceled, err := s.deliveries.CancelPending(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to cancel pending deliveries: %w", err)
	}
	if _, err := s.aggregator.Recount(ctx, id); err != nil {
		return fmt.Errorf("failed to recount deliveries: %w", err)
	}

	s.logger.Info("notification canceled",
		zap.String("notificationId", id),
		zap.Int64("canceledDeliveries", canceled),
	)
	return nil
}

func prepareNotificationForCreate(n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.Content.Title = strings.TrimSpace(n.Content.Title)
	n.Content.Summary = strings.TrimSpace(n.Content.Summary)
	n.Content.ButtonTitle = strings.TrimSpace(n.Content.ButtonTitle)
	n.Content.ButtonLink = strings.TrimSpace(n.Content.ButtonLink)
	n.CreatedBy = strings.TrimSpace(n.CreatedBy)

	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	for i := range n.Audience {
		n.Audience[i].TargetID = strings.TrimSpace(n.Audience[i].TargetID)
	}

	n.Status = domain.StatusDraft
	n.TotalRecipientCount = 0
	n.SucceededCount = 0
	n.FailedCount = 0
	n.RecipientNotFoundCount = 0
	n.CanceledCount = 0
	n.UnknownCount = 0
	n.ErrorMessage = nil
	n.ScheduledAt = nil
	n.SendingStartedDate = nil
	n.SentDate = nil

	return n.Validate()
}
