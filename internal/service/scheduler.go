package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = 15 * time.Second
	defaultSchedulerScanLimit    = 100
)

// Scheduler periodically queues scheduled notifications whose time has come.
type Scheduler struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	interval      time.Duration
	limit         int
	now           func() time.Time
}

func NewScheduler(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerScanInterval
	}
	if limit <= 0 {
		limit = defaultSchedulerScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		now:           time.Now,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) scanDue(ctx context.Context) error {
	due, err := s.notifications.GetDueForSchedule(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled notifications: %w", err)
	}

	for i := range due {
		notification := due[i]

		queued, err := s.notifications.TransitionStatus(ctx, notification.ID,
			[]domain.Status{domain.StatusScheduled}, domain.StatusQueued)
		if err != nil {
			s.logger.Error("failed to queue scheduled notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}
		if !queued {
			s.logger.Info("scheduled notification changed status before queueing",
				zap.String("notificationId", notification.ID),
			)
			continue
		}

		msg := queue.PrepareMessage{NotificationID: notification.ID, CorrelationID: notification.ID}
		if err := s.publisher.PublishPrepare(ctx, msg); err != nil {
			s.logger.Error("failed to enqueue scheduled notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			// Back to Scheduled so the next scan picks it up again.
			if _, revertErr := s.notifications.TransitionStatus(ctx, notification.ID,
				[]domain.Status{domain.StatusQueued}, domain.StatusScheduled); revertErr != nil {
				s.logger.Error("failed to revert scheduled notification",
					zap.String("notificationId", notification.ID),
					zap.Error(revertErr),
				)
			}
			continue
		}
	}

	return nil
}
