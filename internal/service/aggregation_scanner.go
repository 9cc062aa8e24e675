package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultAggregationInterval = 30 * time.Second
	defaultAggregationLimit    = 100
	defaultForceCompleteAfter  = 24 * time.Hour
)

// AggregationScanner periodically aggregates every sending notification and
// force-completes the ones that exceeded their sending budget.
type AggregationScanner struct {
	notifications      repository.NotificationRepository
	aggregator         *StatusAggregator
	logger             *zap.Logger
	interval           time.Duration
	forceCompleteAfter time.Duration
	limit              int
	now                func() time.Time
}

func NewAggregationScanner(
	notifications repository.NotificationRepository,
	aggregator *StatusAggregator,
	interval time.Duration,
	forceCompleteAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*AggregationScanner, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("status aggregator is required")
	}
	if interval <= 0 {
		interval = defaultAggregationInterval
	}
	if forceCompleteAfter <= 0 {
		forceCompleteAfter = defaultForceCompleteAfter
	}
	if limit <= 0 {
		limit = defaultAggregationLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AggregationScanner{
		notifications:      notifications,
		aggregator:         aggregator,
		logger:             logger,
		interval:           interval,
		forceCompleteAfter: forceCompleteAfter,
		limit:              limit,
		now:                time.Now,
	}, nil
}

func (s *AggregationScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("aggregation scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("aggregation scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *AggregationScanner) scan(ctx context.Context) error {
	sending, err := s.notifications.ListByStatus(ctx, domain.StatusSending, s.limit)
	if err != nil {
		return fmt.Errorf("failed to list sending notifications: %w", err)
	}

	now := s.now().UTC()
	for i := range sending {
		notification := sending[i]

		if s.expired(notification, now) {
			if _, err := s.aggregator.ForceComplete(ctx, notification.ID); err != nil {
				s.logger.Error("failed to force complete notification",
					zap.String("notificationId", notification.ID),
					zap.Error(err),
				)
			}
			continue
		}

		if _, err := s.aggregator.Aggregate(ctx, notification.ID); err != nil {
			s.logger.Error("failed to aggregate notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *AggregationScanner) expired(n domain.Notification, now time.Time) bool {
	if n.SendingStartedDate == nil {
		return false
	}
	return !now.Before(n.SendingStartedDate.Add(s.forceCompleteAfter))
}
