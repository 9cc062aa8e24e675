package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

const forceFailMessage = "delivery did not complete within the allowed time"

type AggregateResult struct {
	Counts    domain.StatusCounts
	Completed bool
	Status    domain.Status
}

// StatusAggregator recomputes the counters of a sending notification from
// its delivery records and completes it once nothing is pending. Counters
// are always overwritten, never incremented, so reruns are harmless.
type StatusAggregator struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

func NewStatusAggregator(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	logger *zap.Logger,
) *StatusAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusAggregator{
		notifications: notifications,
		deliveries:    deliveries,
		logger:        logger,
		now:           time.Now,
	}
}

func (a *StatusAggregator) SetMetrics(metrics *observability.Metrics) {
	a.metrics = metrics
}

func (a *StatusAggregator) Aggregate(ctx context.Context, notificationID string) (AggregateResult, error) {
	counts, err := a.Recount(ctx, notificationID)
	if err != nil {
		return AggregateResult{}, err
	}

	result := AggregateResult{Counts: counts}
	if counts.Pending() > 0 {
		return result, nil
	}

	completed, err := a.notifications.Complete(ctx, notificationID, domain.StatusSent, a.now().UTC(), nil)
	if err != nil {
		return result, fmt.Errorf("complete notification: %w", err)
	}
	if completed {
		result.Completed = true
		result.Status = domain.StatusSent
		a.metrics.IncNotificationCompleted(strings.ToLower(domain.StatusSent.String()))
		observability.WithContextLogger(a.logger, ctx).Info("notification completed",
			zap.String("notificationId", notificationID),
			zap.Int("total", counts.Total()),
			zap.Int("succeeded", counts[domain.DeliverySucceeded]),
		)
	}

	return result, nil
}

// ForceComplete terminates a notification that has been sending for too
// long. Pending records are failed first; the notification ends Failed when
// any record failed and Sent otherwise.
func (a *StatusAggregator) ForceComplete(ctx context.Context, notificationID string) (AggregateResult, error) {
	forced, err := a.deliveries.ForceFail(ctx, notificationID, forceFailMessage)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("force fail pending records: %w", err)
	}

	counts, err := a.Recount(ctx, notificationID)
	if err != nil {
		return AggregateResult{}, err
	}

	status := domain.StatusSent
	if counts[domain.DeliveryFailed] > 0 {
		status = domain.StatusFailed
	}
	message := fmt.Sprintf("force completed: %d pending deliveries failed", forced)

	result := AggregateResult{Counts: counts, Status: status}
	completed, err := a.notifications.Complete(ctx, notificationID, status, a.now().UTC(), &message)
	if err != nil {
		return result, fmt.Errorf("complete notification: %w", err)
	}
	if completed {
		result.Completed = true
		a.metrics.IncNotificationCompleted(strings.ToLower(status.String()))
		observability.WithContextLogger(a.logger, ctx).Warn("notification force completed",
			zap.String("notificationId", notificationID),
			zap.String("status", status.String()),
			zap.Int64("forced", forced),
		)
	}

	return result, nil
}

// Recount recomputes the counters from the delivery records and stores them
// on the notification.
func (a *StatusAggregator) Recount(ctx context.Context, notificationID string) (domain.StatusCounts, error) {
	counts, err := a.deliveries.CountByStatus(ctx, notificationID)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}
	if err := a.notifications.UpdateCounters(ctx, notificationID, counts.Counters()); err != nil {
		return nil, fmt.Errorf("update counters: %w", err)
	}
	return counts, nil
}
