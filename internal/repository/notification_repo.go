package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"gorm.io/gorm"
)

// completableStatuses are the states from which the aggregator or the safety
// net may finish a notification.
var completableStatuses = []domain.Status{domain.StatusSending}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	TransitionStatus(ctx context.Context, id string, from []domain.Status, to domain.Status) (bool, error)
	MarkSending(ctx context.Context, id string, startedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, message string) (bool, error)
	Schedule(ctx context.Context, id string, at time.Time) error
	Cancel(ctx context.Context, id string) error
	UpdateCounters(ctx context.Context, id string, counters domain.Counters) error
	Complete(ctx context.Context, id string, status domain.Status, sentAt time.Time, message *string) (bool, error)
	GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Notification, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Preload("Audience", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// TransitionStatus moves the notification to status to only if it is
// currently in one of from. It reports whether a row changed.
func (r *GormNotificationRepo) TransitionStatus(ctx context.Context, id string, from []domain.Status, to domain.Status) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkSending enters the sending phase. The start timestamp is kept from the
// first call so replays do not extend the safety-net budget.
func (r *GormNotificationRepo) MarkSending(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{
			domain.StatusSyncingRecipients,
			domain.StatusInstallingApp,
			domain.StatusSending,
		}).
		Updates(map[string]any{
			"status":               domain.StatusSending,
			"sending_started_date": gorm.Expr("COALESCE(sending_started_date, ?)", startedAt),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string, message string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{
			domain.StatusQueued,
			domain.StatusSyncingRecipients,
			domain.StatusInstallingApp,
			domain.StatusSending,
		}).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": message,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) Schedule(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusDraft, domain.StatusScheduled}).
		Updates(map[string]any{
			"status":       domain.StatusScheduled,
			"scheduled_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormNotificationRepo) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{
			domain.StatusScheduled,
			domain.StatusQueued,
			domain.StatusSyncingRecipients,
			domain.StatusInstallingApp,
			domain.StatusSending,
		}).
		Update("status", domain.StatusCanceled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// UpdateCounters overwrites the aggregate counters with a fresh recomputation.
func (r *GormNotificationRepo) UpdateCounters(ctx context.Context, id string, counters domain.Counters) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_recipient_count":     counters.Total,
			"succeeded_count":           counters.Succeeded,
			"failed_count":              counters.Failed,
			"recipient_not_found_count": counters.RecipientNotFound,
			"canceled_count":            counters.Canceled,
			"unknown_count":             counters.Unknown,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Complete moves a sending notification to a terminal status and stamps the
// sent date. It reports false when the notification was no longer sending.
func (r *GormNotificationRepo) Complete(ctx context.Context, id string, status domain.Status, sentAt time.Time, message *string) (bool, error) {
	updates := map[string]any{
		"status":    status,
		"sent_date": sentAt,
	}
	if message != nil {
		updates["error_message"] = *message
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, completableStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.StatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return notificationModelsToDomain(models), nil
}

func notificationModelsToDomain(models []NotificationModel) []domain.Notification {
	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications
}
