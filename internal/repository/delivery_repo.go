package repository

import (
	"context"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const deliveryInsertBatchSize = 500

type StatusCount struct {
	Status domain.DeliveryStatus `gorm:"column:status"`
	Count  int                   `gorm:"column:count"`
}

type DeliveryRepository interface {
	CreateIfMissing(ctx context.Context, records []domain.DeliveryRecord) (int64, error)
	Exists(ctx context.Context, notificationID string, recipientID string) (bool, error)
	ListPendingInstall(ctx context.Context, notificationID string, recipientType domain.RecipientType, afterID int64, limit int) ([]domain.DeliveryRecord, error)
	SetConversationIfMissing(ctx context.Context, notificationID string, handle domain.ConversationHandle) (bool, error)
	RefreshUserConversations(ctx context.Context, notificationID string) (int64, error)
	RefreshTeamConversations(ctx context.Context, notificationID string) (int64, error)
	CountPendingConversation(ctx context.Context, notificationID string) (int64, error)
	MarkUnreachable(ctx context.Context, notificationID string, message string) (int64, error)
	ListQueued(ctx context.Context, notificationID string, afterID int64, limit int) ([]domain.DeliveryRecord, error)
	CountByStatus(ctx context.Context, notificationID string) (domain.StatusCounts, error)
	ForceFail(ctx context.Context, notificationID string, message string) (int64, error)
	CancelPending(ctx context.Context, notificationID string) (int64, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

// CreateIfMissing inserts records, skipping any (notification, recipient)
// pair that already exists. It returns the number of rows inserted.
func (r *GormDeliveryRepo) CreateIfMissing(ctx context.Context, records []domain.DeliveryRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	models := make([]SentNotificationModel, 0, len(records))
	for i := range records {
		model := deliveryModelFromDomain(&records[i])
		model.ID = 0
		if model.DeliveryStatus == "" {
			model.DeliveryStatus = domain.DeliveryQueued
		}
		models = append(models, *model)
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "notification_id"}, {Name: "recipient_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&models, deliveryInsertBatchSize)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) Exists(ctx context.Context, notificationID string, recipientID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SentNotificationModel{}).
		Where("notification_id = ? AND recipient_id = ?", notificationID, recipientID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListPendingInstall scans queued records of one type that still lack a
// conversation, strictly after the afterID cursor.
func (r *GormDeliveryRepo) ListPendingInstall(
	ctx context.Context,
	notificationID string,
	recipientType domain.RecipientType,
	afterID int64,
	limit int,
) ([]domain.DeliveryRecord, error) {
	var models []SentNotificationModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ? AND conversation_id IS NULL AND recipient_type = ? AND delivery_status = ? AND id > ?",
			notificationID, recipientType, domain.DeliveryQueued, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryModelsToDomain(models), nil
}

func (r *GormDeliveryRepo) SetConversationIfMissing(ctx context.Context, notificationID string, handle domain.ConversationHandle) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&SentNotificationModel{}).
		Where("notification_id = ? AND recipient_id = ? AND conversation_id IS NULL", notificationID, handle.RecipientID).
		Updates(map[string]any{
			"conversation_id": handle.ConversationID,
			"service_url":     handle.ServiceURL,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RefreshUserConversations fills missing user conversations from the user
// cache. Records that already have a conversation are left untouched.
func (r *GormDeliveryRepo) RefreshUserConversations(ctx context.Context, notificationID string) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
UPDATE sent_notifications SET
	conversation_id = (SELECT u.conversation_id FROM directory_users u WHERE u.aad_id = sent_notifications.recipient_id),
	service_url = (SELECT u.service_url FROM directory_users u WHERE u.aad_id = sent_notifications.recipient_id)
WHERE notification_id = ?
	AND recipient_type = ?
	AND delivery_status = ?
	AND conversation_id IS NULL
	AND EXISTS (
		SELECT 1 FROM directory_users u
		WHERE u.aad_id = sent_notifications.recipient_id AND u.conversation_id IS NOT NULL
	)`,
		notificationID, domain.RecipientUser, domain.DeliveryQueued)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// RefreshTeamConversations overwrites team conversations from the team cache,
// including stale non-null values.
func (r *GormDeliveryRepo) RefreshTeamConversations(ctx context.Context, notificationID string) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
UPDATE sent_notifications SET
	conversation_id = (SELECT t.conversation_id FROM team_channels t WHERE t.team_aad_id = sent_notifications.recipient_id),
	service_url = (SELECT t.service_url FROM team_channels t WHERE t.team_aad_id = sent_notifications.recipient_id)
WHERE notification_id = ?
	AND recipient_type = ?
	AND delivery_status = ?
	AND EXISTS (
		SELECT 1 FROM team_channels t
		WHERE t.team_aad_id = sent_notifications.recipient_id AND t.conversation_id <> ''
	)`,
		notificationID, domain.RecipientTeam, domain.DeliveryQueued)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) CountPendingConversation(ctx context.Context, notificationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SentNotificationModel{}).
		Where("notification_id = ? AND delivery_status = ? AND conversation_id IS NULL", notificationID, domain.DeliveryQueued).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkUnreachable reclassifies every queued record without a conversation
// as RecipientNotFound in a single statement.
func (r *GormDeliveryRepo) MarkUnreachable(ctx context.Context, notificationID string, message string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&SentNotificationModel{}).
		Where("notification_id = ? AND delivery_status = ? AND conversation_id IS NULL", notificationID, domain.DeliveryQueued).
		Updates(map[string]any{
			"delivery_status": domain.DeliveryRecipientNotFound,
			"error_message":   message,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) ListQueued(ctx context.Context, notificationID string, afterID int64, limit int) ([]domain.DeliveryRecord, error) {
	var models []SentNotificationModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ? AND delivery_status = ? AND id > ?", notificationID, domain.DeliveryQueued, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryModelsToDomain(models), nil
}

func (r *GormDeliveryRepo) CountByStatus(ctx context.Context, notificationID string) (domain.StatusCounts, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&SentNotificationModel{}).
		Select("delivery_status AS status, COUNT(*) AS count").
		Where("notification_id = ?", notificationID).
		Group("delivery_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(domain.StatusCounts, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// ForceFail terminates every queued or retrying record of the notification.
func (r *GormDeliveryRepo) ForceFail(ctx context.Context, notificationID string, message string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&SentNotificationModel{}).
		Where("notification_id = ? AND delivery_status IN ?", notificationID,
			[]domain.DeliveryStatus{domain.DeliveryQueued, domain.DeliveryRetrying}).
		Updates(map[string]any{
			"delivery_status": domain.DeliveryFailed,
			"error_message":   message,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) CancelPending(ctx context.Context, notificationID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&SentNotificationModel{}).
		Where("notification_id = ? AND delivery_status IN ?", notificationID,
			[]domain.DeliveryStatus{domain.DeliveryQueued, domain.DeliveryRetrying}).
		Update("delivery_status", domain.DeliveryCanceled)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func deliveryModelsToDomain(models []SentNotificationModel) []domain.DeliveryRecord {
	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}
	return records
}
