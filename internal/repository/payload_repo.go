package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PayloadRepository interface {
	GetKeyByNotificationID(ctx context.Context, notificationID string) (string, error)
	Save(ctx context.Context, blobKey string, notificationID string, payload []byte) error
	Get(ctx context.Context, blobKey string) ([]byte, error)
}

type GormPayloadRepo struct {
	db *gorm.DB
}

func NewGormPayloadRepo(db *gorm.DB) *GormPayloadRepo {
	return &GormPayloadRepo{db: db}
}

func (r *GormPayloadRepo) GetKeyByNotificationID(ctx context.Context, notificationID string) (string, error) {
	var model NotificationPayloadModel
	err := r.db.WithContext(ctx).
		Select("blob_key").
		First(&model, "notification_id = ?", notificationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.BlobKey, nil
}

func (r *GormPayloadRepo) Save(ctx context.Context, blobKey string, notificationID string, payload []byte) error {
	model := NotificationPayloadModel{
		BlobKey:        blobKey,
		NotificationID: notificationID,
		Payload:        datatypes.JSON(payload),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *GormPayloadRepo) Get(ctx context.Context, blobKey string) ([]byte, error) {
	var model NotificationPayloadModel
	err := r.db.WithContext(ctx).First(&model, "blob_key = ?", blobKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(model.Payload), nil
}
