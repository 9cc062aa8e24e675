package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"gorm.io/gorm"
)

func createNotificationPayloadsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_notification_payloads",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.NotificationPayloadModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationPayloadModel{})
		},
	}
}
