package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"gorm.io/gorm"
)

func createSentNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_sent_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SentNotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_sent_notifications_pending_install ON sent_notifications (notification_id, recipient_type, id) WHERE conversation_id IS NULL AND delivery_status = 'QUEUED'`,
				`CREATE INDEX IF NOT EXISTS idx_sent_notifications_status ON sent_notifications (notification_id, delivery_status, id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SentNotificationModel{})
		},
	}
}
