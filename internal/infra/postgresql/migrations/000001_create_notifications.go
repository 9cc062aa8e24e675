package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"gorm.io/gorm"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}, &repository.AudienceSpecModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_notifications_scheduled ON notifications (scheduled_at) WHERE status = 'SCHEDULED'`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_sending ON notifications (sending_started_date) WHERE status = 'SENDING'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AudienceSpecModel{}, &repository.NotificationModel{})
		},
	}
}
