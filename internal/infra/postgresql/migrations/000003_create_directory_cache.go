package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"gorm.io/gorm"
)

func createDirectoryCacheTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_directory_cache",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.DirectoryUserModel{}, &repository.TeamChannelModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DirectoryUserModel{}, &repository.TeamChannelModel{})
		},
	}
}
