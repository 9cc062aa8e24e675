package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const userUpsertBatchSize = 500

// UserRepository is the tenant-wide directory user cache. All writes are
// upserts keyed by AAD id so concurrent pipelines commute.
type UserRepository interface {
	Upsert(ctx context.Context, users []domain.DirectoryUser) error
	Delete(ctx context.Context, aadIDs []string) error
	ListAfter(ctx context.Context, afterAadID string, limit int) ([]domain.DirectoryUser, error)
	SetConversation(ctx context.Context, handle domain.ConversationHandle) error
}

// TeamRepository is the tenant-wide team channel cache.
type TeamRepository interface {
	GetByID(ctx context.Context, teamAadID string) (*domain.TeamChannel, error)
	Upsert(ctx context.Context, team domain.TeamChannel) error
}

type GormUserRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db, now: time.Now}
}

// Upsert inserts new users and refreshes the profile fields of known ones.
// Conversation columns are never overwritten by directory data.
func (r *GormUserRepo) Upsert(ctx context.Context, users []domain.DirectoryUser) error {
	if len(users) == 0 {
		return nil
	}

	syncedAt := r.now().UTC()
	models := make([]DirectoryUserModel, 0, len(users))
	seen := make(map[string]int, len(users))
	for i := range users {
		model := userModelFromDomain(&users[i])
		if model.LastSyncedDate.IsZero() {
			model.LastSyncedDate = syncedAt
		}
		// Postgres rejects a batch that touches the same key twice.
		if idx, ok := seen[model.AadID]; ok {
			models[idx] = *model
			continue
		}
		seen[model.AadID] = len(models)
		models = append(models, *model)
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "aad_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name",
				"email",
				"user_principal_name",
				"user_type",
				"last_synced_date",
			}),
		}).
		CreateInBatches(&models, userUpsertBatchSize).Error
}

func (r *GormUserRepo) Delete(ctx context.Context, aadIDs []string) error {
	if len(aadIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("aad_id IN ?", aadIDs).
		Delete(&DirectoryUserModel{}).Error
}

func (r *GormUserRepo) ListAfter(ctx context.Context, afterAadID string, limit int) ([]domain.DirectoryUser, error) {
	var models []DirectoryUserModel
	err := r.db.WithContext(ctx).
		Where("aad_id > ?", afterAadID).
		Order("aad_id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	users := make([]domain.DirectoryUser, 0, len(models))
	for i := range models {
		users = append(users, *userModelToDomain(&models[i]))
	}
	return users, nil
}

func (r *GormUserRepo) SetConversation(ctx context.Context, handle domain.ConversationHandle) error {
	conversationID := handle.ConversationID
	serviceURL := handle.ServiceURL
	model := DirectoryUserModel{
		AadID:          handle.RecipientID,
		ConversationID: &conversationID,
		ServiceURL:     &serviceURL,
		LastSyncedDate: r.now().UTC(),
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "aad_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"conversation_id", "service_url"}),
		}).
		Create(&model).Error
}

type GormTeamRepo struct {
	db *gorm.DB
}

func NewGormTeamRepo(db *gorm.DB) *GormTeamRepo {
	return &GormTeamRepo{db: db}
}

func (r *GormTeamRepo) GetByID(ctx context.Context, teamAadID string) (*domain.TeamChannel, error) {
	var model TeamChannelModel
	err := r.db.WithContext(ctx).First(&model, "team_aad_id = ?", teamAadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return teamModelToDomain(&model), nil
}

func (r *GormTeamRepo) Upsert(ctx context.Context, team domain.TeamChannel) error {
	model := TeamChannelModel{
		TeamAadID:      team.TeamAadID,
		Name:           team.Name,
		ConversationID: team.ConversationID,
		ServiceURL:     team.ServiceURL,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "team_aad_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "conversation_id", "service_url", "updated_at"}),
		}).
		Create(&model).Error
}
