package payload

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

type blobRepository interface {
	GetKeyByNotificationID(ctx context.Context, notificationID string) (string, error)
	Save(ctx context.Context, blobKey string, notificationID string, payload []byte) error
}

// Store keeps one rendered payload per notification.
type Store struct {
	repo  blobRepository
	newID func() string
}

func NewStore(repo blobRepository) *Store {
	return &Store{repo: repo, newID: uuid.NewString}
}

// Upload stores payload and returns its blob key. A notification that was
// already uploaded keeps its first key.
func (s *Store) Upload(ctx context.Context, notificationID string, payload []byte) (string, error) {
	existing, err := s.repo.GetKeyByNotificationID(ctx, notificationID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("lookup payload: %w", err)
	}

	key := fmt.Sprintf("%s/%s", notificationID, s.newID())
	if err := s.repo.Save(ctx, key, notificationID, payload); err != nil {
		return "", fmt.Errorf("save payload: %w", err)
	}
	return key, nil
}
