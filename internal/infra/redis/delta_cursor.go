package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

const UsersDeltaCursorKey = "directory:users:delta"

// DeltaCursorStore keeps the directory delta link between sync runs.
type DeltaCursorStore struct {
	client *goredis.Client
	key    string
}

func NewDeltaCursorStore(client *goredis.Client, key string) *DeltaCursorStore {
	if key == "" {
		key = UsersDeltaCursorKey
	}
	return &DeltaCursorStore{client: client, key: key}
}

// Get returns the stored cursor, or "" when a full enumeration is needed.
func (s *DeltaCursorStore) Get(ctx context.Context) (string, error) {
	cursor, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read delta cursor: %w", err)
	}
	return cursor, nil
}

func (s *DeltaCursorStore) Set(ctx context.Context, cursor string) error {
	if err := s.client.Set(ctx, s.key, cursor, 0).Err(); err != nil {
		return fmt.Errorf("failed to store delta cursor: %w", err)
	}
	return nil
}

func (s *DeltaCursorStore) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to reset delta cursor: %w", err)
	}
	return nil
}
