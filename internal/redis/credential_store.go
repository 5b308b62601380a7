package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rfavre/ovhsentry/internal/domain"
)

// keyPrefix namespaces all store keys so the daemon can share a Redis
// instance with other tools.
const keyPrefix = "ovhsentry:"

// CredentialStore persists the access secret and the current account
// selection. Values are opaque strings; unset keys read back as "".
type CredentialStore struct {
	rdb *goredis.Client
}

func NewCredentialStore(rdb *goredis.Client) *CredentialStore {
	return &CredentialStore{rdb: rdb}
}

func (s *CredentialStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *CredentialStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// HasAccessSecret reports whether an access secret has been stored.
func (s *CredentialStore) HasAccessSecret(ctx context.Context) (bool, error) {
	secret, err := s.Get(ctx, domain.KeyAccessSecret)
	if err != nil {
		return false, err
	}
	return secret != "", nil
}
