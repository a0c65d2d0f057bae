// Package denylist records revoked tokens. Membership is monotonic: an entry
// disappears only after its token has expired and the entry is pruned.
package denylist

import (
	"context"
	"fmt"
	"time"

	"tiergate/internal/models"
	"tiergate/internal/storage"

	"github.com/redis/go-redis/v9"
)

// Store is the revocation set consulted before token verification.
type Store interface {
	// Contains reports whether the raw token has been revoked.
	Contains(ctx context.Context, token string) (bool, error)

	// Add revokes the token until expiresAt. Adding a token twice is a no-op.
	Add(ctx context.Context, token string, expiresAt time.Time) error
}

// StorageStore keeps the denylist in the token_denylist table of the
// persistence layer.
type StorageStore struct {
	store storage.Storage
}

// NewStorageStore returns a denylist backed by store.
func NewStorageStore(store storage.Storage) *StorageStore {
	return &StorageStore{store: store}
}

func (s *StorageStore) Contains(ctx context.Context, token string) (bool, error) {
	return s.store.DenylistContains(ctx, token)
}

func (s *StorageStore) Add(ctx context.Context, token string, expiresAt time.Time) error {
	return s.store.AddDenylistEntry(ctx, models.NewDenylistEntry(token, expiresAt))
}

// RedisStore keeps one key per revoked token, named by the token's SHA-256
// digest and expiring together with the token.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
	now       func() time.Time
}

// NewRedisStore returns a denylist keeping one expiring key per token under
// keyPrefix, "denylist" when empty.
func NewRedisStore(client redis.Cmdable, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "denylist"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func (s *RedisStore) key(token string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, models.HashToken(token))
}

func (s *RedisStore) Contains(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("denylist lookup: %w", err)
	}
	return n > 0, nil
}

// Add stores the token with a TTL reaching its expiry. Tokens that have
// already expired are skipped since they no longer verify.
func (s *RedisStore) Add(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	// Round up so the key never outlives the token by less than a second.
	ttl = ttl.Truncate(time.Second) + time.Second
	if err := s.client.SetNX(ctx, s.key(token), expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("denylist add: %w", err)
	}
	return nil
}
