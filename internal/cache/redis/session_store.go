package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// SessionStore maps opaque bearer tokens to player ids. Tokens are issued by
// the game's auth service; this store only reads them, plus Create for
// tooling and local development.
//
// Key schema:
//
//	session:{token} - string value of the player id, with TTL
type SessionStore struct {
	rdb *redis.Client
}

// NewSessionStore creates a SessionStore backed by the given Client.
func NewSessionStore(c *Client) *SessionStore {
	return &SessionStore{rdb: c.Underlying()}
}

func sessionKey(token string) string { return "session:" + token }

// Resolve returns the player id for token, or domain.ErrUnauthorized.
func (s *SessionStore) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", domain.ErrUnauthorized
	}
	playerID, err := s.rdb.Get(ctx, sessionKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrUnauthorized
		}
		return "", fmt.Errorf("redis: resolve session: %w", err)
	}
	return playerID, nil
}

// Create issues a new token for playerID valid for ttl.
func (s *SessionStore) Create(ctx context.Context, playerID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if err := s.rdb.Set(ctx, sessionKey(token), playerID, ttl).Err(); err != nil {
		return "", fmt.Errorf("redis: create session for %s: %w", playerID, err)
	}
	return token, nil
}

var _ domain.SessionResolver = (*SessionStore)(nil)
