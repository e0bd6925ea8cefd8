package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// ItemDefinitionCache implements domain.ItemDefinitionCache with one hash
// per definition.
//
// Key schema:
//
//	itemdef:{id} - hash with field "data" containing JSON
type ItemDefinitionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewItemDefinitionCache creates an ItemDefinitionCache with the given TTL.
func NewItemDefinitionCache(c *Client, ttl time.Duration) *ItemDefinitionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ItemDefinitionCache{rdb: c.Underlying(), ttl: ttl}
}

func itemDefKey(id string) string { return "itemdef:" + id }

// Set stores def with the cache TTL.
func (c *ItemDefinitionCache) Set(ctx context.Context, def domain.ItemDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("redis: marshal item definition %s: %w", def.ID, err)
	}
	key := itemDefKey(def.ID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set item definition %s: %w", def.ID, err)
	}
	return nil
}

// Get returns a cached definition or domain.ErrNotFound.
func (c *ItemDefinitionCache) Get(ctx context.Context, id string) (domain.ItemDefinition, error) {
	data, err := c.rdb.HGet(ctx, itemDefKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ItemDefinition{}, domain.ErrNotFound
		}
		return domain.ItemDefinition{}, fmt.Errorf("redis: get item definition %s: %w", id, err)
	}
	var def domain.ItemDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return domain.ItemDefinition{}, fmt.Errorf("redis: unmarshal item definition %s: %w", id, err)
	}
	return def, nil
}

// Invalidate drops a cached definition.
func (c *ItemDefinitionCache) Invalidate(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, itemDefKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate item definition %s: %w", id, err)
	}
	return nil
}

var _ domain.ItemDefinitionCache = (*ItemDefinitionCache)(nil)
