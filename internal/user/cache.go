package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache keeps sanitized users in Redis so session validation does not hit
// Postgres on every request. Entries are short-lived and invalidated on the
// only mutation in scope (the verified flag flipping), so staleness is
// bounded by the TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func userKey(id uuid.UUID) string {
	return fmt.Sprintf("user:%s", id.String())
}

// Get returns the cached user, or ErrNotFound on a miss
func (c *Cache) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	data, err := c.client.Get(ctx, userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached user: %w", err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to decode cached user: %w", err)
	}

	return &u, nil
}

// Set stores a sanitized copy of the user. Sensitive fields are stripped
// before marshalling regardless of what the caller passes in.
func (c *Cache) Set(ctx context.Context, u *User) error {
	data, err := json.Marshal(u.Sanitized())
	if err != nil {
		return fmt.Errorf("failed to encode user for cache: %w", err)
	}

	if err := c.client.Set(ctx, userKey(u.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache user: %w", err)
	}

	return nil
}

// Invalidate drops the cached entry for a user
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := c.client.Del(ctx, userKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached user: %w", err)
	}
	return nil
}
