package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/credvault/credvault/internal/auth"
)

const (
	emailKeyPrefix = "credvault:email:"

	// DefaultEmailTTL bounds how long a registered email is remembered.
	DefaultEmailTTL = 24 * time.Hour
)

// EmailKnown reports whether email was previously recorded as registered.
// Only positive answers are stored, so false means "ask the database",
// not "absent".
func (c *Cache) EmailKnown(ctx context.Context, email string) (bool, error) {
	err := c.client.Get(ctx, emailKey(email)).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("redis get failed: %w", err)
	}
}

// MarkEmail records that email is registered.
func (c *Cache) MarkEmail(ctx context.Context, email string) error {
	if err := c.client.Set(ctx, emailKey(email), "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// emailKey hashes the address so raw emails never sit in Redis.
func emailKey(email string) string {
	return emailKeyPrefix + auth.QuickHash(email)
}
