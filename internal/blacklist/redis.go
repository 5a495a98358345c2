package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces revocation markers in a shared redis.
const DefaultKeyPrefix = "token:blacklist:"

const revokedMarker = "revoked"

// Redis stores revocation markers as keys with a native TTL, so expiry
// needs no sweeping.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ Blacklist = (*Redis)(nil)

// NewRedis wraps an existing client. An empty prefix uses
// DefaultKeyPrefix.
func NewRedis(client redis.UniversalClient, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (r *Redis) key(token string) string {
	return r.keyPrefix + tokenKey(token)
}

// Revoke implements Blacklist.
func (r *Redis) Revoke(ctx context.Context, token string, remaining time.Duration) error {
	if token == "" || remaining <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, r.key(token), revokedMarker, remaining).Err(); err != nil {
		return fmt.Errorf("storing revocation marker: %w", err)
	}

	return nil
}

// IsRevoked implements Blacklist.
func (r *Redis) IsRevoked(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	n, err := r.client.Exists(ctx, r.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("checking revocation marker: %w", err)
	}

	return n > 0, nil
}
