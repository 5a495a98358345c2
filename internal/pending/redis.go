package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/authcore/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces pending requests in a shared redis.
const DefaultKeyPrefix = "oauth2:pending:"

// Redis stores pending requests as JSON values with a TTL, so multiple
// server instances behind a load balancer share sessions.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client. Zero values select DefaultKeyPrefix
// and DefaultTTL.
func NewRedis(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *Redis {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Save implements Store.
func (r *Redis) Save(ctx context.Context, sessionKey string, req *models.PendingAuthorizationRequest) error {
	if req == nil {
		return r.Remove(ctx, sessionKey)
	}

	if sessionKey == "" {
		return nil
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding pending request: %w", err)
	}

	if err := r.client.Set(ctx, r.keyPrefix+sessionKey, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("saving pending request: %w", err)
	}

	return nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, sessionKey string) (*models.PendingAuthorizationRequest, error) {
	if sessionKey == "" {
		return nil, nil
	}

	data, err := r.client.Get(ctx, r.keyPrefix+sessionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("loading pending request: %w", err)
	}

	var req models.PendingAuthorizationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding pending request: %w", err)
	}

	return &req, nil
}

// Remove implements Store.
func (r *Redis) Remove(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		return nil
	}

	if err := r.client.Del(ctx, r.keyPrefix+sessionKey).Err(); err != nil {
		return fmt.Errorf("removing pending request: %w", err)
	}

	return nil
}
