package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the claim only while it still carries the caller's token, so a
// release that arrives after expiry never drops a newer submission's claim.
const claimReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var errClaimsNotConfigured = errors.New("idempotency claims not configured")

type claimClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Claims records submission idempotency keys in Redis.
type Claims struct {
	client  claimClient
	release *redis.Script
}

func NewClaims(client claimClient) *Claims {
	if client == nil {
		return nil
	}
	return &Claims{client: client, release: redis.NewScript(claimReleaseScript)}
}

// TryLock claims key for ttl. ok is false when another submission holds it.
func (c *Claims) TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	switch {
	case c == nil || c.client == nil:
		return "", false, errClaimsNotConfigured
	case key == "":
		return "", false, errors.New("claim key is empty")
	case ttl <= 0:
		return "", false, errors.New("claim ttl must be positive")
	}

	token = uuid.NewString()
	ok, err = c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (c *Claims) Release(ctx context.Context, key, token string) error {
	if c == nil || c.client == nil || key == "" || token == "" {
		return nil
	}
	return c.release.Run(ctx, c.client, []string{key}, token).Err()
}
