// Package ratelimit throttles order intake and remembers idempotency keys
// so a retried webhook does not create a second order.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/waiterless/internal/config"
)

const (
	keyIntakeTenant      = "intake:tenant:%s"
	keyIntakeChannel     = "intake:channel:%s:%s"
	keyIntakeIdempotency = "intake:idem:%s:%s"
)

// Bucket is the token bucket the limiter draws from.
type Bucket interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error)
}

// KeyLocker claims keys for a bounded time.
type KeyLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// IntakeLimiter is nil-safe: a nil limiter allows everything.
type IntakeLimiter struct {
	bucket Bucket
	locker KeyLocker

	tenantRate     float64
	tenantBurst    int
	channelRate    float64
	channelBurst   int
	idempotencyTTL time.Duration
}

func NewIntakeLimiter(cfg config.Config) (*IntakeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.TenantRate <= 0 || limitCfg.TenantBurst <= 0 {
		return nil, errors.New("intake tenant rate limit must be positive")
	}
	if limitCfg.ChannelRate <= 0 || limitCfg.ChannelBurst <= 0 {
		return nil, errors.New("intake channel rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return NewIntakeLimiterWith(NewTokenBucket(client), NewClaims(client), limitCfg), nil
}

func NewIntakeLimiterWith(b Bucket, l KeyLocker, cfg config.RateLimitConfig) *IntakeLimiter {
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IntakeLimiter{
		bucket:         b,
		locker:         l,
		tenantRate:     cfg.TenantRate,
		tenantBurst:    cfg.TenantBurst,
		channelRate:    cfg.ChannelRate,
		channelBurst:   cfg.ChannelBurst,
		idempotencyTTL: ttl,
	}
}

func (l *IntakeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *IntakeLimiter) AllowTenant(ctx context.Context, tenantKey string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIntakeTenant, normalizeKey(tenantKey)), l.tenantRate, l.tenantBurst)
}

func (l *IntakeLimiter) AllowChannel(ctx context.Context, tenantKey, channel string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyIntakeChannel, normalizeKey(tenantKey), normalizeKey(channel))
	return l.bucket.Allow(ctx, key, l.channelRate, l.channelBurst)
}

// ClaimIdempotencyKey returns false when the key was already claimed inside
// the TTL. The returned token releases the claim if the submission fails.
func (l *IntakeLimiter) ClaimIdempotencyKey(ctx context.Context, tenantKey, key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if !l.Enabled() || l.locker == nil || key == "" {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyIntakeIdempotency, normalizeKey(tenantKey), key), l.idempotencyTTL)
}

func (l *IntakeLimiter) ReleaseIdempotencyKey(ctx context.Context, tenantKey, key, token string) error {
	key = strings.TrimSpace(key)
	if !l.Enabled() || l.locker == nil || key == "" || token == "" {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyIntakeIdempotency, normalizeKey(tenantKey), key), token)
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
