package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/eventbus"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink publishes each event as JSON on "<prefix>:<tenant>:events" so
// other instances and dashboards can follow a tenant.
type RedisSink struct {
	client redisPublisher
	prefix string
}

func NewRedisSink(cfg config.RelayConfig) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	return newRedisSink(client, cfg.RedisPrefix)
}

func newRedisSink(client redisPublisher, prefix string) *RedisSink {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "waiterless"
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Channel(ev eventbus.Event) string {
	return fmt.Sprintf("%s:%s:events", s.prefix, ev.TenantID.String())
}

func (s *RedisSink) Send(ctx context.Context, ev eventbus.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.Channel(ev), body).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
