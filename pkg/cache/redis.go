// Package cache opens the Redis client shared by the response cache, the
// rotation state snapshot and the change announcements.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/signage-rotation-api/pkg/config"
)

// NewRedis connects and pings before returning the client. Redis holds the
// rotation state snapshot, so the server does not come up without it.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}
