package database

import (
	"context"
	"fmt"
	"time"

	"github.com/campusbridge/alumni-connect/internal/config"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/redis/go-redis/v9"
)

var Redis *redis.Client

func InitRedis(ctx context.Context) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := client.Ping(pingCtx).Result(); err != nil {
		logger.Warn().Err(err).Str("addr", config.AppConfig.RedisAddr).
			Msg("Failed to connect to Redis; chat send throttling disabled")
		_ = client.Close()
		return
	}
	Redis = client
	logger.Info().Msg("Connected to Redis successfully")
}

// RateLimiter is a fixed-window counter keyed by an arbitrary subject.
type RateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRateLimiter returns nil when client is nil; a nil limiter allows everything.
func NewRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	if client == nil || limit <= 0 {
		return nil
	}
	return &RateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow increments the subject's counter and reports whether it is within the limit.
// Redis errors fail open.
func (l *RateLimiter) Allow(ctx context.Context, subject string) bool {
	if l == nil {
		return true
	}
	key := fmt.Sprintf("rate_limit:%s:%s", l.prefix, subject)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Rate limit check failed")
		return true
	}

	if count == 1 {
		l.client.Expire(ctx, key, l.window)
	}
	return count <= int64(l.limit)
}

// PingRedis reports the redis health for /health.
func PingRedis(ctx context.Context) string {
	if Redis == nil {
		return "not configured"
	}
	if _, err := Redis.Ping(ctx).Result(); err != nil {
		return "error"
	}
	return "ok"
}
