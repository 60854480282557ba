package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bookvault/internal/config"
	"go.uber.org/fx"
)

// provideRedis returns nil when no address is configured; the limiter and
// locker degrade to disabled in that case.
func provideRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

var Module = fx.Module("rate.limit",
	fx.Provide(
		provideRedis,
		NewTokenBucket,
		NewLocker,
	),
)
