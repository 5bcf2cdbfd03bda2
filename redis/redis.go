package redis

import (
	"context"
	"time"

	"collaborative-doc-sync/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var RedisClient *redis.Client

// InitRedis connects to REDIS_ADDRESS. The server keeps running without a
// cache when redis is unreachable.
func InitRedis(ctx context.Context) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: config.AppConfig.RedisAddress,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", config.AppConfig.RedisAddress).Msg("redis not available, running without cache")
		client.Close()
		RedisClient = nil
		return nil
	}

	log.Info().Str("addr", config.AppConfig.RedisAddress).Msg("redis connected")
	RedisClient = client
	return client
}

func CloseRedis() {
	if RedisClient == nil {
		return
	}
	if err := RedisClient.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close redis")
	}
}
