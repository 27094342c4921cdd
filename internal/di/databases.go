package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/database"
)

// InitializeDatabases opens the configured dataset cache backend
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	switch cfg.Cache.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})

		// Redis may come up after us; the cache degrades to fetch-through until then.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis not reachable yet")
		}

		container.Redis = rdb
		container.Store = clientdata.NewRedisStore(rdb, cfg.Cache.Namespace)
		log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Using Redis dataset cache")

	default:
		// cache.db - Ephemeral dataset snapshots
		cacheDB, err := database.New(database.Config{
			Path:    cfg.CachePath(),
			Profile: database.ProfileCache,
			Name:    "cache",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache database: %w", err)
		}
		if err := cacheDB.Migrate(); err != nil {
			cacheDB.Close()
			return nil, fmt.Errorf("failed to migrate cache database: %w", err)
		}

		container.CacheDB = cacheDB
		container.Store = clientdata.NewRepository(cacheDB.Conn())
		log.Info().Str("path", cfg.CachePath()).Msg("Using SQLite dataset cache")
	}

	return container, nil
}
