package repositories

import (
	"context"

	"camstream/internal/core/ports"
	"camstream/internal/infrastructure/repositories/memory"
	redisrepo "camstream/internal/infrastructure/repositories/redis"
	"camstream/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory hands out the session registry and the shared Redis
// client. Without a reachable Redis everything runs in memory.
type RepositoryFactory struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	f := &RepositoryFactory{logger: logger}
	if !cfg.Redis.Enabled {
		logger.Debugw("redis disabled, using memory repositories")
		return f
	}

	client, err := redisrepo.Connect(redisrepo.Options{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Warnw("falling back to memory repositories", "error", err)
		return f
	}
	f.client = client
	return f
}

// CreateSessionRegistry returns a registry shared through Redis when it is
// connected, otherwise one private to this process.
func (f *RepositoryFactory) CreateSessionRegistry() ports.SessionRegistry {
	if f.client != nil {
		return redisrepo.NewRedisSessionRegistry(f.client)
	}
	return memory.NewMemorySessionRegistry()
}

// RedisClient returns the shared client, or nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.client
}

func (f *RepositoryFactory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}

// HealthCheck pings Redis; memory repositories are always healthy.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	return f.client.Ping(ctx).Err()
}
