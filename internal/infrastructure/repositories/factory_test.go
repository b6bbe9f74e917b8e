package repositories

import (
	"context"
	"testing"

	"camstream/internal/infrastructure/repositories/memory"
	"camstream/pkg/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRepositoryFactory_MemoryByDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())

	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemorySessionRegistry{}, f.CreateSessionRegistry())
	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NoError(t, f.Close())
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())
	assert.Nil(t, f.RedisClient())
	assert.IsType(t, &memory.MemorySessionRegistry{}, f.CreateSessionRegistry())
}
