package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options locates the Redis instance shared by the rendezvous servers and
// the settings store.
type Options struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

const connectTimeout = 5 * time.Second

// Connect dials Redis, checks it answers and brings the key layout up to
// date. The client is closed again on any failure.
func Connect(opts Options, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
		DialTimeout:  connectTimeout,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Address, err)
	}
	if err := Migrate(ctx, client, logger); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis key migration: %w", err)
	}

	logger.Infow("connected to redis", "address", opts.Address, "db", opts.DB)
	return client, nil
}
