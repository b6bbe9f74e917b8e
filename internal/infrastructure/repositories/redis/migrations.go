package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "camstream:schema:version"
	currentSchemaVersion = 2
)

// Migration represents a schema migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// Stale membership from a crashed server is dropped; connections
			// re-register when they reconnect.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				return client.Del(ctx, activeSessionsKey).Err()
			},
		},
		{
			// Settings moved from individual keys into one hash.
			Version: 2,
			Up: func(ctx context.Context, client *redis.Client) error {
				var cursor uint64
				for {
					keys, next, err := client.Scan(ctx, cursor, "camstream:setting:*", 100).Result()
					if err != nil {
						return err
					}
					for _, key := range keys {
						val, err := client.Get(ctx, key).Result()
						if err != nil {
							continue
						}
						field := key[len("camstream:setting:"):]
						if err := client.HSet(ctx, defaultSettingsKey, field, val).Err(); err != nil {
							return err
						}
						client.Del(ctx, key)
					}
					if next == 0 {
						return nil
					}
					cursor = next
				}
			},
		},
	}
}
