package redis

import (
	"context"
	"fmt"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	activeSessionsKey  = "camstream:sessions:active"
	defaultSettingsKey = "camstream:settings"
)

// releaseSession clears the broadcaster slot only if it still belongs to the
// calling connection, then drops the session from the active set once empty.
var releaseSession = redis.NewScript(`
if ARGV[2] == "broadcaster" then
  if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("DEL", KEYS[1])
  end
else
  redis.call("SREM", KEYS[2], ARGV[1])
end
if redis.call("EXISTS", KEYS[1]) == 0 and redis.call("SCARD", KEYS[2]) == 0 then
  redis.call("SREM", KEYS[3], ARGV[3])
end
return 1
`)

// RedisSessionRegistry shares session membership between server replicas.
type RedisSessionRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionRegistry(client *redis.Client) ports.SessionRegistry {
	return &RedisSessionRegistry{
		client: client,
		prefix: "camstream:session:",
	}
}

func (r *RedisSessionRegistry) broadcasterKey(code domain.SessionCode) string {
	return r.prefix + string(code) + ":broadcaster"
}

func (r *RedisSessionRegistry) viewersKey(code domain.SessionCode) string {
	return r.prefix + string(code) + ":viewers"
}

func (r *RedisSessionRegistry) Register(ctx context.Context, code domain.SessionCode, role domain.Role, connectionID string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %s", role)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if role == domain.RoleBroadcaster {
			pipe.Set(ctx, r.broadcasterKey(code), connectionID, 0)
		} else {
			pipe.SAdd(ctx, r.viewersKey(code), connectionID)
		}
		pipe.SAdd(ctx, activeSessionsKey, string(code))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register connection in Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRegistry) Unregister(ctx context.Context, code domain.SessionCode, role domain.Role, connectionID string) error {
	keys := []string{r.broadcasterKey(code), r.viewersKey(code), activeSessionsKey}
	if err := releaseSession.Run(ctx, r.client, keys, connectionID, string(role), string(code)).Err(); err != nil {
		return fmt.Errorf("failed to unregister connection in Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRegistry) HasBroadcaster(ctx context.Context, code domain.SessionCode) (bool, error) {
	n, err := r.client.Exists(ctx, r.broadcasterKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check broadcaster in Redis: %w", err)
	}
	return n > 0, nil
}

func (r *RedisSessionRegistry) ViewerCount(ctx context.Context, code domain.SessionCode) (int, error) {
	n, err := r.client.SCard(ctx, r.viewersKey(code)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count viewers in Redis: %w", err)
	}
	return int(n), nil
}

func (r *RedisSessionRegistry) ActiveSessions(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, activeSessionsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions in Redis: %w", err)
	}
	return int(n), nil
}
