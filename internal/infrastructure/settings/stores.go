package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"camstream/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v2"
)

// MemoryStore is an in-process settings store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore(initial map[string]string) *MemoryStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

func (m *MemoryStore) Load(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// FileStore reads a flat YAML mapping on every Load, so edits made by
// another process take effect on the next refresh.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", f.path, err)
	}

	// Decoding into strings keeps scalars as written, so session_code: 012345
	// is not read as an octal number. A document that is not a flat mapping
	// fails to decode.
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", f.path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Set rewrites the file with key updated. The write goes through a
// temporary file so readers never see a truncated mapping.
func (f *FileStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	values[key] = value

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

// RedisStore keeps settings in one Redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (r *RedisStore) Load(ctx context.Context) (map[string]string, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings from Redis: %w", err)
	}
	return values, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.HSet(ctx, r.key, key, value).Err(); err != nil {
		return fmt.Errorf("failed to store setting %s in Redis: %w", key, err)
	}
	return nil
}

var (
	_ ports.SettingsStore = (*MemoryStore)(nil)
	_ ports.SettingsStore = (*FileStore)(nil)
	_ ports.SettingsStore = (*RedisStore)(nil)
)
