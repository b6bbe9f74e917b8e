package memory

import (
	"context"
	"fmt"
	"sync"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

type sessionEntry struct {
	broadcaster string
	viewers     map[string]struct{}
}

// MemorySessionRegistry keeps session membership in process memory.
type MemorySessionRegistry struct {
	sessions map[domain.SessionCode]*sessionEntry
	mu       sync.RWMutex
}

func NewMemorySessionRegistry() ports.SessionRegistry {
	return &MemorySessionRegistry{
		sessions: make(map[domain.SessionCode]*sessionEntry),
	}
}

func (r *MemorySessionRegistry) Register(ctx context.Context, code domain.SessionCode, role domain.Role, connectionID string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %s", role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[code]
	if !exists {
		entry = &sessionEntry{viewers: make(map[string]struct{})}
		r.sessions[code] = entry
	}

	if role == domain.RoleBroadcaster {
		entry.broadcaster = connectionID
	} else {
		entry.viewers[connectionID] = struct{}{}
	}
	return nil
}

func (r *MemorySessionRegistry) Unregister(ctx context.Context, code domain.SessionCode, role domain.Role, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[code]
	if !exists {
		return nil
	}

	if role == domain.RoleBroadcaster {
		if entry.broadcaster == connectionID {
			entry.broadcaster = ""
		}
	} else {
		delete(entry.viewers, connectionID)
	}

	if entry.broadcaster == "" && len(entry.viewers) == 0 {
		delete(r.sessions, code)
	}
	return nil
}

func (r *MemorySessionRegistry) HasBroadcaster(ctx context.Context, code domain.SessionCode) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.sessions[code]
	return exists && entry.broadcaster != "", nil
}

func (r *MemorySessionRegistry) ViewerCount(ctx context.Context, code domain.SessionCode) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, exists := r.sessions[code]; exists {
		return len(entry.viewers), nil
	}
	return 0, nil
}

func (r *MemorySessionRegistry) ActiveSessions(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), nil
}
