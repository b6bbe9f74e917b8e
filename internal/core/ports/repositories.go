package ports

import (
	"context"

	"camstream/internal/core/domain"
)

// SessionRegistry tracks which signaling connections belong to which session.
type SessionRegistry interface {
	Register(ctx context.Context, code domain.SessionCode, role domain.Role, connectionID string) error
	Unregister(ctx context.Context, code domain.SessionCode, role domain.Role, connectionID string) error
	HasBroadcaster(ctx context.Context, code domain.SessionCode) (bool, error)
	ViewerCount(ctx context.Context, code domain.SessionCode) (int, error)
	ActiveSessions(ctx context.Context) (int, error)
}

// SettingsStore is the flat key/value configuration store written by the
// controlling application.
type SettingsStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}
