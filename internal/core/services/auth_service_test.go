package services

import (
	"context"
	"testing"
	"time"

	"camstream/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	svc := NewAuthService("secret", time.Hour)

	token, err := svc.GenerateToken("123456", domain.RoleBroadcaster)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCode("123456"), claims.SessionCode)
	assert.Equal(t, domain.RoleBroadcaster, claims.Role)
}

func TestAuthService_Rejects(t *testing.T) {
	svc := NewAuthService("secret", time.Hour)
	other := NewAuthService("other-secret", time.Hour)

	token, err := other.GenerateToken("123456", domain.RoleViewer)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewAuthService("secret", -time.Minute)
	token, err = expired.GenerateToken("123456", domain.RoleViewer)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthService_Authorize(t *testing.T) {
	svc := NewAuthService("secret", time.Hour)

	viewer := &Claims{SessionCode: "111111", Role: domain.RoleViewer}
	broadcaster := &Claims{SessionCode: "111111", Role: domain.RoleBroadcaster}

	assert.NoError(t, svc.Authorize(viewer, "111111", domain.RoleViewer))
	assert.ErrorIs(t, svc.Authorize(viewer, "111111", domain.RoleBroadcaster), ErrUnauthorized)
	assert.ErrorIs(t, svc.Authorize(viewer, "222222", domain.RoleViewer), ErrUnauthorized)
	assert.NoError(t, svc.Authorize(broadcaster, "111111", domain.RoleViewer))
	assert.ErrorIs(t, svc.Authorize(nil, "111111", domain.RoleViewer), ErrUnauthorized)
}

func TestClaimsContext(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithClaims(context.Background(), &Claims{SessionCode: "111111"})
	claims, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, domain.SessionCode("111111"), claims.SessionCode)
}
