package services

import (
	"context"
	"errors"
	"time"

	"camstream/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and checks the bearer tokens presented on the signaling
// upgrade request. A token is bound to one session code and role.
type AuthService interface {
	GenerateToken(code domain.SessionCode, role domain.Role) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	Authorize(claims *Claims, code domain.SessionCode, role domain.Role) error
}

type Claims struct {
	SessionCode domain.SessionCode `json:"session_code"`
	Role        domain.Role        `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) GenerateToken(code domain.SessionCode, role domain.Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		SessionCode: code,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(code),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Authorize checks that claims allow joining code as role. A broadcaster
// token also admits its holder as a viewer of the same session.
func (s *authService) Authorize(claims *Claims, code domain.SessionCode, role domain.Role) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if claims.SessionCode != code {
		return ErrUnauthorized
	}
	if claims.Role == role || claims.Role == domain.RoleBroadcaster {
		return nil
	}
	return ErrUnauthorized
}

type claimsKey struct{}

// WithClaims attaches validated token claims to ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by WithClaims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
