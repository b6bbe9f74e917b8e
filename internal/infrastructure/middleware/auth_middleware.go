package middleware

import (
	"strings"

	"camstream/internal/core/services"
	"camstream/pkg/errors"

	"github.com/gin-gonic/gin"
)

// bearerToken reads the token from the Authorization header, or from the
// "token" query parameter for clients that cannot set upgrade headers.
func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

// SignalingAuthMiddleware validates the bearer token on the upgrade request
// and stores its claims on the request context. Without a token the request
// passes only when required is false; an invalid token is always rejected.
func SignalingAuthMiddleware(authService services.AuthService, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			if c.GetHeader("Authorization") != "" {
				abortWithAppError(c, errors.NewUnauthorizedError("invalid authorization header format"))
				return
			}
			if required {
				abortWithAppError(c, errors.NewUnauthorizedError("authorization required"))
				return
			}
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWithAppError(c, errors.NewUnauthorizedError(err.Error()))
			return
		}

		c.Request = c.Request.WithContext(services.WithClaims(c.Request.Context(), claims))
		c.Set("session_code", claims.SessionCode)
		c.Set("role", claims.Role)
		c.Next()
	}
}
