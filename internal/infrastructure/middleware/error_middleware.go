package middleware

import (
	"net/http"

	"camstream/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// abortWithAppError stops the chain and writes appErr as the response body.
func abortWithAppError(c *gin.Context, appErr *errors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}

// ErrorHandlerMiddleware turns errors attached with c.Error into JSON
// responses, using the AppError status and code when there is one.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if appErr := errors.GetAppError(err); appErr != nil {
			logger.Warnw("request failed",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
			)
			abortWithAppError(c, appErr)
			return
		}

		logger.Errorw("unhandled error",
			"error", err,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		abortWithAppError(c, errors.NewInternalError("internal server error"))
	}
}

// RecoveryMiddleware recovers from panics in handlers.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorw("panic recovered",
					"error", rec,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error":   string(errors.ErrCodeInternal),
						"message": "internal server error",
					})
					return
				}
				c.Abort()
			}
		}()

		c.Next()
	}
}
