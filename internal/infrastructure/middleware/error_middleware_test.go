package middleware

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"camstream/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()

	router := gin.New()
	router.Use(RecoveryMiddleware(logger), ErrorHandlerMiddleware(logger))
	router.GET("/app", func(c *gin.Context) {
		c.Error(errors.NewProtocolError("bad frame"))
	})
	router.GET("/plain", func(c *gin.Context) {
		c.Error(stderrors.New("boom"))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/app", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "PROTOCOL_ERROR")

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/plain", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/panic", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
