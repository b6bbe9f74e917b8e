package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camstream/internal/infrastructure/middleware"
)

// newRouter returns a gin engine with recovery, tracing and error rendering
// installed, plus /metrics when Prometheus is enabled.
func (a *app) newRouter() *gin.Engine {
	if a.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(a.log),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(a.log),
	)

	if a.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}
	return router
}

// serve starts srv in the background. The returned channel receives the
// listener error, if any.
func (a *app) serve(srv *http.Server, name string) <-chan error {
	serverErr := make(chan error, 1)
	go func() {
		a.log.Infow("starting http server", "server", name, "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	return serverErr
}

func (a *app) shutdown(srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			a.log.Errorw("error force closing server", "error", closeErr)
		}
		return
	}
	a.log.Infow("server shutdown gracefully", "address", srv.Addr)
}

func shutdownSignals() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}
