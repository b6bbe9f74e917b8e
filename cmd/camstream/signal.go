package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"camstream/internal/core/domain"
	"camstream/internal/core/services"
	"camstream/internal/infrastructure/middleware"
	"camstream/internal/infrastructure/monitoring"
	repositories "camstream/internal/infrastructure/repositories"
	signalinfra "camstream/internal/infrastructure/signal"
	"camstream/pkg/validation"
)

func newSignalCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Run the rendezvous server that pairs broadcasters with viewers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.SignalServer.Address = addr
			}
			return a.runSignal()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to signal_server.address)")
	return cmd
}

func (a *app) runSignal() error {
	startTime := time.Now()
	cfg := a.cfg

	repoFactory := repositories.NewRepositoryFactory(cfg, a.log)
	defer func() {
		if err := repoFactory.Close(); err != nil {
			a.log.Errorw("error closing repository factory", "error", err)
		}
	}()
	registry := repoFactory.CreateSessionRegistry()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	serverCfg := signalinfra.DefaultServerConfig()
	serverCfg.PingInterval = cfg.SignalServer.PingInterval
	serverCfg.PongTimeout = cfg.SignalServer.PongTimeout
	serverCfg.AllowedOrigins = cfg.SignalServer.AllowedOrigins
	serverCfg.AuthRequired = cfg.Auth.Required
	if cfg.RateLimiting.Enabled {
		serverCfg.MessagesPerSecond = cfg.RateLimiting.MessagesPerSecond
		serverCfg.MessageBurst = cfg.RateLimiting.Burst
	}
	if cfg.RateLimiting.MaxMessageSizeBytes > 0 {
		serverCfg.MaxMessageSize = cfg.RateLimiting.MaxMessageSizeBytes
	}
	wsServer := signalinfra.NewWebSocketServer(registry, authService, serverCfg, a.log.With("component", "signal_server"), a.metrics)

	checker := monitoring.NewHealthChecker()
	checker.AddRegistryCheck(registry, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, 2*time.Second)
	}

	router := a.newRouter()
	router.GET("/ws",
		middleware.NewConnectionRateLimitMiddleware(cfg),
		middleware.SignalingAuthMiddleware(authService, cfg.Auth.Required),
		gin.WrapF(wsServer.HandleWebSocket),
	)
	router.GET("/health", gin.WrapF(wsServer.HealthCheck))
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := checker.CheckAll(ctx)
		if status.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	})
	router.GET("/sessions/:code", func(c *gin.Context) {
		code := c.Param("code")
		if err := validation.ValidateSessionCode(code); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_code": code,
			"broadcasting": wsServer.IsBroadcasting(domain.SessionCode(code)),
			"uptime":       time.Since(startTime).String(),
		})
	})

	srv := &http.Server{
		Addr:        cfg.SignalServer.Address,
		Handler:     router,
		ReadTimeout: cfg.SignalServer.ReadTimeout,
	}
	serverErr := a.serve(srv, "signal")

	select {
	case err := <-serverErr:
		return err
	case sig := <-shutdownSignals():
		a.log.Infow("received shutdown signal", "signal", sig)
	}

	a.log.Info("shutting down signaling server")
	a.shutdown(srv, cfg.SignalServer.ShutdownTimeout)
	a.log.Info("signaling server stopped")
	return nil
}
