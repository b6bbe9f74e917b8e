package main

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"camstream/internal/core/domain"
	"camstream/internal/core/services"
	repositories "camstream/internal/infrastructure/repositories"
	signalinfra "camstream/internal/infrastructure/signal"
)

type viewFlags struct {
	token     string
	adminAddr string
}

func newViewCommand(a *app) *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:   "view <session-code>",
		Short: "Join a broadcast and serve its latest frame over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runView(cmd, domain.SessionCode(args[0]), flags)
		},
	}
	cmd.Flags().StringVar(&flags.token, "token", "", "signaling bearer token (overrides signaling.token)")
	cmd.Flags().StringVar(&flags.adminAddr, "admin-addr", "", "frame, status and metrics listen address (defaults to monitoring.address)")
	return cmd
}

// latestFrame keeps the most recent frame for the HTTP endpoint.
type latestFrame struct {
	mu    sync.RWMutex
	frame domain.ReceivedFrame
}

func (l *latestFrame) store(frame domain.ReceivedFrame) {
	l.mu.Lock()
	l.frame = frame
	l.mu.Unlock()
}

func (l *latestFrame) load() (domain.ReceivedFrame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, len(l.frame.JPEG) > 0
}

func (a *app) runView(cmd *cobra.Command, code domain.SessionCode, flags viewFlags) error {
	ctx := cmd.Context()
	cfg := a.cfg

	repoFactory := repositories.NewRepositoryFactory(cfg, a.log)
	defer repoFactory.Close()
	prefs := a.newPreferences(ctx, repoFactory)

	token := cfg.Signaling.Token
	if flags.token != "" {
		token = flags.token
	}
	_, healthURL := a.endpoints(prefs)

	latest := &latestFrame{}
	viewer := services.NewViewService(services.ViewConfig{
		FeedbackInterval: cfg.WebRTC.FeedbackInterval,
		Health:           a.healthConfig(),
	}, services.ViewDeps{
		Signaling: a.signalingFactory(prefs, token),
		Peers:     a.peerFactory(),
		Receivers: a.receiverFactory(),
		Health:    signalinfra.NewHealthClient(healthURL, &http.Client{Timeout: cfg.Health.ProbeTimeout}),
		OnFrame:   latest.store,
	}, a.log, a.metrics)

	if err := viewer.Start(ctx, code); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}

	router := a.newRouter()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, viewer.Status())
	})
	router.GET("/frame.jpg", func(c *gin.Context) {
		frame, ok := latest.load()
		if !ok {
			c.Status(http.StatusNoContent)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Header("Last-Modified", frame.ReceivedAt.UTC().Format(http.TimeFormat))
		c.Data(http.StatusOK, "image/jpeg", frame.JPEG)
	})
	// Lets the host tell the viewer its network came back.
	router.POST("/network-available", func(c *gin.Context) {
		viewer.NetworkAvailable()
		c.Status(http.StatusAccepted)
	})

	srv := &http.Server{Addr: adminAddress(flags.adminAddr, cfg.Monitoring.Address), Handler: router}
	serverErr := a.serve(srv, "viewer")

	select {
	case err := <-serverErr:
		a.log.Errorw("viewer server failed", "error", err)
	case sig := <-shutdownSignals():
		a.log.Infow("received shutdown signal", "signal", sig)
	case <-viewer.Done():
		a.log.Infow("viewer left the session")
	}

	viewer.Stop()
	a.shutdown(srv, 5*time.Second)
	return nil
}
