package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"camstream/internal/core/services"
	"camstream/internal/infrastructure/capture"
	repositories "camstream/internal/infrastructure/repositories"
)

type broadcastFlags struct {
	noSignaling bool
	noRecording bool
	token       string
	adminAddr   string
}

func newBroadcastCommand(a *app) *cobra.Command {
	var flags broadcastFlags
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Capture the camera and stream it to a viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBroadcast(cmd, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.noSignaling, "no-signaling", false, "record locally without streaming")
	cmd.Flags().BoolVar(&flags.noRecording, "no-recording", false, "stream without a local backup recording")
	cmd.Flags().StringVar(&flags.token, "token", "", "signaling bearer token (overrides signaling.token)")
	cmd.Flags().StringVar(&flags.adminAddr, "admin-addr", "", "status and metrics listen address (defaults to monitoring.address)")
	return cmd
}

func (a *app) runBroadcast(cmd *cobra.Command, flags broadcastFlags) error {
	ctx := cmd.Context()
	cfg := a.cfg

	repoFactory := repositories.NewRepositoryFactory(cfg, a.log)
	defer repoFactory.Close()

	prefs := a.newPreferences(ctx, repoFactory)
	archiver, err := a.newArchiver(ctx)
	if err != nil {
		return err
	}

	token := cfg.Signaling.Token
	if flags.token != "" {
		token = flags.token
	}

	deps := services.BroadcastDeps{
		Preferences: prefs,
		Capture: capture.NewTestPattern(capture.Config{
			Width:     cfg.Capture.Width,
			Height:    cfg.Capture.Height,
			FrameRate: cfg.Capture.FrameRate,
		}, a.log),
		Resources:    a.newResourceReader(),
		Peers:        a.peerFactory(),
		NetworkSinks: a.networkSinkFactory(),
		Router:       a.routerFactory(),
		Archiver:     archiver,
	}
	if !flags.noSignaling {
		deps.Signaling = a.signalingFactory(prefs, token)
	}
	if !flags.noRecording {
		deps.Recorders = a.recorderFactory()
	}

	broadcast := services.NewBroadcastService(services.BroadcastConfig{
		Quality:          a.qualityConfig(),
		SampleInterval:   cfg.Quality.SampleInterval,
		RecordingEnabled: cfg.Recording.Enabled && !flags.noRecording,
	}, deps, a.log, a.metrics)

	code, err := broadcast.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start broadcast: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session code: %s\n", code)

	router := a.newRouter()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, broadcast.Status())
	})
	router.GET("/ready", func(c *gin.Context) {
		state := broadcast.State()
		if state != services.BroadcastLive && state != services.BroadcastLocalOnly {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "state": state})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "state": state})
	})

	srv := &http.Server{Addr: adminAddress(flags.adminAddr, cfg.Monitoring.Address), Handler: router}
	serverErr := a.serve(srv, "admin")

	select {
	case err := <-serverErr:
		a.log.Errorw("admin server failed", "error", err)
	case sig := <-shutdownSignals():
		a.log.Infow("received shutdown signal", "signal", sig)
	case <-broadcast.Done():
		a.log.Infow("broadcast ended")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.SignalServer.ShutdownTimeout)
	defer cancel()
	session, stopErr := broadcast.Stop(stopCtx)
	a.shutdown(srv, 5*time.Second)

	if session != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "recording: %s (%d frames)\n", session.OutputPath, session.FrameCount)
	}
	return stopErr
}

func adminAddress(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}
