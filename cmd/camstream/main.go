package main

import (
	"context"
	"fmt"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"camstream/internal/core/ports"
	"camstream/internal/infrastructure/monitoring"
	"camstream/pkg/config"
	"camstream/pkg/logger"
	"camstream/pkg/tracing"
)

// Searched in order when --config is not given.
var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/camstream/config.yaml",
	"config.yaml",
}

// app carries what every subcommand shares once the root command has run.
type app struct {
	cfg      *config.Config
	zap      *zap.Logger
	log      *zap.SugaredLogger
	tracer   *tracing.TracerProvider
	registry *prometheus.Registry
	metrics  ports.Metrics
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	var configPath string

	root := &cobra.Command{
		Use:          "camstream",
		Short:        "Live camera streaming over WebRTC with local backup recording",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	root.AddCommand(
		newBroadcastCommand(a),
		newViewCommand(a),
		newSignalCommand(a),
		newTokenCommand(a),
	)
	return root
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	for _, candidate := range configPaths {
		if _, err := os.Stat(candidate); err == nil {
			cfg, err := config.Load(candidate)
			return cfg, candidate, err
		}
	}
	// No file: defaults plus environment overrides.
	cfg, err := config.Load("")
	return cfg, "", err
}

func (a *app) init(configPath string) error {
	cfg, source, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	a.zap, err = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.log = a.zap.Sugar()
	if source != "" {
		a.log.Infow("loaded config", "path", source)
	} else {
		a.log.Infow("no config file found, using defaults")
	}

	a.tracer, err = tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: os.Getenv("CAMSTREAM_ENVIRONMENT"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		a.log.Warnw("tracing disabled", "error", err)
		a.tracer = nil
	}

	if cfg.Monitoring.PrometheusEnabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = monitoring.NewPrometheusCollector(a.registry)
	} else {
		a.metrics = ports.NopMetrics{}
	}
	return nil
}

func (a *app) close() {
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.log.Warnw("tracer shutdown", "error", err)
		}
		cancel()
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
}
