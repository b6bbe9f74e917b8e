package main

import (
	"context"
	"fmt"

	pionwebrtc "github.com/pion/webrtc/v3"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/internal/core/services"
	"camstream/internal/infrastructure/pipeline"
	"camstream/internal/infrastructure/recording"
	repositories "camstream/internal/infrastructure/repositories"
	"camstream/internal/infrastructure/settings"
	signalinfra "camstream/internal/infrastructure/signal"
	"camstream/internal/infrastructure/system"
	webrtcinfra "camstream/internal/infrastructure/webrtc"
	"camstream/pkg/archive"
	"camstream/pkg/retry"
)

// newSettingsStore picks the preferences backend. The Redis backend shares
// the repository factory's client and falls back to memory without one.
func (a *app) newSettingsStore(repoFactory *repositories.RepositoryFactory) ports.SettingsStore {
	switch a.cfg.Settings.Backend {
	case "file":
		return settings.NewFileStore(a.cfg.Settings.Path)
	case "redis":
		if client := repoFactory.RedisClient(); client != nil {
			return settings.NewRedisStore(client, a.cfg.Settings.RedisKey)
		}
		a.log.Warnw("redis settings backend unavailable, using memory store")
	}
	return settings.NewMemoryStore(nil)
}

func (a *app) newPreferences(ctx context.Context, repoFactory *repositories.RepositoryFactory) *settings.Provider {
	provider := settings.NewProvider(a.newSettingsStore(repoFactory), a.log.With("component", "settings"))
	if err := provider.Refresh(ctx); err != nil {
		a.log.Warnw("using default preferences", "error", err)
	}
	return provider
}

// endpoints resolves the signaling and health URLs against the custom server
// preferences, keeping the configured ones when those are unusable.
func (a *app) endpoints(prefs ports.PreferencesProvider) (signalingURL, healthURL string) {
	sig, health, err := settings.Endpoints(prefs.Snapshot(), a.cfg.Signaling.URL, a.cfg.Health.URL)
	if err != nil {
		a.log.Warnw("ignoring custom server preference", "error", err)
		return a.cfg.Signaling.URL, a.cfg.Health.URL
	}
	return sig, health
}

func (a *app) signalingFactory(prefs ports.PreferencesProvider, token string) ports.SignalingFactory {
	return func(code domain.SessionCode, role domain.Role, handlers ports.SignalingHandlers) ports.SignalingChannel {
		url, _ := a.endpoints(prefs)
		rc := a.cfg.Signaling.Reconnect
		cfg := signalinfra.ChannelConfig{
			URL:            url,
			SessionCode:    code,
			Role:           role,
			Token:          token,
			ConnectTimeout: a.cfg.Signaling.ConnectTimeout,
			PingInterval:   a.cfg.Signaling.PingInterval,
			PongTimeout:    a.cfg.Signaling.PongTimeout,
			MessageTimeout: a.cfg.Signaling.MessageTimeout,
			SendQueueSize:  a.cfg.Signaling.SendQueueSize,
			Reconnect: retry.Policy{
				BaseDelay:   rc.BaseDelay,
				MaxDelay:    rc.MaxDelay,
				Jitter:      rc.Jitter,
				MaxAttempts: rc.MaxAttempts,
			},
		}
		return signalinfra.NewChannel(cfg, func(ev signalinfra.Event) {
			switch ev.Kind {
			case signalinfra.EventStateChanged:
				handlers.OnState(ev.State, ev.Err)
			case signalinfra.EventMessage:
				handlers.OnMessage(ev.Message)
			}
		}, a.log, a.metrics)
	}
}

func (a *app) iceServers() []pionwebrtc.ICEServer {
	servers := make([]pionwebrtc.ICEServer, 0, len(a.cfg.WebRTC.ICEServers))
	for _, s := range a.cfg.WebRTC.ICEServers {
		servers = append(servers, pionwebrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

func (a *app) peerFactory() ports.PeerSessionFactory {
	pcCfg := webrtcinfra.Config{ICEServers: a.iceServers()}
	pcCfg.PortRange.Min = a.cfg.WebRTC.PortRange.Min
	pcCfg.PortRange.Max = a.cfg.WebRTC.PortRange.Max
	connections := webrtcinfra.NewPeerConnectionFactory(pcCfg, a.log)

	return func(code domain.SessionCode, role domain.Role, signaling ports.SignalingSender, handlers ports.PeerHandlers) ports.PeerSession {
		return webrtcinfra.NewPeerSession(webrtcinfra.SessionConfig{
			Role:        role,
			SessionCode: code,
			Renegotiate: retry.Policy{
				BaseDelay:   a.cfg.WebRTC.RenegotiateDelay,
				MaxDelay:    a.cfg.Signaling.Reconnect.MaxDelay,
				MaxAttempts: a.cfg.WebRTC.MaxRenegotiations,
			},
		}, connections, signaling, handlers, a.log, a.metrics)
	}
}

func (a *app) networkSinkFactory() ports.NetworkSinkFactory {
	return func(transport ports.PeerTransport, onReport func(domain.ReceiverReport)) ports.FeedbackSink {
		return webrtcinfra.NewFrameSender(webrtcinfra.SenderConfig{
			PayloadSize: a.cfg.WebRTC.PacketPayloadSize,
			QueueSize:   a.cfg.Pipeline.NetworkQueueSize,
		}, transport, onReport, a.log, a.metrics)
	}
}

func (a *app) recorderFactory() ports.RecorderFactory {
	return func(code domain.SessionCode) ports.Recorder {
		return recording.NewRecorder(recording.Config{
			Directory:   a.cfg.Recording.Directory,
			QueueSize:   a.cfg.Recording.QueueSize,
			SessionCode: code,
			FrameRate:   a.cfg.Capture.FrameRate,
		}, a.log, a.metrics)
	}
}

func (a *app) routerFactory() ports.FrameRouterFactory {
	return func(quality ports.QualitySource) ports.FrameRouter {
		return pipeline.NewFramePipeline(pipeline.Config{
			ScaleSkipThreshold: a.cfg.Pipeline.ScaleSkipThreshold,
		}, quality, a.log, a.metrics)
	}
}

func (a *app) receiverFactory() ports.FrameConsumerFactory {
	return func(onFrame func(domain.ReceivedFrame)) ports.FrameConsumer {
		return webrtcinfra.NewFrameReceiver(onFrame, a.log, a.metrics)
	}
}

// newArchiver returns nil when archiving is disabled.
func (a *app) newArchiver(ctx context.Context) (ports.RecordingArchiver, error) {
	if !a.cfg.Archive.Enabled {
		return nil, nil
	}

	var storage archive.Storage
	switch a.cfg.Archive.Backend {
	case "minio":
		m := a.cfg.Archive.MinIO
		s, err := archive.NewMinIOStorage(ctx, archive.MinIOConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			UseSSL:    m.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect archive storage: %w", err)
		}
		storage = s
	case "file", "":
		s, err := archive.NewFileStorage(a.cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive directory: %w", err)
		}
		storage = s
	default:
		return nil, fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = a.cfg.Archive.MaxAttempts
	return archive.NewArchiver(storage, retryCfg, a.log.With("component", "archive")), nil
}

// newResourceReader returns nil when /proc is unavailable; the broadcast then
// runs at baseline quality.
func (a *app) newResourceReader() ports.ResourceReader {
	reader, err := system.NewProcReader("")
	if err != nil {
		a.log.Warnw("resource sampling disabled", "error", err)
		return nil
	}
	return reader
}

func (a *app) qualityConfig() services.QualityConfig {
	q := a.cfg.Quality
	return services.QualityConfig{
		HighCPU:          q.HighCPU,
		LowCPU:           q.LowCPU,
		HighMemory:       q.HighMemory,
		LowMemory:        q.LowMemory,
		DecimationStep:   q.DecimationStep,
		MaxDecimation:    q.MaxDecimation,
		BitrateFactor:    q.BitrateFactor,
		ResolutionFactor: q.ResolutionFactor,
		ReloadInterval:   q.ReloadInterval,
	}
}

func (a *app) healthConfig() services.HealthConfig {
	h := a.cfg.Health
	return services.HealthConfig{
		MinInterval:      h.MinInterval,
		MaxInterval:      h.MaxInterval,
		Multiplier:       h.Multiplier,
		SuccessThreshold: h.SuccessThreshold,
		WindowSize:       h.WindowSize,
		ProbeTimeout:     h.ProbeTimeout,
	}
}
