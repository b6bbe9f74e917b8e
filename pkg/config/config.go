package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Signaling struct {
		URL            string        `yaml:"url"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		MessageTimeout time.Duration `yaml:"message_timeout"`
		SendQueueSize  int           `yaml:"send_queue_size"`
		Token          string        `yaml:"token"`
		Reconnect      struct {
			BaseDelay   time.Duration `yaml:"base_delay"`
			MaxDelay    time.Duration `yaml:"max_delay"`
			Jitter      time.Duration `yaml:"jitter"`
			MaxAttempts int           `yaml:"max_attempts"`
		} `yaml:"reconnect"`
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		MaxRenegotiations int           `yaml:"max_renegotiations"`
		RenegotiateDelay  time.Duration `yaml:"renegotiate_delay"`
		PacketPayloadSize int           `yaml:"packet_payload_size"`
		FeedbackInterval  time.Duration `yaml:"feedback_interval"`
	} `yaml:"webrtc"`

	Quality struct {
		SampleInterval   time.Duration `yaml:"sample_interval"`
		ReloadInterval   time.Duration `yaml:"reload_interval"`
		HighCPU          float64       `yaml:"high_cpu"`
		HighMemory       float64       `yaml:"high_memory"`
		LowCPU           float64       `yaml:"low_cpu"`
		LowMemory        float64       `yaml:"low_memory"`
		DecimationStep   uint          `yaml:"decimation_step"`
		MaxDecimation    uint          `yaml:"max_decimation"`
		BitrateFactor    float64       `yaml:"bitrate_factor"`
		ResolutionFactor float64       `yaml:"resolution_factor"`
	} `yaml:"quality"`

	Pipeline struct {
		ScaleSkipThreshold float64 `yaml:"scale_skip_threshold"`
		NetworkQueueSize   int     `yaml:"network_queue_size"`
	} `yaml:"pipeline"`

	Recording struct {
		Enabled   bool   `yaml:"enabled"`
		Directory string `yaml:"directory"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"recording"`

	Archive struct {
		Enabled bool   `yaml:"enabled"`
		Backend string `yaml:"backend"` // "file" or "minio"
		Path    string `yaml:"path"`
		MinIO   struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"minio"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"archive"`

	Health struct {
		URL              string        `yaml:"url"`
		MinInterval      time.Duration `yaml:"min_interval"`
		MaxInterval      time.Duration `yaml:"max_interval"`
		Multiplier       float64       `yaml:"multiplier"`
		SuccessThreshold int           `yaml:"success_threshold"`
		WindowSize       int           `yaml:"window_size"`
		ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	} `yaml:"health"`

	Settings struct {
		Backend  string `yaml:"backend"` // "memory", "file" or "redis"
		Path     string `yaml:"path"`
		RedisKey string `yaml:"redis_key"`
	} `yaml:"settings"`

	Capture struct {
		Width     int `yaml:"width"`
		Height    int `yaml:"height"`
		FrameRate int `yaml:"frame_rate"`
	} `yaml:"capture"`

	SignalServer struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"signal_server"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		Required  bool          `yaml:"required"`
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled              bool    `yaml:"enabled"`
		ConnectionsPerMinute int     `yaml:"connections_per_minute"`
		MessagesPerSecond    float64 `yaml:"messages_per_second"`
		Burst                int     `yaml:"burst"`
		MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		Address           string `yaml:"address"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		ServiceName    string  `yaml:"service_name"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// envOverrides lists the settings that may be replaced from CAMSTREAM_* variables.
type envOverrides struct {
	SignalingURL   string `envconfig:"SIGNALING_URL"`
	SignalingToken string `envconfig:"SIGNALING_TOKEN"`
	HealthURL      string `envconfig:"HEALTH_URL"`
	ServerAddress  string `envconfig:"SERVER_ADDRESS"`
	RecordingDir   string `envconfig:"RECORDING_DIR"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	RedisAddress   string `envconfig:"REDIS_ADDRESS"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	MinIOAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `envconfig:"MINIO_SECRET_KEY"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signaling
	if c.Signaling.URL == "" {
		return fmt.Errorf("signaling.url must not be empty")
	}
	if c.Signaling.ConnectTimeout <= 0 {
		return fmt.Errorf("signaling.connect_timeout must be > 0")
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.PongTimeout <= 0 {
		return fmt.Errorf("signaling.pong_timeout must be > 0")
	}
	if c.Signaling.MessageTimeout <= c.Signaling.PingInterval {
		return fmt.Errorf("signaling.message_timeout must be > signaling.ping_interval")
	}
	if c.Signaling.SendQueueSize <= 0 {
		return fmt.Errorf("signaling.send_queue_size must be > 0")
	}
	if c.Signaling.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("signaling.reconnect.base_delay must be > 0")
	}
	if c.Signaling.Reconnect.MaxDelay < c.Signaling.Reconnect.BaseDelay {
		return fmt.Errorf("signaling.reconnect.max_delay must be >= base_delay")
	}
	if c.Signaling.Reconnect.Jitter < 0 {
		return fmt.Errorf("signaling.reconnect.jitter must be >= 0")
	}
	if c.Signaling.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("signaling.reconnect.max_attempts must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.MaxRenegotiations < 0 {
		return fmt.Errorf("webrtc.max_renegotiations must be >= 0")
	}
	if c.WebRTC.PacketPayloadSize < 256 {
		return fmt.Errorf("webrtc.packet_payload_size must be >= 256")
	}
	if c.WebRTC.FeedbackInterval <= 0 {
		return fmt.Errorf("webrtc.feedback_interval must be > 0")
	}

	// Quality
	if c.Quality.SampleInterval <= 0 {
		return fmt.Errorf("quality.sample_interval must be > 0")
	}
	if c.Quality.ReloadInterval <= 0 {
		return fmt.Errorf("quality.reload_interval must be > 0")
	}
	if c.Quality.LowCPU >= c.Quality.HighCPU {
		return fmt.Errorf("quality.low_cpu must be < quality.high_cpu")
	}
	if c.Quality.LowMemory >= c.Quality.HighMemory {
		return fmt.Errorf("quality.low_memory must be < quality.high_memory")
	}
	if c.Quality.DecimationStep == 0 {
		return fmt.Errorf("quality.decimation_step must be > 0")
	}
	if c.Quality.MaxDecimation == 0 {
		return fmt.Errorf("quality.max_decimation must be > 0")
	}
	if c.Quality.BitrateFactor <= 0 || c.Quality.BitrateFactor > 1 {
		return fmt.Errorf("quality.bitrate_factor must be in (0, 1]")
	}
	if c.Quality.ResolutionFactor <= 0 || c.Quality.ResolutionFactor > 1 {
		return fmt.Errorf("quality.resolution_factor must be in (0, 1]")
	}

	// Pipeline
	if c.Pipeline.ScaleSkipThreshold <= 0 || c.Pipeline.ScaleSkipThreshold > 1 {
		return fmt.Errorf("pipeline.scale_skip_threshold must be in (0, 1]")
	}
	if c.Pipeline.NetworkQueueSize <= 0 {
		return fmt.Errorf("pipeline.network_queue_size must be > 0")
	}

	// Recording
	if c.Recording.Enabled {
		if c.Recording.Directory == "" {
			return fmt.Errorf("recording.directory must not be empty when recording.enabled=true")
		}
		if c.Recording.QueueSize <= 0 {
			return fmt.Errorf("recording.queue_size must be > 0 when recording.enabled=true")
		}
	}

	// Archive
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "file":
			if c.Archive.Path == "" {
				return fmt.Errorf("archive.path must not be empty for the file backend")
			}
		case "minio":
			if c.Archive.MinIO.Endpoint == "" || c.Archive.MinIO.Bucket == "" {
				return fmt.Errorf("archive.minio.endpoint and bucket must be set for the minio backend")
			}
		default:
			return fmt.Errorf("archive.backend must be file or minio, got %q", c.Archive.Backend)
		}
		if c.Archive.MaxAttempts <= 0 {
			return fmt.Errorf("archive.max_attempts must be > 0 when archive.enabled=true")
		}
	}

	// Health
	if c.Health.MinInterval <= 0 {
		return fmt.Errorf("health.min_interval must be > 0")
	}
	if c.Health.MaxInterval < c.Health.MinInterval {
		return fmt.Errorf("health.max_interval must be >= health.min_interval")
	}
	if c.Health.Multiplier < 1 {
		return fmt.Errorf("health.multiplier must be >= 1")
	}
	if c.Health.SuccessThreshold <= 0 {
		return fmt.Errorf("health.success_threshold must be > 0")
	}
	if c.Health.WindowSize <= 0 {
		return fmt.Errorf("health.window_size must be > 0")
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health.probe_timeout must be > 0")
	}

	// Settings
	switch c.Settings.Backend {
	case "memory":
	case "file":
		if c.Settings.Path == "" {
			return fmt.Errorf("settings.path must not be empty for the file backend")
		}
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("settings.backend=redis requires redis.enabled=true")
		}
		if c.Settings.RedisKey == "" {
			return fmt.Errorf("settings.redis_key must not be empty for the redis backend")
		}
	default:
		return fmt.Errorf("settings.backend must be memory, file or redis, got %q", c.Settings.Backend)
	}

	// Capture
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	if c.Capture.FrameRate <= 0 {
		return fmt.Errorf("capture.frame_rate must be > 0")
	}

	// Signal server
	if c.SignalServer.Address == "" {
		return fmt.Errorf("signal_server.address must not be empty")
	}
	if c.SignalServer.PingInterval <= 0 {
		return fmt.Errorf("signal_server.ping_interval must be > 0")
	}
	if c.SignalServer.PongTimeout <= c.SignalServer.PingInterval {
		return fmt.Errorf("signal_server.pong_timeout must be > signal_server.ping_interval")
	}
	if c.SignalServer.ShutdownTimeout <= 0 {
		return fmt.Errorf("signal_server.shutdown_timeout must be > 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.required=true")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signaling.URL = "ws://localhost:8081/ws"
	cfg.Signaling.ConnectTimeout = 12 * time.Second
	cfg.Signaling.PingInterval = 10 * time.Second
	cfg.Signaling.PongTimeout = 5 * time.Second
	cfg.Signaling.MessageTimeout = 30 * time.Second
	cfg.Signaling.SendQueueSize = 64
	cfg.Signaling.Reconnect.BaseDelay = time.Second
	cfg.Signaling.Reconnect.MaxDelay = 30 * time.Second
	cfg.Signaling.Reconnect.Jitter = time.Second
	cfg.Signaling.Reconnect.MaxAttempts = 5

	cfg.WebRTC.ICEServers = []struct {
		URLs       []string `yaml:"urls"`
		Username   string   `yaml:"username,omitempty"`
		Credential string   `yaml:"credential,omitempty"`
	}{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	cfg.WebRTC.MaxRenegotiations = 3
	cfg.WebRTC.RenegotiateDelay = time.Second
	cfg.WebRTC.PacketPayloadSize = 8 * 1024
	cfg.WebRTC.FeedbackInterval = 2 * time.Second

	cfg.Quality.SampleInterval = 5 * time.Second
	cfg.Quality.ReloadInterval = 3 * time.Second
	cfg.Quality.HighCPU = 80
	cfg.Quality.HighMemory = 0.80
	cfg.Quality.LowCPU = 50
	cfg.Quality.LowMemory = 0.60
	cfg.Quality.DecimationStep = 1
	cfg.Quality.MaxDecimation = 8
	cfg.Quality.BitrateFactor = 0.7
	cfg.Quality.ResolutionFactor = 0.8

	cfg.Pipeline.ScaleSkipThreshold = 0.95
	cfg.Pipeline.NetworkQueueSize = 4

	cfg.Recording.Enabled = true
	cfg.Recording.Directory = "recordings"
	cfg.Recording.QueueSize = 120

	cfg.Archive.Enabled = false
	cfg.Archive.Backend = "file"
	cfg.Archive.Path = "archive"
	cfg.Archive.MinIO.Bucket = "recordings"
	cfg.Archive.MaxAttempts = 3

	cfg.Health.URL = "http://localhost:8081"
	cfg.Health.MinInterval = 2 * time.Second
	cfg.Health.MaxInterval = 30 * time.Second
	cfg.Health.Multiplier = 2
	cfg.Health.SuccessThreshold = 3
	cfg.Health.WindowSize = 10
	cfg.Health.ProbeTimeout = 3 * time.Second

	cfg.Settings.Backend = "memory"
	cfg.Settings.Path = "settings.yaml"
	cfg.Settings.RedisKey = "camstream:settings"

	cfg.Capture.Width = 640
	cfg.Capture.Height = 480
	cfg.Capture.FrameRate = 15

	cfg.SignalServer.Address = ":8081"
	cfg.SignalServer.ReadTimeout = 30 * time.Second
	cfg.SignalServer.WriteTimeout = 30 * time.Second
	cfg.SignalServer.PingInterval = 30 * time.Second
	cfg.SignalServer.PongTimeout = 60 * time.Second
	cfg.SignalServer.ShutdownTimeout = 30 * time.Second
	cfg.SignalServer.AllowedOrigins = []string{"*"}

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.Required = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 24 * time.Hour

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.ConnectionsPerMinute = 60
	cfg.RateLimiting.MessagesPerSecond = 100
	cfg.RateLimiting.Burst = 200
	cfg.RateLimiting.MaxMessageSizeBytes = 64 * 1024

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.Address = ":9090"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "camstream"
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	var env envOverrides
	if err := envconfig.Process("camstream", &env); err != nil {
		return fmt.Errorf("failed to process environment overrides: %w", err)
	}

	if env.SignalingURL != "" {
		c.Signaling.URL = env.SignalingURL
	}
	if env.SignalingToken != "" {
		c.Signaling.Token = env.SignalingToken
	}
	if env.HealthURL != "" {
		c.Health.URL = env.HealthURL
	}
	if env.ServerAddress != "" {
		c.SignalServer.Address = env.ServerAddress
	}
	if env.RecordingDir != "" {
		c.Recording.Directory = env.RecordingDir
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.JWTSecret != "" {
		c.Auth.JWTSecret = env.JWTSecret
	}
	if env.RedisAddress != "" {
		c.Redis.Address = env.RedisAddress
	}
	if env.RedisPassword != "" {
		c.Redis.Password = env.RedisPassword
	}
	if env.MinIOAccessKey != "" {
		c.Archive.MinIO.AccessKey = env.MinIOAccessKey
	}
	if env.MinIOSecretKey != "" {
		c.Archive.MinIO.SecretKey = env.MinIOSecretKey
	}
	return nil
}
