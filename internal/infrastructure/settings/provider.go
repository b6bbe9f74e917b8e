package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"

	"go.uber.org/zap"
)

// Keys understood in the settings store.
const (
	KeySessionCode            = "session_code"
	KeyFrameRatio             = "frame_ratio"
	KeyImageQuality           = "image_quality"
	KeyBitrate                = "bitrate"
	KeyResolutionScale        = "resolution_scale"
	KeyCustomServerEnabled    = "custom_server_enabled"
	KeyCustomServerURL        = "custom_server_url"
	KeyCustomServerPort       = "custom_server_port"
	KeySecureConnection       = "secure_connection"
	KeyLocalRecordingDisabled = "local_recording_disabled"
)

// Provider caches the last good Preferences read from a store. Readers get
// the cached snapshot; Refresh re-reads the store.
type Provider struct {
	store    ports.SettingsStore
	snapshot atomic.Pointer[domain.Preferences]
	logger   *zap.SugaredLogger
}

var _ ports.PreferencesProvider = (*Provider)(nil)

func NewProvider(store ports.SettingsStore, logger *zap.SugaredLogger) *Provider {
	p := &Provider{store: store, logger: logger}
	defaults := domain.DefaultPreferences()
	p.snapshot.Store(&defaults)
	return p
}

func (p *Provider) Snapshot() domain.Preferences {
	return *p.snapshot.Load()
}

// Refresh reloads the store. On failure the previous snapshot is kept.
func (p *Provider) Refresh(ctx context.Context) error {
	values, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh preferences: %w", err)
	}

	prefs, problems := Parse(values)
	for _, problem := range problems {
		p.logger.Warnw("ignoring invalid setting", "error", problem)
	}
	p.snapshot.Store(&prefs)
	return nil
}

// StoreSessionCode persists code so later runs reuse it.
func (p *Provider) StoreSessionCode(ctx context.Context, code domain.SessionCode) error {
	if err := p.store.Set(ctx, KeySessionCode, string(code)); err != nil {
		return err
	}
	prefs := p.Snapshot()
	prefs.SessionCode = code
	p.snapshot.Store(&prefs)
	return nil
}

// Parse converts flat store values into Preferences. Missing keys keep their
// defaults; unparsable values keep their defaults and are reported.
func Parse(values map[string]string) (domain.Preferences, []error) {
	prefs := domain.DefaultPreferences()
	var problems []error

	str := func(key string) (string, bool) {
		v, ok := values[key]
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	parseUint := func(key string, dst *uint) {
		if v, ok := str(key); ok {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = uint(n)
		}
	}
	parseFloat := func(key string, dst *float64) {
		if v, ok := str(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	parseBool := func(key string, dst *bool) {
		if v, ok := str(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	if v, ok := str(KeySessionCode); ok {
		prefs.SessionCode = domain.SessionCode(v)
	}
	parseUint(KeyFrameRatio, &prefs.FrameRatio)
	parseFloat(KeyImageQuality, &prefs.ImageQuality)
	parseUint(KeyBitrate, &prefs.BitrateBps)
	parseFloat(KeyResolutionScale, &prefs.ResolutionScale)
	parseBool(KeyCustomServerEnabled, &prefs.CustomServerEnabled)
	if v, ok := str(KeyCustomServerURL); ok {
		prefs.CustomServerURL = v
	}
	if v, ok := str(KeyCustomServerPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			problems = append(problems, fmt.Errorf("%s: invalid port %q", KeyCustomServerPort, v))
		} else {
			prefs.CustomServerPort = port
		}
	}
	parseBool(KeySecureConnection, &prefs.SecureConnection)
	parseBool(KeyLocalRecordingDisabled, &prefs.LocalRecordingDisabled)

	return prefs, problems
}
