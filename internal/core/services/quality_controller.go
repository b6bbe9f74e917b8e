package services

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

type QualityConfig struct {
	HighCPU    float64 // percent
	LowCPU     float64
	HighMemory float64 // fraction
	LowMemory  float64

	DecimationStep   uint
	MaxDecimation    uint
	BitrateFactor    float64
	ResolutionFactor float64

	ReloadInterval time.Duration
}

func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		HighCPU:          80,
		LowCPU:           50,
		HighMemory:       0.80,
		LowMemory:        0.60,
		DecimationStep:   1,
		MaxDecimation:    8,
		BitrateFactor:    0.7,
		ResolutionFactor: 0.8,
		ReloadInterval:   3 * time.Second,
	}
}

// AdaptiveQualityController derives the encoder settings from the user's
// baseline and the current device load. Readers get immutable snapshots
// through Current; only the Run loop replaces them.
type AdaptiveQualityController struct {
	cfg     QualityConfig
	prefs   ports.PreferencesProvider
	logger  *zap.SugaredLogger
	metrics ports.Metrics

	current atomic.Pointer[domain.QualitySettings]
	samples chan domain.ResourceSample

	// Owned by the Run loop.
	preferences   domain.Preferences
	baseline      domain.QualitySettings
	level         uint
	onPreferences func(domain.Preferences)
}

var _ ports.QualitySource = (*AdaptiveQualityController)(nil)

func NewAdaptiveQualityController(cfg QualityConfig, prefs ports.PreferencesProvider, logger *zap.SugaredLogger, metrics ports.Metrics) *AdaptiveQualityController {
	def := DefaultQualityConfig()
	if cfg.DecimationStep == 0 {
		cfg.DecimationStep = def.DecimationStep
	}
	if cfg.MaxDecimation == 0 {
		cfg.MaxDecimation = def.MaxDecimation
	}
	if cfg.BitrateFactor <= 0 || cfg.BitrateFactor > 1 {
		cfg.BitrateFactor = def.BitrateFactor
	}
	if cfg.ResolutionFactor <= 0 || cfg.ResolutionFactor > 1 {
		cfg.ResolutionFactor = def.ResolutionFactor
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = def.ReloadInterval
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	c := &AdaptiveQualityController{
		cfg:     cfg,
		prefs:   prefs,
		logger:  logger.With("component", "quality_controller"),
		metrics: metrics,
		samples: make(chan domain.ResourceSample, 1),
	}
	c.preferences = prefs.Snapshot()
	c.baseline = c.preferences.Baseline()
	initial := c.baseline
	c.current.Store(&initial)
	return c
}

// Current returns the settings in force.
func (c *AdaptiveQualityController) Current() domain.QualitySettings {
	return *c.current.Load()
}

// Samples is where the resource sampler delivers readings.
func (c *AdaptiveQualityController) Samples() chan<- domain.ResourceSample {
	return c.samples
}

// Level is the current pressure level; 0 means the baseline is in force.
// Only meaningful from the Run goroutine or when Run is not running.
func (c *AdaptiveQualityController) Level() uint {
	return c.level
}

// OnPreferencesChanged registers fn to be called from the Run loop whenever
// a reload yields different preferences. Set it before Run.
func (c *AdaptiveQualityController) OnPreferencesChanged(fn func(domain.Preferences)) {
	c.onPreferences = fn
}

func (c *AdaptiveQualityController) Run(ctx context.Context) {
	reload := time.NewTicker(c.cfg.ReloadInterval)
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-c.samples:
			c.apply(sample)
		case <-reload.C:
			c.reload(ctx)
		}
	}
}

func (c *AdaptiveQualityController) apply(sample domain.ResourceSample) {
	pressure := sample.CPUUtilization > c.cfg.HighCPU || sample.MemoryPressure > c.cfg.HighMemory
	relief := sample.CPUUtilization < c.cfg.LowCPU && sample.MemoryPressure < c.cfg.LowMemory

	switch {
	case pressure:
		if c.level < c.maxLevel() {
			c.level++
		}
	case relief:
		if c.level > 0 {
			c.level--
		}
	default:
		return
	}
	c.publish("resource_sample", sample)
}

func (c *AdaptiveQualityController) reload(ctx context.Context) {
	if err := c.prefs.Refresh(ctx); err != nil {
		c.logger.Debugw("preferences refresh failed, keeping cached values", "error", err)
	}
	prefs := c.prefs.Snapshot()
	if prefs == c.preferences {
		return
	}
	c.preferences = prefs

	if baseline := prefs.Baseline(); baseline != c.baseline {
		c.logger.Infow("quality baseline changed",
			"from_decimation", c.baseline.FrameDecimation,
			"to_decimation", baseline.FrameDecimation,
			"from_bitrate", c.baseline.BitrateBps,
			"to_bitrate", baseline.BitrateBps,
		)
		c.baseline = baseline
		if limit := c.maxLevel(); c.level > limit {
			c.level = limit
		}
		c.publish("preferences", domain.ResourceSample{})
	}
	if c.onPreferences != nil {
		c.onPreferences(prefs)
	}
}

// maxLevel is the number of decimation steps between the baseline and the
// cap, and at least 1 so bitrate and resolution can always degrade.
func (c *AdaptiveQualityController) maxLevel() uint {
	if c.baseline.FrameDecimation >= c.cfg.MaxDecimation {
		return 1
	}
	span := float64(c.cfg.MaxDecimation - c.baseline.FrameDecimation)
	steps := uint(math.Ceil(span / float64(c.cfg.DecimationStep)))
	if steps < 1 {
		return 1
	}
	return steps
}

// derive computes the settings for the current level. Degradation is always
// relative to the baseline, never compounded on a previous snapshot.
func (c *AdaptiveQualityController) derive() domain.QualitySettings {
	s := c.baseline
	if c.level == 0 {
		return s
	}
	decimation := c.baseline.FrameDecimation + c.level*c.cfg.DecimationStep
	if decimation > c.cfg.MaxDecimation {
		decimation = c.cfg.MaxDecimation
	}
	if decimation < c.baseline.FrameDecimation {
		decimation = c.baseline.FrameDecimation
	}
	s.FrameDecimation = decimation
	s.BitrateBps = uint(float64(c.baseline.BitrateBps) * c.cfg.BitrateFactor)
	s.ResolutionScale = c.baseline.ResolutionScale * c.cfg.ResolutionFactor
	return s.Clamped()
}

func (c *AdaptiveQualityController) publish(reason string, sample domain.ResourceSample) {
	next := c.derive()
	prev := c.Current()
	if next == prev {
		return
	}
	c.current.Store(&next)
	c.metrics.QualityChanged(next)
	c.logger.Infow("quality settings changed",
		"reason", reason,
		"level", c.level,
		"cpu", sample.CPUUtilization,
		"memory", sample.MemoryPressure,
		"from_decimation", prev.FrameDecimation,
		"to_decimation", next.FrameDecimation,
		"from_bitrate", prev.BitrateBps,
		"to_bitrate", next.BitrateBps,
		"from_scale", prev.ResolutionScale,
		"to_scale", next.ResolutionScale,
	)
}
