package domain

import "time"

const (
	MinFrameDecimation = 1
	MinImageQuality    = 0.1
	MaxImageQuality    = 1.0
	MinBitrateBps      = 200_000
	MaxBitrateBps      = 2_000_000
	MinResolutionScale = 0.3
	MaxResolutionScale = 1.0
)

// QualitySettings is the encoder configuration in force. Values are published
// as immutable snapshots; a new value replaces the old one wholesale.
type QualitySettings struct {
	FrameDecimation uint    // keep one frame in every FrameDecimation
	ImageQuality    float64 // encoder quality in [0.1, 1]
	BitrateBps      uint    // target bitrate in [200000, 2000000]
	ResolutionScale float64 // output scale in [0.3, 1]
}

// Clamped returns q with every field forced into its valid range.
func (q QualitySettings) Clamped() QualitySettings {
	if q.FrameDecimation < MinFrameDecimation {
		q.FrameDecimation = MinFrameDecimation
	}
	q.ImageQuality = clampFloat(q.ImageQuality, MinImageQuality, MaxImageQuality)
	if q.BitrateBps < MinBitrateBps {
		q.BitrateBps = MinBitrateBps
	}
	if q.BitrateBps > MaxBitrateBps {
		q.BitrateBps = MaxBitrateBps
	}
	q.ResolutionScale = clampFloat(q.ResolutionScale, MinResolutionScale, MaxResolutionScale)
	return q
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ResourceSample is one reading of device load.
type ResourceSample struct {
	CPUUtilization float64 // percent, 0..100
	MemoryPressure float64 // fraction of memory in use, 0..1
	SampledAt      time.Time
}

// Preferences is a snapshot of the user-controlled configuration store.
type Preferences struct {
	SessionCode            SessionCode
	FrameRatio             uint
	ImageQuality           float64
	BitrateBps             uint
	ResolutionScale        float64
	CustomServerEnabled    bool
	CustomServerURL        string
	CustomServerPort       int
	SecureConnection       bool
	LocalRecordingDisabled bool
}

func DefaultPreferences() Preferences {
	return Preferences{
		FrameRatio:      1,
		ImageQuality:    0.7,
		BitrateBps:      800_000,
		ResolutionScale: 0.8,
	}
}

// Baseline is the quality the user asked for, before any degradation.
func (p Preferences) Baseline() QualitySettings {
	return QualitySettings{
		FrameDecimation: p.FrameRatio,
		ImageQuality:    p.ImageQuality,
		BitrateBps:      p.BitrateBps,
		ResolutionScale: p.ResolutionScale,
	}.Clamped()
}
