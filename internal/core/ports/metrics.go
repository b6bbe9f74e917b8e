package ports

import (
	"time"

	"camstream/internal/core/domain"
)

// NopMetrics discards all measurements.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) SignalingStateChanged(domain.Role, domain.ConnectionState) {}
func (NopMetrics) ReconnectScheduled(domain.Role, int, time.Duration)        {}
func (NopMetrics) PeerStateChanged(domain.PeerState)                         {}
func (NopMetrics) QualityChanged(domain.QualitySettings)                     {}
func (NopMetrics) ResourceSampled(domain.ResourceSample)                     {}
func (NopMetrics) FrameDecimated()                                           {}
func (NopMetrics) FrameDispatched(string)                                    {}
func (NopMetrics) FrameSkipped(string, string)                               {}
func (NopMetrics) RecordingFinalized(domain.RecordingSession)                {}
func (NopMetrics) HealthProbed(time.Duration, bool)                          {}
func (NopMetrics) ReceiverReported(domain.ReceiverReport)                    {}
func (NopMetrics) SignalingMessageRelayed(domain.MessageType)                {}
func (NopMetrics) ConnectionsChanged(int)                                    {}
