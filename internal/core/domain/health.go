package domain

import "time"

// HealthStatus is the viewer-side view of signaling server liveness.
type HealthStatus struct {
	Reachable            bool
	AverageLatency       time.Duration
	LastLatency          time.Duration
	Interval             time.Duration
	ConsecutiveSuccesses int
	ActiveSessions       int
	LastProbeAt          time.Time
	LastError            string
}

// ReceiverReport is the viewer's loss feedback for the frame stream.
type ReceiverReport struct {
	FractionLost float64 // 0..1 over the last report interval
	TotalLost    uint32
	Jitter       uint32 // RTP timestamp units
	ReportedAt   time.Time
}
