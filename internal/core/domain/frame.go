package domain

import "time"

// RawFrame is what a capture source hands over. Data is RGBA, 4 bytes per
// pixel, row-major with no padding. The source may reuse Data after the
// callback returns.
type RawFrame struct {
	Data             []byte
	Width            int
	Height           int
	PresentationTime time.Duration
}

// FrameEnvelope is a frame owned by the pipeline or by exactly one sink.
type FrameEnvelope struct {
	Data             []byte
	Width            int
	Height           int
	PresentationTime time.Duration
	SequenceNumber   uint64
}

// Clone returns an envelope with its own copy of the pixel data.
func (f FrameEnvelope) Clone() FrameEnvelope {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}

// ReceivedFrame is one reassembled JPEG image on the viewer.
type ReceivedFrame struct {
	JPEG       []byte
	Timestamp  uint32 // 90 kHz media clock
	ReceivedAt time.Time
}
