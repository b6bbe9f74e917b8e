package webrtc

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// Frames travel as JPEG images cut into RTP packets. Each payload starts
// with a 4 byte chunk header (index, count; both big-endian uint16) so the
// receiver can reassemble a frame from packets delivered in any order.
const (
	PayloadTypeJPEG = 26
	ClockRate       = 90000

	rtpHeaderSize   = 12
	chunkHeaderSize = 4
	maxChunks       = 0xFFFF
)

// RTPTimestamp converts a presentation time to the 90 kHz media clock.
func RTPTimestamp(pts time.Duration) uint32 {
	return uint32(pts.Seconds() * ClockRate)
}

type packetizer struct {
	ssrc        uint32
	sequence    uint16
	payloadSize int
}

func newPacketizer(ssrc uint32, payloadSize int) *packetizer {
	if payloadSize <= chunkHeaderSize {
		payloadSize = 1200
	}
	return &packetizer{ssrc: ssrc, payloadSize: payloadSize}
}

// packetize splits one encoded frame. The marker bit is set on the last chunk.
func (p *packetizer) packetize(frame []byte, timestamp uint32) ([]*rtp.Packet, error) {
	chunkSize := p.payloadSize - chunkHeaderSize
	count := (len(frame) + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1
	}
	if count > maxChunks {
		return nil, fmt.Errorf("frame of %d bytes needs %d chunks", len(frame), count)
	}

	packets := make([]*rtp.Packet, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(frame) {
			end = len(frame)
		}
		payload := make([]byte, chunkHeaderSize+end-start)
		binary.BigEndian.PutUint16(payload[0:2], uint16(i))
		binary.BigEndian.PutUint16(payload[2:4], uint16(count))
		copy(payload[chunkHeaderSize:], frame[start:end])

		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == count-1,
				PayloadType:    PayloadTypeJPEG,
				SequenceNumber: p.sequence,
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		})
		p.sequence++
	}
	return packets, nil
}

func parseChunk(payload []byte) (index, count uint16, data []byte, err error) {
	if len(payload) < chunkHeaderSize {
		return 0, 0, nil, fmt.Errorf("chunk payload too short: %d bytes", len(payload))
	}
	index = binary.BigEndian.Uint16(payload[0:2])
	count = binary.BigEndian.Uint16(payload[2:4])
	if count == 0 || index >= count {
		return 0, 0, nil, fmt.Errorf("invalid chunk %d of %d", index, count)
	}
	return index, count, payload[chunkHeaderSize:], nil
}
