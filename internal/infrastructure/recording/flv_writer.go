package recording

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	tagScript = 0x12
	tagVideo  = 0x09

	// Video tag data byte 0: frame type 1 (keyframe) << 4 | codec id 1 (JPEG).
	jpegKeyframe = 0x11

	flvHeaderSize = 9
	tagHeaderSize = 11
)

// Metadata is written once, in the onMetaData script tag.
type Metadata struct {
	Width         int
	Height        int
	VideoDataRate float64 // kbit/s
	FrameRate     float64
}

// FLVWriter writes a video-only FLV stream whose frames are JPEG images.
// Not safe for concurrent use.
type FLVWriter struct {
	w            io.WriteCloser
	bytesWritten uint64
}

// NewFLVWriter writes the file header and returns the writer.
func NewFLVWriter(w io.WriteCloser) (*FLVWriter, error) {
	fw := &FLVWriter{w: w}
	// Signature, version 1, flags 0x01 (video only), header length, PreviousTagSize0.
	header := []byte{'F', 'L', 'V', 0x01, 0x01, 0x00, 0x00, 0x00, flvHeaderSize, 0x00, 0x00, 0x00, 0x00}
	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("flv header: %w", err)
	}
	fw.bytesWritten = uint64(len(header))
	return fw, nil
}

func (fw *FLVWriter) WriteMetadata(meta Metadata) error {
	var body bytes.Buffer
	if err := writeAMFString(&body, "onMetaData"); err != nil {
		return err
	}
	err := writeAMFECMAArray(&body, map[string]interface{}{
		"width":         float64(meta.Width),
		"height":        float64(meta.Height),
		"videodatarate": meta.VideoDataRate,
		"videocodecid":  float64(1),
		"framerate":     meta.FrameRate,
		"duration":      float64(0),
		"hasAudio":      false,
		"hasVideo":      true,
	})
	if err != nil {
		return err
	}
	return fw.writeTag(tagScript, 0, body.Bytes())
}

// WriteFrame writes one JPEG image as a keyframe at timestampMs.
func (fw *FLVWriter) WriteFrame(timestampMs uint32, jpeg []byte) error {
	payload := make([]byte, 1+len(jpeg))
	payload[0] = jpegKeyframe
	copy(payload[1:], jpeg)
	return fw.writeTag(tagVideo, timestampMs, payload)
}

// Tag layout: type, 24-bit size, 24-bit timestamp, 8-bit timestamp
// extension, 24-bit stream id (0), payload, 32-bit PreviousTagSize.
func (fw *FLVWriter) writeTag(tagType byte, timestamp uint32, payload []byte) error {
	size := len(payload)
	if size > 0xFFFFFF {
		return fmt.Errorf("flv tag: payload too large: %d", size)
	}
	var hdr [tagHeaderSize]byte
	hdr[0] = tagType
	hdr[1] = byte(size >> 16)
	hdr[2] = byte(size >> 8)
	hdr[3] = byte(size)
	hdr[4] = byte(timestamp >> 16)
	hdr[5] = byte(timestamp >> 8)
	hdr[6] = byte(timestamp)
	hdr[7] = byte(timestamp >> 24)

	if _, err := fw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("flv tag header: %w", err)
	}
	if _, err := fw.w.Write(payload); err != nil {
		return fmt.Errorf("flv tag body: %w", err)
	}
	var prev [4]byte
	binary.BigEndian.PutUint32(prev[:], uint32(tagHeaderSize+size))
	if _, err := fw.w.Write(prev[:]); err != nil {
		return fmt.Errorf("flv tag size: %w", err)
	}
	fw.bytesWritten += uint64(tagHeaderSize + size + 4)
	return nil
}

func (fw *FLVWriter) BytesWritten() uint64 {
	return fw.bytesWritten
}

func (fw *FLVWriter) Close() error {
	if fw.w == nil {
		return nil
	}
	err := fw.w.Close()
	fw.w = nil
	return err
}
