package pipeline

import (
	"fmt"
	"image/jpeg"
	"io"

	"camstream/internal/core/domain"
)

// EncodeJPEG writes frame as a JPEG at imageQuality, a fraction in (0, 1].
func EncodeJPEG(w io.Writer, frame domain.FrameEnvelope, imageQuality float64) error {
	if !Complete(frame) {
		return fmt.Errorf("malformed frame %dx%d with %d bytes", frame.Width, frame.Height, len(frame.Data))
	}
	quality := int(imageQuality * 100)
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return jpeg.Encode(w, Image(frame), &jpeg.Options{Quality: quality})
}
