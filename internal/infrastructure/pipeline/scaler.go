package pipeline

import (
	"image"

	"camstream/internal/core/domain"
)

const bytesPerPixel = 4

// Downscale returns a nearest-neighbour resampled copy of frame at scale.
// The result always has its own buffer and is at least 1x1.
func Downscale(frame domain.FrameEnvelope, scale float64) domain.FrameEnvelope {
	dstW := int(float64(frame.Width) * scale)
	dstH := int(float64(frame.Height) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	out := frame
	out.Width = dstW
	out.Height = dstH
	out.Data = make([]byte, dstW*dstH*bytesPerPixel)

	if !Complete(frame) {
		return out
	}

	srcStride := frame.Width * bytesPerPixel
	for y := 0; y < dstH; y++ {
		sy := y * frame.Height / dstH
		srcRow := frame.Data[sy*srcStride : (sy+1)*srcStride]
		dstRow := out.Data[y*dstW*bytesPerPixel : (y+1)*dstW*bytesPerPixel]
		for x := 0; x < dstW; x++ {
			sx := x * frame.Width / dstW
			copy(dstRow[x*bytesPerPixel:(x+1)*bytesPerPixel], srcRow[sx*bytesPerPixel:(sx+1)*bytesPerPixel])
		}
	}
	return out
}

// Complete reports whether frame has positive dimensions and enough pixel
// data to cover them.
func Complete(frame domain.FrameEnvelope) bool {
	return frame.Width > 0 && frame.Height > 0 && len(frame.Data) >= frame.Width*frame.Height*bytesPerPixel
}

// Image wraps the envelope's pixels without copying them.
func Image(frame domain.FrameEnvelope) *image.RGBA {
	return &image.RGBA{
		Pix:    frame.Data,
		Stride: frame.Width * bytesPerPixel,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
}
