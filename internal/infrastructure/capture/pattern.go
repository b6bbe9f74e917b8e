package capture

import (
	"time"

	"camstream/internal/core/domain"
)

var bars = [8][3]byte{
	{255, 255, 255},
	{255, 255, 0},
	{0, 255, 255},
	{0, 255, 0},
	{255, 0, 255},
	{255, 0, 0},
	{0, 0, 255},
	{16, 16, 16},
}

// Fill paints eight vertical colour bars into an RGBA buffer, shifted right
// by offset pixels so consecutive frames differ.
func Fill(buf []byte, width, height, offset int) {
	if width <= 0 {
		return
	}
	barWidth := width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for y := 0; y < height; y++ {
		row := buf[y*width*4 : (y+1)*width*4]
		for x := 0; x < width; x++ {
			c := bars[((x+offset)/barWidth)%len(bars)]
			i := x * 4
			row[i] = c[0]
			row[i+1] = c[1]
			row[i+2] = c[2]
			row[i+3] = 0xFF
		}
	}
}

func frameOf(buf []byte, width, height int, pts time.Duration) domain.RawFrame {
	return domain.RawFrame{Data: buf, Width: width, Height: height, PresentationTime: pts}
}
