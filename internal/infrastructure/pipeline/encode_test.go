package pipeline

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camstream/internal/core/domain"
)

func TestEncodeJPEG(t *testing.T) {
	raw := rawFrame(16, 8, 0x80)
	frame := domain.FrameEnvelope{Data: raw.Data, Width: raw.Width, Height: raw.Height}

	var high, low bytes.Buffer
	require.NoError(t, EncodeJPEG(&high, frame, 1.5))
	require.NoError(t, EncodeJPEG(&low, frame, 0))

	img, err := jpeg.Decode(&high)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())
	assert.Greater(t, low.Len(), 0)
}

func TestEncodeJPEG_RejectsMalformedFrames(t *testing.T) {
	for _, frame := range []domain.FrameEnvelope{
		{},
		{Width: 4, Height: 4, Data: make([]byte, 10)},
		{Width: -2, Height: 2},
	} {
		var buf bytes.Buffer
		assert.Error(t, EncodeJPEG(&buf, frame, 0.8))
		assert.Zero(t, buf.Len())
	}
}
