package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
)

func TestFill_ShiftsBars(t *testing.T) {
	buf := make([]byte, 16*2*4)
	Fill(buf, 16, 2, 0)
	assert.Equal(t, []byte{255, 255, 255, 255}, buf[0:4])
	assert.Equal(t, []byte{255, 255, 0, 255}, buf[2*4:2*4+4])

	Fill(buf, 16, 2, 2)
	assert.Equal(t, []byte{255, 255, 0, 255}, buf[0:4])
	// second row matches the first
	assert.Equal(t, buf[0:16*4], buf[16*4:32*4])
}

func TestTestPattern_EmitsUntilStopped(t *testing.T) {
	p := NewTestPattern(Config{Width: 8, Height: 4, FrameRate: 200}, zap.NewNop().Sugar())

	var mu sync.Mutex
	var frames []domain.RawFrame
	require.NoError(t, p.Start(context.Background(), func(f domain.RawFrame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, domain.RawFrame{Width: f.Width, Height: f.Height, PresentationTime: f.PresentationTime, Data: append([]byte(nil), f.Data...)})
	}))
	assert.Error(t, p.Start(context.Background(), func(domain.RawFrame) {}))

	require.Eventually(t, func() bool { return p.Emitted() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	mu.Lock()
	defer mu.Unlock()
	count := len(frames)
	require.GreaterOrEqual(t, count, 3)
	assert.Equal(t, 8*4*4, len(frames[0].Data))
	assert.Less(t, frames[0].PresentationTime, frames[1].PresentationTime)
	assert.Equal(t, uint64(count), p.Emitted())
}
