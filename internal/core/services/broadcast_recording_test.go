package services

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/internal/infrastructure/pipeline"
	"camstream/internal/infrastructure/recording"
)

// Signaling disabled, real pipeline and recorder: the finalized file holds
// every frame decimation kept.
func TestBroadcastService_LocalRecordingKeepsDecimatedFrames(t *testing.T) {
	const frames, decimation = 20, 3

	dir := t.TempDir()
	logger := zap.NewNop().Sugar()

	prefs := testPreferences()
	prefs.FrameRatio = decimation

	f := newBroadcastFixture()
	f.prefs = newFakePreferences(prefs)
	f.deps.Preferences = f.prefs
	f.deps.Signaling = nil
	f.deps.Archiver = nil

	var recorder *recording.Recorder
	f.deps.Recorders = func(code domain.SessionCode) ports.Recorder {
		recorder = recording.NewRecorder(recording.Config{
			Directory:   dir,
			QueueSize:   frames,
			SessionCode: code,
			FrameRate:   15,
		}, logger, nil)
		return recorder
	}
	f.deps.Router = func(q ports.QualitySource) ports.FrameRouter {
		return pipeline.NewFramePipeline(pipeline.DefaultConfig(), q, logger, nil)
	}

	svc := f.start(t)
	require.Equal(t, BroadcastLocalOnly, svc.State())
	require.NotNil(t, recorder)

	f.capture.emit(frames)

	session, err := svc.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, uint64(frames/decimation), session.FrameCount)
	assert.True(t, session.Finalized())
	assert.Equal(t, "654321", session.SessionCode)

	data, err := os.ReadFile(session.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("FLV"), data[:3])

	assert.False(t, recorder.Accept(domain.FrameEnvelope{Width: 2, Height: 2, Data: make([]byte, 16)},
		domain.QualitySettings{FrameDecimation: 1, ImageQuality: 0.5}))
}
