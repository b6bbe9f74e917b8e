package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/internal/infrastructure/pipeline"
	apperrors "camstream/pkg/errors"
	"camstream/pkg/optimize"
	"camstream/pkg/tracing"
	"camstream/pkg/utils"
)

type Config struct {
	Directory   string
	QueueSize   int
	SessionCode domain.SessionCode
	FrameRate   int
}

// Recorder is the local backup sink. The file is opened when the first frame
// reaches the worker; any create or write failure disables the sink for the
// rest of the session. Finalize closes the file exactly once.
type Recorder struct {
	cfg     Config
	logger  *zap.SugaredLogger
	metrics ports.Metrics
	queue   *pipeline.AsyncSink
	buffers *optimize.BufferPool

	disabled  atomic.Bool
	finalized atomic.Bool
	rejected  atomic.Uint64

	// worker state, guarded by mu so Finalize can read it after the drain
	mu       sync.Mutex
	writer   *FLVWriter
	session  *domain.RecordingSession
	firstPTS time.Duration
	lastErr  error

	finalizeOnce sync.Once
	result       *domain.RecordingSession
	resultErr    error

	now    func() time.Time
	create func(path string) (io.WriteCloser, error)
}

var _ ports.Recorder = (*Recorder)(nil)

func NewRecorder(cfg Config, logger *zap.SugaredLogger, metrics ports.Metrics) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 120
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	r := &Recorder{
		cfg:     cfg,
		logger:  logger.With("component", "recorder", "session_code", string(cfg.SessionCode)),
		metrics: metrics,
		now:     time.Now,
		create:  createFile,
		buffers: optimize.NewBufferPool(1 << 20),
	}
	r.queue = pipeline.NewAsyncSink(pipeline.SinkRecording, cfg.QueueSize, r.write, logger)
	return r
}

func createFile(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// Accept queues a frame for writing. Frames arriving after Finalize are
// rejected.
func (r *Recorder) Accept(frame domain.FrameEnvelope, settings domain.QualitySettings) bool {
	if r.finalized.Load() {
		if r.rejected.Add(1) == 1 {
			r.logger.Warnw("frame rejected after finalize", "sequence", frame.SequenceNumber)
		} else {
			r.logger.Debugw("frame rejected after finalize", "sequence", frame.SequenceNumber)
		}
		return false
	}
	if r.disabled.Load() {
		return false
	}
	return r.queue.Accept(frame, settings)
}

// Disabled reports whether a write failure has switched the sink off.
func (r *Recorder) Disabled() bool {
	return r.disabled.Load()
}

// Err returns the failure that disabled the sink, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Recorder) write(frame domain.FrameEnvelope, settings domain.QualitySettings) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disabled.Load() {
		return
	}
	if !pipeline.Complete(frame) {
		r.logger.Warnw("dropping malformed frame", "sequence", frame.SequenceNumber,
			"width", frame.Width, "height", frame.Height, "bytes", len(frame.Data))
		return
	}

	if r.writer == nil {
		if err := r.openLocked(frame, settings); err != nil {
			r.disableLocked(err, "failed to open recording")
			return
		}
	}

	buf := r.buffers.Get()
	defer r.buffers.Put(buf)
	if err := pipeline.EncodeJPEG(buf, frame, settings.ImageQuality); err != nil {
		r.disableLocked(err, "failed to encode frame")
		return
	}

	pts := frame.PresentationTime - r.firstPTS
	if pts < 0 {
		pts = 0
	}
	if err := r.writer.WriteFrame(uint32(pts.Milliseconds()), buf.Bytes()); err != nil {
		r.disableLocked(err, "failed to write frame")
		return
	}

	r.session.FrameCount++
	r.session.BitrateUsed = settings.BitrateBps
	r.session.ImageQuality = settings.ImageQuality
	r.session.Duration = pts.Seconds()
}

func (r *Recorder) openLocked(frame domain.FrameEnvelope, settings domain.QualitySettings) error {
	startedAt := r.now()
	id := utils.GenerateRecordingID()
	path := filepath.Join(r.cfg.Directory, utils.RecordingFileName(startedAt, "flv"))

	_, span := tracing.TraceRecording(context.Background(), "open", path)
	defer span.End()

	f, err := r.create(path)
	if errors.Is(err, os.ErrExist) {
		// Another recording opened in the same millisecond.
		path = strings.TrimSuffix(path, ".flv") + "-" + id[:8] + ".flv"
		f, err = r.create(path)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w, err := NewFLVWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	err = w.WriteMetadata(Metadata{
		Width:         frame.Width,
		Height:        frame.Height,
		VideoDataRate: float64(settings.BitrateBps) / 1000,
		FrameRate:     float64(r.cfg.FrameRate),
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("write metadata: %w", err)
	}

	r.writer = w
	r.firstPTS = frame.PresentationTime
	r.session = &domain.RecordingSession{
		ID:           id,
		SessionCode:  string(r.cfg.SessionCode),
		OutputPath:   path,
		StartedAt:    startedAt,
		Width:        frame.Width,
		Height:       frame.Height,
		BitrateUsed:  settings.BitrateBps,
		ImageQuality: settings.ImageQuality,
	}
	r.logger.Infow("recording started", "path", path, "width", frame.Width, "height", frame.Height)
	return nil
}

func (r *Recorder) disableLocked(err error, msg string) {
	r.disabled.Store(true)
	r.lastErr = apperrors.NewSinkError(err, msg)
	r.logger.Errorw("local recording disabled", "reason", msg, "error", err)
	if r.writer != nil {
		if cerr := r.writer.Close(); cerr != nil {
			r.logger.Warnw("failed to close recording after error", "error", cerr)
		}
	}
}

// Finalize drains queued frames, closes the file and writes the JSON
// manifest beside it. Only the first call does any work; later calls return
// the same result. The session is nil when no frame was ever written.
func (r *Recorder) Finalize(ctx context.Context) (*domain.RecordingSession, error) {
	r.finalizeOnce.Do(func() {
		r.finalized.Store(true)
		r.queue.Close()
		r.result, r.resultErr = r.finalize(ctx)
	})
	return r.result, r.resultErr
}

func (r *Recorder) finalize(ctx context.Context) (*domain.RecordingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil, r.lastErr
	}

	ctx, span := tracing.TraceRecording(ctx, "finalize", r.session.OutputPath)
	defer span.End()

	if !r.disabled.Load() {
		if err := r.writer.Close(); err != nil {
			r.lastErr = apperrors.NewSinkError(err, "failed to close recording")
			tracing.RecordError(ctx, err)
		}
	}

	finalizedAt := r.now()
	r.session.FinalizedAt = &finalizedAt
	session := *r.session

	manifest := ManifestPath(session.OutputPath)
	if err := writeManifest(manifest, session); err != nil {
		r.logger.Warnw("failed to write recording manifest", "path", session.OutputPath, "error", err)
		tracing.RecordError(ctx, err)
	} else {
		session.ManifestPath = manifest
	}

	r.metrics.RecordingFinalized(session)
	r.logger.Infow("recording finalized",
		"path", session.OutputPath,
		"frames", session.FrameCount,
		"bytes", r.writer.BytesWritten(),
		"duration", time.Duration(session.Duration*float64(time.Second)).Round(time.Millisecond),
		"disabled", r.disabled.Load(),
	)
	return &session, r.lastErr
}

// ManifestPath returns the manifest file name for a recording.
func ManifestPath(recordingPath string) string {
	return strings.TrimSuffix(recordingPath, filepath.Ext(recordingPath)) + ".json"
}

func writeManifest(path string, session domain.RecordingSession) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
