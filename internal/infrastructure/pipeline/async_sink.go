package pipeline

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// HandlerFunc does the blocking work for one queued frame.
type HandlerFunc func(frame domain.FrameEnvelope, settings domain.QualitySettings)

type queuedFrame struct {
	frame    domain.FrameEnvelope
	settings domain.QualitySettings
}

// AsyncSink decouples a slow consumer from the capture path. Accept never
// blocks: a full queue drops the frame. One worker goroutine calls the
// handler in queue order.
type AsyncSink struct {
	name    string
	handle  HandlerFunc
	logger  *zap.SugaredLogger
	queue   chan queuedFrame
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Uint64
}

var _ ports.FrameSink = (*AsyncSink)(nil)

func NewAsyncSink(name string, queueSize int, handle HandlerFunc, logger *zap.SugaredLogger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &AsyncSink{
		name:   name,
		handle: handle,
		logger: logger.With("sink", name),
		queue:  make(chan queuedFrame, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Name() string {
	return s.name
}

// Accept enqueues the frame. It returns false when the queue is full or the
// sink has been closed.
func (s *AsyncSink) Accept(frame domain.FrameEnvelope, settings domain.QualitySettings) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.queue <- queuedFrame{frame: frame, settings: settings}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of frames refused because the queue was full.
func (s *AsyncSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting frames, lets the worker finish everything already
// queued and returns once it has. Safe to call more than once.
func (s *AsyncSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for item := range s.queue {
		s.safeHandle(item)
	}
	s.logger.Debugw("sink worker stopped", "dropped", s.dropped.Load())
}

func (s *AsyncSink) safeHandle(item queuedFrame) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("sink handler panicked", "panic", r, "sequence", item.frame.SequenceNumber)
		}
	}()
	s.handle(item.frame, item.settings)
}
