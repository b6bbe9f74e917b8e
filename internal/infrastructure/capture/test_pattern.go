package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"camstream/internal/core/ports"
)

type Config struct {
	Width     int
	Height    int
	FrameRate int
}

// TestPattern generates moving colour bars at a fixed rate. It stands in for
// a camera when none is attached. The same buffer is reused for every
// frame, so handlers must copy what they keep.
type TestPattern struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
	emitted atomic.Uint64
	start   time.Time
}

var _ ports.CaptureSource = (*TestPattern)(nil)

func NewTestPattern(cfg Config, logger *zap.SugaredLogger) *TestPattern {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}
	return &TestPattern{cfg: cfg, logger: logger.With("component", "capture")}
}

func (p *TestPattern) Start(ctx context.Context, handler ports.FrameHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("capture already running")
	}
	p.running = true
	p.stop = make(chan struct{})
	p.start = time.Now()

	p.logger.Infow("test pattern capture starting",
		"width", p.cfg.Width,
		"height", p.cfg.Height,
		"frame_rate", p.cfg.FrameRate,
	)

	p.wg.Add(1)
	go p.generate(ctx, p.stop, handler)
	return nil
}

// Stop is idempotent; once it returns the handler is not called again.
func (p *TestPattern) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Infow("test pattern capture stopped",
		"frames_emitted", p.emitted.Load(),
		"duration", time.Since(p.start),
	)
	return nil
}

func (p *TestPattern) Emitted() uint64 {
	return p.emitted.Load()
}

func (p *TestPattern) generate(ctx context.Context, stop <-chan struct{}, handler ports.FrameHandler) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(p.cfg.FrameRate))
	defer ticker.Stop()

	buf := make([]byte, p.cfg.Width*p.cfg.Height*4)
	start := time.Now()
	var n int

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			Fill(buf, p.cfg.Width, p.cfg.Height, n)
			handler(frameOf(buf, p.cfg.Width, p.cfg.Height, now.Sub(start)))
			p.emitted.Add(1)
			n++
		}
	}
}
