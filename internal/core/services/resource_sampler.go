package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// ResourceSampler periodically reads device load and hands the readings to
// the quality controller.
type ResourceSampler struct {
	reader   ports.ResourceReader
	interval time.Duration
	logger   *zap.SugaredLogger
	metrics  ports.Metrics
	now      func() time.Time
	failures int
}

func NewResourceSampler(reader ports.ResourceReader, interval time.Duration, logger *zap.SugaredLogger, metrics ports.Metrics) *ResourceSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &ResourceSampler{
		reader:   reader,
		interval: interval,
		logger:   logger.With("component", "resource_sampler"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Sample takes one reading. A failed read yields a zero sample, which the
// controller treats as relief rather than pressure.
func (s *ResourceSampler) Sample() domain.ResourceSample {
	sample, err := s.reader.Read()
	if err != nil {
		s.failures++
		if s.failures == 1 {
			s.logger.Warnw("resource read failed, reporting neutral sample", "error", err)
		}
		return domain.ResourceSample{SampledAt: s.now()}
	}
	if s.failures > 0 {
		s.logger.Infow("resource reads recovered", "failed_reads", s.failures)
		s.failures = 0
	}
	if sample.SampledAt.IsZero() {
		sample.SampledAt = s.now()
	}
	s.metrics.ResourceSampled(sample)
	return sample
}

// Run emits a sample every interval until ctx is done. A slow consumer loses
// samples instead of delaying the next reading.
func (s *ResourceSampler) Run(ctx context.Context, out chan<- domain.ResourceSample) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample := s.Sample()
			select {
			case out <- sample:
			default:
				s.logger.Debugw("resource sample dropped, controller busy")
			}
		}
	}
}
