package system

import (
	"fmt"
	"sync"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"

	"github.com/prometheus/procfs"
)

// ProcReader reads system-wide CPU and memory load from /proc. CPU
// utilization is the busy share of CPU time since the previous Read; the
// first Read only records a baseline and reports zero.
type ProcReader struct {
	fs  procfs.FS
	now func() time.Time

	mu       sync.Mutex
	lastBusy float64
	lastAll  float64
	primed   bool
}

var _ ports.ResourceReader = (*ProcReader)(nil)

func NewProcReader(mountPoint string) (*ProcReader, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", mountPoint, err)
	}
	return &ProcReader{fs: fs, now: time.Now}, nil
}

func (r *ProcReader) Read() (domain.ResourceSample, error) {
	sample := domain.ResourceSample{SampledAt: r.now()}

	stat, err := r.fs.Stat()
	if err != nil {
		return sample, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	mem, err := r.fs.Meminfo()
	if err != nil {
		return sample, fmt.Errorf("failed to read meminfo: %w", err)
	}

	sample.CPUUtilization = r.cpuPercent(stat.CPUTotal)
	sample.MemoryPressure = memoryPressure(mem)
	return sample, nil
}

func (r *ProcReader) cpuPercent(c procfs.CPUStat) float64 {
	idle := c.Idle + c.Iowait
	busy := c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	all := idle + busy

	r.mu.Lock()
	defer r.mu.Unlock()

	prevBusy, prevAll, primed := r.lastBusy, r.lastAll, r.primed
	r.lastBusy, r.lastAll, r.primed = busy, all, true

	if !primed || all <= prevAll {
		return 0
	}
	pct := (busy - prevBusy) / (all - prevAll) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func memoryPressure(m procfs.Meminfo) float64 {
	if m.MemTotal == nil || *m.MemTotal == 0 {
		return 0
	}
	var available uint64
	switch {
	case m.MemAvailable != nil:
		available = *m.MemAvailable
	case m.MemFree != nil:
		// Kernels before 3.14 have no MemAvailable.
		available = *m.MemFree
		if m.Buffers != nil {
			available += *m.Buffers
		}
		if m.Cached != nil {
			available += *m.Cached
		}
	}
	if available > *m.MemTotal {
		return 0
	}
	return 1 - float64(available)/float64(*m.MemTotal)
}
