package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProc(t *testing.T, dir, stat, meminfo string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0o644))
}

const statTemplate = `cpu  %s
cpu0 0 0 0 0 0 0 0 0 0 0
intr 0
ctxt 0
btime 1700000000
processes 1
procs_running 1
procs_blocked 0
softirq 0 0 0 0 0 0 0 0 0 0 0
`

const meminfo = `MemTotal:       1000000 kB
MemFree:         100000 kB
MemAvailable:    250000 kB
Buffers:          10000 kB
Cached:           50000 kB
`

func statLine(user, system, idle int) string {
	return fmt.Sprintf(statTemplate, strconv.Itoa(user)+" 0 "+strconv.Itoa(system)+" "+strconv.Itoa(idle)+" 0 0 0 0 0 0")
}

func TestProcReader_DeltaUtilization(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, statLine(100, 100, 800), meminfo)

	r, err := NewProcReader(dir)
	require.NoError(t, err)

	first, err := r.Read()
	require.NoError(t, err)
	assert.Zero(t, first.CPUUtilization, "first read only primes the baseline")
	assert.InDelta(t, 0.75, first.MemoryPressure, 1e-9)
	assert.False(t, first.SampledAt.IsZero())

	// +300 busy, +100 idle ticks
	writeProc(t, dir, statLine(300, 200, 900), meminfo)
	second, err := r.Read()
	require.NoError(t, err)
	assert.InDelta(t, 75.0, second.CPUUtilization, 1e-6)
}

func TestProcReader_MissingFiles(t *testing.T) {
	r, err := NewProcReader(t.TempDir())
	require.NoError(t, err)

	_, err = r.Read()
	assert.Error(t, err)
}

func TestMemoryPressure_FallbackWithoutAvailable(t *testing.T) {
	total, free, buffers, cached := uint64(1000), uint64(100), uint64(50), uint64(50)
	m := procfs.Meminfo{MemTotal: &total, MemFree: &free, Buffers: &buffers, Cached: &cached}
	assert.InDelta(t, 0.8, memoryPressure(m), 1e-9)

	assert.Zero(t, memoryPressure(procfs.Meminfo{}))
}
