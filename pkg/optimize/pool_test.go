package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPool_ReturnsEmptyBuffers(t *testing.T) {
	pool := NewBufferPool(1024)

	buf := pool.Get()
	buf.WriteString("frame")
	pool.Put(buf)

	again := pool.Get()
	assert.Equal(t, 0, again.Len())
}

func TestBufferPool_DropsOversizedBuffers(t *testing.T) {
	pool := NewBufferPool(16)

	buf := pool.Get()
	buf.Write(make([]byte, 64))
	pool.Put(buf)

	// sync.Pool gives no guarantee either way, so only check what Get returns.
	assert.Equal(t, 0, pool.Get().Len())
	pool.Put(nil)
}

func BenchmarkBufferPool(b *testing.B) {
	pool := NewBufferPool(1 << 20)
	payload := make([]byte, 32*1024)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf := pool.Get()
		buf.Write(payload)
		pool.Put(buf)
	}
}
