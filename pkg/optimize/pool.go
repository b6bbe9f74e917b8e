package optimize

import (
	"bytes"
	"sync"
)

// BufferPool recycles the buffers frames are encoded into. Buffers that grew
// beyond maxRetained bytes are dropped on Put so one oversized frame does not
// pin its memory for the rest of the session.
type BufferPool struct {
	pool        sync.Pool
	maxRetained int
}

// NewBufferPool creates a pool; maxRetained <= 0 keeps every buffer.
func NewBufferPool(maxRetained int) *BufferPool {
	return &BufferPool{
		maxRetained: maxRetained,
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets b and returns it to the pool. The caller must not keep
// references to b's bytes afterwards.
func (p *BufferPool) Put(b *bytes.Buffer) {
	if b == nil {
		return
	}
	if p.maxRetained > 0 && b.Cap() > p.maxRetained {
		return
	}
	b.Reset()
	p.pool.Put(b)
}
