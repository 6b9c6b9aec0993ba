package storage

import (
	"sync"
	"unsafe"

	"spindle/pkg/errs"
)

// bufferAlign keeps buffers page-aligned, satisfying the strictest
// direct-I/O alignment contract in common use.
const bufferAlign = 4096

// BufferPool is a bounded pool of fixed-size byte buffers shared by
// all workers of a run. Release zeroes buffers before they are pooled
// so a reused buffer never leaks bytes from a previous measurement.
type BufferPool struct {
	mu         sync.Mutex
	free       [][]byte
	bufSize    int
	maxBuffers int
}

// NewBufferPool creates a pool handing out buffers of exactly
// bufferSize bytes, retaining at most maxBuffers released ones.
// Both arguments must be positive.
func NewBufferPool(bufferSize, maxBuffers int) (*BufferPool, error) {
	if bufferSize <= 0 {
		return nil, errs.New(errs.KindConfig, "buffer size must be greater than 0")
	}
	if maxBuffers <= 0 {
		return nil, errs.New(errs.KindConfig, "max buffers must be greater than 0")
	}
	return &BufferPool{
		free:       make([][]byte, 0, maxBuffers),
		bufSize:    bufferSize,
		maxBuffers: maxBuffers,
	}, nil
}

// Acquire returns a zeroed buffer of the pool's size, reusing a pooled
// buffer when one is available.
func (p *BufferPool) Acquire() []byte {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return buf
	}
	p.mu.Unlock()
	return alignedAlloc(p.bufSize)
}

// Release zeroes buf and returns it to the pool if its size matches
// and capacity remains; otherwise the buffer is dropped.
func (p *BufferPool) Release(buf []byte) {
	if len(buf) != p.bufSize {
		return
	}
	clear(buf)

	p.mu.Lock()
	if len(p.free) < p.maxBuffers {
		p.free = append(p.free, buf)
	}
	p.mu.Unlock()
}

// Get acquires a buffer wrapped for scoped release: defer Close and
// the buffer returns to the pool on every exit path.
func (p *BufferPool) Get() *PooledBuffer {
	return &PooledBuffer{pool: p, buf: p.Acquire()}
}

// BufferSize returns the fixed size of buffers this pool hands out.
func (p *BufferPool) BufferSize() int { return p.bufSize }

// PooledCount returns how many released buffers the pool holds.
func (p *BufferPool) PooledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// PooledBuffer ties a buffer to its pool. Close releases it exactly
// once; later calls are no-ops.
type PooledBuffer struct {
	pool *BufferPool
	buf  []byte
}

// Bytes returns the underlying buffer. Nil after Close.
func (b *PooledBuffer) Bytes() []byte { return b.buf }

func (b *PooledBuffer) Close() error {
	if b.buf != nil {
		b.pool.Release(b.buf)
		b.buf = nil
	}
	return nil
}

// alignedAlloc returns a zeroed slice of exactly size bytes whose
// backing array starts on a bufferAlign boundary.
func alignedAlloc(size int) []byte {
	raw := make([]byte, size+bufferAlign)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	off := int((bufferAlign - addr%bufferAlign) % bufferAlign)
	return raw[off : off+size : off+size]
}
