package storage

import (
	"testing"
	"unsafe"
)

func TestBufferPoolRejectsZeroArgs(t *testing.T) {
	if _, err := NewBufferPool(0, 4); err == nil {
		t.Fatal("expected error for zero buffer size")
	}
	if _, err := NewBufferPool(512, 0); err == nil {
		t.Fatal("expected error for zero max buffers")
	}
}

func TestBufferPoolReuse(t *testing.T) {
	pool, err := NewBufferPool(512, 2)
	if err != nil {
		t.Fatalf("NewBufferPool: %v", err)
	}

	a := pool.Acquire()
	b := pool.Acquire()
	c := pool.Acquire()
	if len(a) != 512 || len(b) != 512 || len(c) != 512 {
		t.Fatalf("unexpected buffer sizes: %d %d %d", len(a), len(b), len(c))
	}

	pool.Release(a)
	pool.Release(b)
	pool.Release(c)

	if got := pool.PooledCount(); got != 2 {
		t.Fatalf("pool holds %d buffers, want 2", got)
	}
}

func TestBufferPoolZeroesOnRelease(t *testing.T) {
	pool, err := NewBufferPool(64, 1)
	if err != nil {
		t.Fatalf("NewBufferPool: %v", err)
	}

	buf := pool.Acquire()
	for i := range buf {
		buf[i] = 0xAB
	}
	pool.Release(buf)

	reused := pool.Acquire()
	for i, v := range reused {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, v)
		}
	}
}

func TestBufferPoolRejectsWrongSize(t *testing.T) {
	pool, err := NewBufferPool(512, 4)
	if err != nil {
		t.Fatalf("NewBufferPool: %v", err)
	}

	pool.Release(make([]byte, 256))
	if got := pool.PooledCount(); got != 0 {
		t.Fatalf("pool accepted a wrong-size buffer, holds %d", got)
	}
}

func TestPooledBufferCloseIdempotent(t *testing.T) {
	pool, err := NewBufferPool(128, 2)
	if err != nil {
		t.Fatalf("NewBufferPool: %v", err)
	}

	pb := pool.Get()
	if len(pb.Bytes()) != 128 {
		t.Fatalf("got %d bytes, want 128", len(pb.Bytes()))
	}
	if err := pb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pb.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := pool.PooledCount(); got != 1 {
		t.Fatalf("pool holds %d buffers after double close, want 1", got)
	}
	if pb.Bytes() != nil {
		t.Fatal("Bytes not nil after Close")
	}
}

func TestAlignedAlloc(t *testing.T) {
	for _, size := range []int{512, 4096, 65536} {
		buf := alignedAlloc(size)
		if len(buf) != size {
			t.Fatalf("len = %d, want %d", len(buf), size)
		}
		addr := uintptr(unsafe.Pointer(&buf[0]))
		if addr%bufferAlign != 0 {
			t.Fatalf("buffer of size %d not aligned: addr %% %d = %d", size, bufferAlign, addr%bufferAlign)
		}
	}
}
