// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "sync"

// BytePool hands out fixed-size byte buffers backed by a sync.Pool.
type BytePool struct {
	size int
	p    sync.Pool
}

// NewBytePool creates a pool of buffers of exactly size bytes.
func NewBytePool(size int) *BytePool {
	bp := &BytePool{size: size}
	bp.p.New = func() any {
		return make([]byte, size)
	}
	return bp
}

// GetBuffer returns a buffer from the pool.
func (b *BytePool) GetBuffer() []byte {
	return b.p.Get().([]byte)
}

// PutBuffer returns a buffer to the pool. Foreign-sized buffers are
// dropped so the pool stays homogeneous.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.p.Put(buf[:b.size])
}

// BufferSize returns the size of buffers managed by this pool.
func (b *BytePool) BufferSize() int { return b.size }
