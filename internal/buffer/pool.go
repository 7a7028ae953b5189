package buffer

import (
	"sync"
	"sync/atomic"
)

// BytePool hands out scratch byte slices for chunk decoding. Slices are
// bucketed by capacity so that a decoder asking for a 37KB chunk gets a
// 64KB buffer it can give back later.
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int

	gets      atomic.Uint64
	puts      atomic.Uint64
	oversized atomic.Uint64
}

// NewBytePool creates a new byte pool with predefined size buckets
func NewBytePool() *BytePool {
	// Scanline chunks range from one uncompressed line to 256-line DWAB
	// blocks of wide images.
	sizes := []int{
		4096,     // 4KB
		16384,    // 16KB
		65536,    // 64KB
		262144,   // 256KB
		1048576,  // 1MB
		4194304,  // 4MB
		16777216, // 16MB
		67108864, // 64MB
	}

	pools := make(map[int]*sync.Pool, len(sizes))
	for _, size := range sizes {
		pools[size] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: sizes,
	}
}

// Get retrieves a byte slice of exactly size bytes. Its contents are
// undefined.
func (p *BytePool) Get(size int) []byte {
	p.gets.Add(1)

	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			buf := p.pools[bucketSize].Get().([]byte)
			return buf[:size]
		}
	}

	p.oversized.Add(1)
	return make([]byte, size)
}

// Put returns a byte slice to the pool for reuse. Slices that did not come
// from Get are left to the garbage collector.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	if pool, exists := p.pools[cap(buf)]; exists {
		p.puts.Add(1)
		// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}, slice allocation is expected
		pool.Put(buf[:cap(buf)])
	}
}

// PoolStats reports pool usage
type PoolStats struct {
	Gets          uint64 `json:"gets"`
	Puts          uint64 `json:"puts"`
	Oversized     uint64 `json:"oversized"`
	MaxBufferSize int    `json:"max_buffer_size"`
	MinBufferSize int    `json:"min_buffer_size"`
}

// GetStats returns current pool statistics
func (p *BytePool) GetStats() PoolStats {
	return PoolStats{
		Gets:          p.gets.Load(),
		Puts:          p.puts.Load(),
		Oversized:     p.oversized.Load(),
		MinBufferSize: p.sizes[0],
		MaxBufferSize: p.sizes[len(p.sizes)-1],
	}
}

// Global pool instance
var defaultBytePool = NewBytePool()

// GetBuffer gets a buffer from the default global pool
func GetBuffer(size int) []byte {
	return defaultBytePool.Get(size)
}

// PutBuffer returns a buffer to the default global pool
func PutBuffer(buf []byte) {
	defaultBytePool.Put(buf)
}

// GetPoolStats returns statistics for the default global pool
func GetPoolStats() PoolStats {
	return defaultBytePool.GetStats()
}
