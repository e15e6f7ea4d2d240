// Package pool provides object pooling for refstore to reduce allocations.
//
// Object pooling reuses allocated objects instead of creating new ones,
// reducing GC pressure for the encode and decode paths.
//
// Pooled objects:
// - Reference slices (codec scratch space)
// - Byte buffers (journal envelopes)
// - String builders (state and edge listings)
//
// Usage:
//
//	// Get a slice from pool
//	refs := pool.GetRefSlice()
//	defer pool.PutRefSlice(refs)
//
//	// Use the slice...
//	refs = append(refs, ref)
package pool

import (
	"sync"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the capacity (in elements) of slices kept in each pool
	MaxSize int
}

// DefaultMaxSize is the MaxSize used until Configure is called.
const DefaultMaxSize = 64 * 1024

var globalConfig = PoolConfig{
	Enabled: true,
	MaxSize: DefaultMaxSize,
}

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	globalConfig = config

	// Reinitialize pools to ensure New functions are set correctly
	initPools()
}

// Config returns the active configuration.
func Config() PoolConfig {
	return globalConfig
}

// initPools reinitializes all pools with their New functions.
func initPools() {
	refSlicePool = sync.Pool{
		New: func() any {
			return make([]int32, 0, 256)
		},
	}
	stringBuilderPool = sync.Pool{
		New: func() any {
			return &PooledStringBuilder{buf: make([]byte, 0, 256)}
		},
	}
	byteBufferPool = sync.Pool{
		New: func() any {
			return make([]byte, 0, 1024)
		},
	}
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return globalConfig.Enabled
}

// =============================================================================
// Reference Slice Pool (codec scratch)
// =============================================================================

var refSlicePool = sync.Pool{
	New: func() any {
		return make([]int32, 0, 256)
	},
}

// GetRefSlice returns a reference slice from the pool.
// The returned slice has length 0 but may have capacity.
// Call PutRefSlice when done.
func GetRefSlice() []int32 {
	if !globalConfig.Enabled {
		return make([]int32, 0, 256)
	}
	return refSlicePool.Get().([]int32)[:0]
}

// PutRefSlice returns a reference slice to the pool.
func PutRefSlice(refs []int32) {
	if !globalConfig.Enabled || refs == nil {
		return
	}
	// Don't pool very large slices (memory leak prevention)
	if cap(refs) > globalConfig.MaxSize {
		return
	}
	refSlicePool.Put(refs[:0])
}

// =============================================================================
// String Builder Pool
// =============================================================================

var stringBuilderPool = sync.Pool{
	New: func() any {
		b := &PooledStringBuilder{
			buf: make([]byte, 0, 256),
		}
		return b
	},
}

// PooledStringBuilder is a poolable string builder.
type PooledStringBuilder struct {
	buf []byte
}

// WriteString appends a string to the builder.
func (b *PooledStringBuilder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a byte to the builder.
func (b *PooledStringBuilder) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Write appends p to the builder. It never fails.
func (b *PooledStringBuilder) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the built string.
func (b *PooledStringBuilder) String() string {
	return string(b.buf)
}

// Len returns current length.
func (b *PooledStringBuilder) Len() int {
	return len(b.buf)
}

// Reset clears the builder for reuse.
func (b *PooledStringBuilder) Reset() {
	b.buf = b.buf[:0]
}

// GetStringBuilder returns a string builder from the pool.
func GetStringBuilder() *PooledStringBuilder {
	if !globalConfig.Enabled {
		return &PooledStringBuilder{buf: make([]byte, 0, 256)}
	}
	b := stringBuilderPool.Get().(*PooledStringBuilder)
	b.Reset()
	return b
}

// PutStringBuilder returns a string builder to the pool.
func PutStringBuilder(b *PooledStringBuilder) {
	if !globalConfig.Enabled || b == nil {
		return
	}
	if cap(b.buf) > globalConfig.MaxSize { // Don't pool huge buffers
		return
	}
	b.Reset()
	stringBuilderPool.Put(b)
}

// =============================================================================
// Byte Buffer Pool
// =============================================================================

var byteBufferPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

// GetByteBuffer returns a byte buffer from the pool.
func GetByteBuffer() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 1024)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutByteBuffer returns a byte buffer to the pool.
func PutByteBuffer(buf []byte) {
	if !globalConfig.Enabled || buf == nil {
		return
	}
	if cap(buf) > 1024*1024 { // Don't pool huge buffers (>1MB)
		return
	}
	byteBufferPool.Put(buf[:0])
}
