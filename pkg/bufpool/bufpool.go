// Package bufpool provides a tiered buffer pool for copy and hash I/O.
//
// Copy workers and hashers churn through transfer-sized buffers at a high
// rate; pooling them keeps allocation and GC cost off the copy path. Two size
// tiers cover the workload: a hash tier for checksum reads and a copy tier
// for streaming transfer chunks. Requests above the copy tier are allocated
// directly and never pooled, so an occasional huge buffer does not pin memory.
//
// All operations are safe for concurrent use.
package bufpool

import "sync"

const (
	// DefaultHashSize is the read chunk used when hashing files (64KB).
	DefaultHashSize = 64 << 10

	// DefaultCopySize is the streaming chunk used when copying files (1MB).
	DefaultCopySize = 1 << 20
)

// Pool manages byte slices in two size classes, picking the class from the
// requested size and falling back to direct allocation for oversized asks.
type Pool struct {
	hash     sync.Pool
	copy     sync.Pool
	hashSize int
	copySize int
}

// Config overrides the pool size classes. Zero values take the defaults.
type Config struct {
	HashSize int
	CopySize int
}

// NewPool creates a buffer pool. A nil config uses the defaults.
func NewPool(cfg *Config) *Pool {
	p := &Pool{hashSize: DefaultHashSize, copySize: DefaultCopySize}
	if cfg != nil {
		if cfg.HashSize > 0 {
			p.hashSize = cfg.HashSize
		}
		if cfg.CopySize > 0 {
			p.copySize = cfg.CopySize
		}
	}

	p.hash = sync.Pool{
		New: func() any {
			buf := make([]byte, p.hashSize)
			return &buf
		},
	}
	p.copy = sync.Pool{
		New: func() any {
			buf := make([]byte, p.copySize)
			return &buf
		},
	}
	return p
}

// Get returns a byte slice of exactly the requested length, backed by a
// pooled buffer when the size fits a class. The caller must Put the buffer
// back when done.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.hashSize:
		bufPtr = p.hash.Get().(*[]byte)
	case size <= p.copySize:
		bufPtr = p.copy.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	return (*bufPtr)[:size]
}

// Put returns a buffer obtained from Get. Buffers whose capacity matches no
// size class are left for the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.hashSize:
		full := buf[:cap(buf)]
		p.hash.Put(&full)
	case p.copySize:
		full := buf[:cap(buf)]
		p.copy.Put(&full)
	}
}

var globalPool = NewPool(nil)

// Get returns a buffer from the package-level pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the package-level pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
