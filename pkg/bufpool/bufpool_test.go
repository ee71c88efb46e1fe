package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSizeClasses(t *testing.T) {
	t.Run("HashTier", func(t *testing.T) {
		buf := Get(4096)
		defer Put(buf)

		assert.Equal(t, 4096, len(buf))
		assert.Equal(t, DefaultHashSize, cap(buf))
	})

	t.Run("CopyTier", func(t *testing.T) {
		buf := Get(256 * 1024)
		defer Put(buf)

		assert.Equal(t, 256*1024, len(buf))
		assert.Equal(t, DefaultCopySize, cap(buf))
	})

	t.Run("Oversized", func(t *testing.T) {
		buf := Get(4 * 1024 * 1024)
		defer Put(buf)

		assert.Equal(t, 4*1024*1024, len(buf))
		assert.Equal(t, len(buf), cap(buf))
	})

	t.Run("TierBoundaries", func(t *testing.T) {
		buf := Get(DefaultHashSize)
		assert.Equal(t, DefaultHashSize, cap(buf))
		Put(buf)

		buf = Get(DefaultHashSize + 1)
		assert.Equal(t, DefaultCopySize, cap(buf))
		Put(buf)
	})
}

func TestPutEdgeCases(t *testing.T) {
	require.NotPanics(t, func() {
		Put(nil)
		Put([]byte{})
		Put(make([]byte, 12345))
	})
}

func TestCustomSizes(t *testing.T) {
	pool := NewPool(&Config{HashSize: 1024, CopySize: 8192})

	buf := pool.Get(500)
	assert.Equal(t, 1024, cap(buf))
	pool.Put(buf)

	buf = pool.Get(5000)
	assert.Equal(t, 8192, cap(buf))
	pool.Put(buf)

	pool = NewPool(&Config{})
	buf = pool.Get(100)
	assert.Equal(t, DefaultHashSize, cap(buf))
	pool.Put(buf)
}

func TestConcurrentGetPut(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := Get((id*100 + j) % (512 * 1024))
				if len(buf) > 0 {
					buf[0] = byte(id)
				}
				Put(buf)
			}
		}(i)
	}
	wg.Wait()
}

func BenchmarkGetPut(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := Get(DefaultCopySize)
			Put(buf)
		}
	})
}
