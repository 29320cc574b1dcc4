package idgenerator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator(t *testing.T) {
	t.Run("first Id is startValue+1", func(t *testing.T) {
		gen := NewIdGenerator(100)
		require.NotNil(t, gen)
		assert.Equal(t, uint32(101), gen.Id())
		assert.Equal(t, uint32(102), gen.Id())
	})

	t.Run("wraps after max uint32", func(t *testing.T) {
		gen := NewIdGenerator(^uint32(0))
		assert.Equal(t, uint32(0), gen.Id())
	})
}

func TestIdGenerator_Sequence(t *testing.T) {
	gen := NewIdGenerator(0)
	for want := uint32(1); want <= 5; want++ {
		assert.Equal(t, want, gen.Id())
	}
}

func TestIdGenerator_concurrent(t *testing.T) {
	gen := NewIdGenerator(0)
	const n = 500
	ids := make([]uint32, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			ids[idx] = gen.Id()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint32]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		assert.LessOrEqual(t, id, uint32(n))
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, uint32(n+1), gen.Id())
}
