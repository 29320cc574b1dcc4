package safemap

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[string, int]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	_, ok := m.Load("x")
	assert.False(t, ok)
}

func TestSafeMap_ZeroValueUsable(t *testing.T) {
	var m SafeMap[string, int]
	m.Swap("a", 1)
	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestSafeMap_Load(t *testing.T) {
	m := NewSafeMap[string, int]()

	t.Run("swap and load returns value", func(t *testing.T) {
		m.Swap("a", 1)
		v, ok := m.Load("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		assert.True(t, m.Has("a"))
	})

	t.Run("overwrite returns new value", func(t *testing.T) {
		m.Swap("a", 2)
		v, _ := m.Load("a")
		assert.Equal(t, 2, v)
	})

	t.Run("load missing key returns zero value and false", func(t *testing.T) {
		v, ok := m.Load("nonexistent")
		assert.False(t, ok)
		assert.Equal(t, 0, v)
		assert.False(t, m.Has("nonexistent"))
	})
}

func TestSafeMap_Swap(t *testing.T) {
	m := NewSafeMap[string, string]()

	prev, loaded := m.Swap("k", "first")
	assert.False(t, loaded)
	assert.Empty(t, prev)

	prev, loaded = m.Swap("k", "second")
	assert.True(t, loaded)
	assert.Equal(t, "first", prev)

	v, _ := m.Load("k")
	assert.Equal(t, "second", v)
}

func TestSafeMap_DeleteIf(t *testing.T) {
	type entry struct{ n int }
	m := NewSafeMap[string, *entry]()
	old := &entry{n: 1}
	replacement := &entry{n: 2}

	m.Swap("k", old)
	m.Swap("k", replacement)

	t.Run("stale value does not evict replacement", func(t *testing.T) {
		removed := m.DeleteIf("k", func(v *entry) bool { return v == old })
		assert.False(t, removed)
		assert.True(t, m.Has("k"))
	})

	t.Run("current value is removed", func(t *testing.T) {
		removed := m.DeleteIf("k", func(v *entry) bool { return v == replacement })
		assert.True(t, removed)
		assert.False(t, m.Has("k"))
	})

	t.Run("missing key", func(t *testing.T) {
		assert.False(t, m.DeleteIf("k", func(*entry) bool { return true }))
	})
}

func TestSafeMap_Drain(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Swap("a", 1)
	m.Swap("b", 2)

	values := m.Drain()
	sort.Ints(values)
	assert.Equal(t, []int{1, 2}, values)
	assert.Equal(t, 0, m.Len())

	m.Swap("c", 3)
	assert.Equal(t, 1, m.Len(), "map stays usable after drain")
}

func TestSafeMap_Snapshots(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Swap("a", 1)
	m.Swap("b", 2)

	keys := m.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)

	values := m.Values()
	sort.Ints(values)
	assert.Equal(t, []int{1, 2}, values)

	m.DeleteIf("a", func(int) bool { return true })
	assert.Len(t, keys, 2, "snapshot is independent of later writes")
}

func TestSafeMap_Range(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Swap("a", 1)
	m.Swap("b", 2)
	m.Swap("c", 3)

	t.Run("iterates all entries", func(t *testing.T) {
		seen := make(map[string]int)
		m.Range(func(k string, v int) bool {
			seen[k] = v
			return true
		})
		assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, seen)
	})

	t.Run("stops when f returns false", func(t *testing.T) {
		count := 0
		m.Range(func(k string, v int) bool {
			count++
			return count < 2
		})
		assert.Equal(t, 2, count)
	})
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const goroutines = 50
	const opsPerGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < opsPerGoroutine; i++ {
				key := id*opsPerGoroutine + i
				m.Swap(key, key*2)
				m.Load(key)
				m.Values()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*opsPerGoroutine, m.Len())

	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < opsPerGoroutine; i++ {
				key := id*opsPerGoroutine + i
				m.DeleteIf(key, func(v int) bool { return v == key*2 })
				m.Len()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
