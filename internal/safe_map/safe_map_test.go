package safe_map

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeMap_LoadStoreDelete(t *testing.T) {
	m := NewSafeMap[string, int]()

	_, ok := m.Load("a")
	assert.False(t, ok)

	m.Store("a", 1)
	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete("a")
	_, ok = m.Load("a")
	assert.False(t, ok)
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[string, int]()

	actual, loaded := m.LoadOrStore("k", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, actual)

	actual, loaded = m.LoadOrStore("k", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, actual)
}

func TestSafeMap_RangeStops(t *testing.T) {
	m := NewSafeMap[int, int]()
	for i := 0; i < 5; i++ {
		m.Store(i, i)
	}
	visited := 0
	m.Range(func(int, int) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Store(i, i*i)
			m.Load(i)
		}(i)
	}
	wg.Wait()
	count := 0
	m.Range(func(k, v int) bool {
		assert.Equal(t, k*k, v)
		count++
		return true
	})
	assert.Equal(t, 50, count)
}
