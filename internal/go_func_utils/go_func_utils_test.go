package go_func_utils

import (
	"bytes"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeGoWG_Waits(t *testing.T) {
	logger := log.New(&bytes.Buffer{}, "", 0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 3; i++ {
		SafeGoWG(logger, &wg, func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 3, count)
}

func TestSafeCall_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	ok := SafeCall(logger, "Listener", func() { panic("boom") })
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "Listener: listener panicked: boom")

	ok = SafeCall(logger, "Listener", func() {})
	assert.True(t, ok)
}
