package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToFileAndExtra(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	var extra bytes.Buffer

	logger := New(Options{File: path, MaxSize: 1, Extra: &extra})
	logger.Printf("Hub: started")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Hub: started")
	assert.Contains(t, extra.String(), "Hub: started")
}

func TestNew_NoOutputs(t *testing.T) {
	logger := New(Options{})
	logger.Printf("discarded")
	assert.NoError(t, logger.Rotate())
	assert.NoError(t, logger.Close())
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	logger := New(Options{File: filepath.Join(dir, "bridge.log"), MaxBackups: 2})
	logger.Printf("before rotate")
	require.NoError(t, logger.Rotate())
	logger.Printf("after rotate")
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLineWriter(t *testing.T) {
	ch := make(chan string, 2)
	w := NewLineWriter(ch)

	n, err := w.Write([]byte("first\nsecond\nthird\n"))
	require.NoError(t, err)
	assert.Equal(t, 19, n)

	// Third line dropped: channel full
	assert.Equal(t, "first", <-ch)
	assert.Equal(t, "second", <-ch)
	assert.Len(t, ch, 0)

	assert.Panics(t, func() { NewLineWriter(nil) })
}
