package events

import (
	"log"
	"sync"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/go_func_utils"
)

// Topic fans values out to listeners. A listener is either a callback or a
// channel; channel sends never block, a full channel misses the value.
// A panicking callback is logged and the remaining listeners still run.
// T is the type of the published value.
type Topic[T any] struct {
	logger *log.Logger
	name   string

	mu        sync.RWMutex
	listeners map[uint64]func(T)
	nextID    uint64
}

// NewTopic creates a Topic. name prefixes the log line of a panicking listener.
func NewTopic[T any](logger *log.Logger, name string) *Topic[T] {
	if logger == nil {
		panic("Topic: logger cannot be nil")
	}
	return &Topic[T]{
		logger:    logger,
		name:      name,
		listeners: make(map[uint64]func(T)),
	}
}

// Subscribe registers a callback invoked on every Publish.
// Returns a function that removes the listener; calling it more than once is safe.
func (t *Topic[T]) Subscribe(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = callback
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// SubscribeChan registers a channel that receives every published value.
func (t *Topic[T]) SubscribeChan(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	return t.Subscribe(func(value T) {
		select {
		case ch <- value:
		default:
			// Slow consumer, drop
		}
	})
}

// Publish delivers value to every listener registered at the time of the call.
func (t *Topic[T]) Publish(value T) {
	t.mu.RLock()
	snapshot := make([]func(T), 0, len(t.listeners))
	for _, callback := range t.listeners {
		snapshot = append(snapshot, callback)
	}
	t.mu.RUnlock()

	for _, callback := range snapshot {
		go_func_utils.SafeCall(t.logger, t.name, func() { callback(value) })
	}
}
