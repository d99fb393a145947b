// Package sensor orchestrates sensor sessions on a radio node: it caches
// scan results, allocates the node's channels to sessions, normalizes
// broadcast data into a last reading per sensor and dispatches trainer
// control commands with bounded retries.
package sensor

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

const (
	DefaultControlAttempts = 3
	DefaultControlBackoff  = 400 * time.Millisecond

	// ANT+ devices live on network 0.
	antPlusNetwork uint8 = 0
)

// Options tunes a Hub. Zero values select the defaults.
type Options struct {
	NetworkKey      radio.NetworkKey
	ControlAttempts int
	// ControlBackoff is multiplied by the attempt number between retries.
	ControlBackoff time.Duration
	Sleep          func(time.Duration)
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.NetworkKey == (radio.NetworkKey{}) {
		o.NetworkKey = radio.ANTPlusNetworkKey
	}
	if o.ControlAttempts < 1 {
		o.ControlAttempts = DefaultControlAttempts
	}
	if o.ControlBackoff <= 0 {
		o.ControlBackoff = DefaultControlBackoff
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type hubState int

const (
	hubNew hubState = iota
	hubRunning
	hubClosed
)

// Hub owns the radio node together with the discovery cache and the
// session registry.
type Hub struct {
	logger *log.Logger
	node   radio.Node
	opts   Options

	// connectMu serializes registry changes so picking a channel and
	// registering the session happen as one step
	connectMu sync.Mutex

	mu       sync.RWMutex
	state    hubState
	cache    map[string]Descriptor
	sessions map[string]*Session
	// reserved marks channels held by a session or an in-progress scan
	reserved [radio.MaxChannels]bool

	readings *events.Topic[ReadingUpdate]
}

// New creates a Hub for node. Call Start before use.
func New(node radio.Node, logger *log.Logger, opts Options) *Hub {
	if logger == nil {
		panic("Hub: logger cannot be nil")
	}
	if node == nil {
		panic("Hub: node cannot be nil")
	}
	return &Hub{
		logger:   logger,
		node:     node,
		opts:     opts.withDefaults(),
		cache:    make(map[string]Descriptor),
		sessions: make(map[string]*Session),
		readings: events.NewTopic[ReadingUpdate](logger, "Hub"),
	}
}

// Start configures the network key and starts the node's receive loop.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case hubRunning:
		return nil
	case hubClosed:
		return fmt.Errorf("%w: hub closed", ErrInternal)
	}

	if err := h.node.SetNetworkKey(antPlusNetwork, h.opts.NetworkKey); err != nil {
		return fmt.Errorf("%w: set network key: %w", ErrInternal, err)
	}
	if err := h.node.Start(); err != nil {
		return fmt.Errorf("%w: start node: %w", ErrInternal, err)
	}
	h.state = hubRunning
	h.logger.Printf("Hub: node started, network key set on network %d", antPlusNetwork)
	return nil
}

// Close closes every session and stops the node. Calling Close again does nothing.
func (h *Hub) Close() error {
	h.connectMu.Lock()
	defer h.connectMu.Unlock()

	h.mu.Lock()
	if h.state == hubClosed {
		h.mu.Unlock()
		return nil
	}
	wasRunning := h.state == hubRunning
	h.state = hubClosed
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.cache = make(map[string]Descriptor)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
		h.release(s.Channel())
	}
	h.logger.Printf("Hub: closed %d session(s)", len(sessions))

	if !wasRunning {
		return nil
	}
	if err := h.node.Stop(); err != nil {
		return fmt.Errorf("stop node: %w", err)
	}
	return nil
}

func (h *Hub) checkRunning() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != hubRunning {
		return fmt.Errorf("%w: ANT node not initialized", ErrInternal)
	}
	return nil
}

// GetReading returns the last reading of the session identified by
// identifier (session key, scan label or device number).
func (h *Hub) GetReading(identifier string) (Reading, error) {
	if err := h.checkRunning(); err != nil {
		return Reading{}, err
	}
	h.mu.RLock()
	s := h.resolveLocked(identifier)
	h.mu.RUnlock()
	if s == nil {
		return Reading{}, fmt.Errorf("%w: %s", ErrNotConnected, identifier)
	}
	return s.Read()
}

// GetAllReadings collects the last reading of every session. A failing
// session is reported in Errors and never fails the call.
func (h *Hub) GetAllReadings() AllReadings {
	result := AllReadings{Data: make(map[string]Reading)}
	errs := make(map[string]string)
	for _, s := range h.sessionList() {
		reading, err := s.Read()
		if err != nil {
			errs[s.Key()] = err.Error()
			continue
		}
		result.Data[s.Key()] = reading
	}
	if len(errs) > 0 {
		result.Errors = errs
	}
	return result
}

// SubscribeReadings offers every decoded reading to ch without blocking.
// Returns a function that cancels the subscription.
func (h *Hub) SubscribeReadings(ch chan<- ReadingUpdate) func() {
	return h.readings.SubscribeChan(ch)
}

// Descriptors returns the latest scan result, ordered by key.
func (h *Hub) Descriptors() []Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Descriptor, 0, len(h.cache))
	for _, d := range h.cache {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Sessions lists the registered sessions ordered by channel.
func (h *Hub) Sessions() []SessionInfo {
	list := h.sessionList()
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

func (h *Hub) sessionList() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessionListLocked()
}

func (h *Hub) sessionListLocked() []*Session {
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel() < out[j].Channel() })
	return out
}

func (h *Hub) publishReading(update ReadingUpdate) {
	h.readings.Publish(update)
}
