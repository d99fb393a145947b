package sensor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// State is the connection state of a session.
type State int

const (
	Opening State = iota
	Open
	Faulted
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Faulted:
		return "faulted"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is a sensor bound to a channel.
// The device callback is the only writer of the last reading.
type Session struct {
	logger     *log.Logger
	key        string
	descriptor Descriptor
	profile    Profile
	device     radio.Device
	now        func() time.Time
	onReading  func(ReadingUpdate)

	mu    sync.RWMutex
	state State
	last  *Reading
	fault error
}

// SessionInfo is a snapshot of a session for listings.
type SessionInfo struct {
	Key              string           `json:"key"`
	Label            string           `json:"label"`
	DeviceID         uint16           `json:"device_id"`
	DeviceType       radio.DeviceType `json:"device_type"`
	TransmissionType uint8            `json:"transmission_type"`
	Channel          int              `json:"channel"`
	Profile          Profile          `json:"profile"`
	Capabilities     []string         `json:"capabilities"`
	State            State            `json:"state"`
}

func newSession(
	logger *log.Logger,
	key string,
	descriptor Descriptor,
	profile Profile,
	device radio.Device,
	now func() time.Time,
	onReading func(ReadingUpdate),
) *Session {
	s := &Session{
		logger:     logger,
		key:        key,
		descriptor: descriptor,
		profile:    profile,
		device:     device,
		now:        now,
		onReading:  onReading,
		state:      Opening,
	}
	device.OnData(s.handlePayload)
	device.OnFault(s.handleFault)
	return s
}

func (s *Session) Key() string { return s.key }

func (s *Session) Descriptor() Descriptor { return s.descriptor }

func (s *Session) Profile() Profile { return s.profile }

func (s *Session) Channel() int { return s.device.Channel() }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Key:              s.key,
		Label:            s.descriptor.Label,
		DeviceID:         s.descriptor.DeviceID,
		DeviceType:       s.descriptor.DeviceType,
		TransmissionType: s.descriptor.TransmissionType,
		Channel:          s.Channel(),
		Profile:          s.profile,
		Capabilities:     s.profile.Capabilities().Names(),
		State:            s.State(),
	}
}

// Read returns the last reading.
func (s *Session) Read() (Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.state == Closed:
		return Reading{}, fmt.Errorf("%w: %s", ErrNotConnected, s.key)
	case s.state == Faulted:
		return Reading{}, fmt.Errorf("%w: %s: %w", ErrConnection, s.key, s.fault)
	case s.last == nil:
		return Reading{}, fmt.Errorf("%w: %s", ErrNoDataYet, s.key)
	}
	return *s.last, nil
}

// controller returns the power controller when the profile and the device
// handler both support target power.
func (s *Session) controller() (radio.PowerController, bool) {
	if !s.profile.Capabilities().Has(CapControlTargetPower) {
		return nil, false
	}
	ctrl, ok := s.device.(radio.PowerController)
	return ctrl, ok
}

func (s *Session) open() error {
	if err := s.device.Open(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state == Opening {
		s.state = Open
	}
	s.mu.Unlock()
	return nil
}

// close closes the channel. Close errors are logged and dropped.
func (s *Session) close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	s.mu.Unlock()

	if err := s.device.Close(); err != nil {
		s.logger.Printf("Session[%s]: error closing channel %d: %v", s.key, s.device.Channel(), err)
	}
}

func (s *Session) handlePayload(p radio.Payload) {
	reading, ok := Normalize(p)
	if !ok {
		return
	}
	reading.ReceivedAt = s.now()

	s.mu.Lock()
	if s.state == Closed || s.state == Faulted {
		s.mu.Unlock()
		return
	}
	s.last = &reading
	s.mu.Unlock()

	if s.onReading != nil {
		s.onReading(ReadingUpdate{Key: s.key, Label: s.descriptor.Label, Reading: reading})
	}
}

func (s *Session) handleFault(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed || s.state == Faulted {
		return
	}
	if err == nil {
		err = radio.ErrChannelClosed
	}
	s.state = Faulted
	s.fault = err
	s.logger.Printf("Session[%s]: channel %d faulted: %v", s.key, s.device.Channel(), err)
}
