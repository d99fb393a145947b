package antsim

import (
	"sync"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

type scanner struct {
	node    *Node
	channel int

	mu      sync.RWMutex
	open    bool
	onFound func(radio.DeviceID)
}

var _ radio.Scanner = (*scanner)(nil)

func (s *scanner) OnFound(fn func(radio.DeviceID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFound = fn
}

// Open claims the channel and announces every sensor in range. Each sensor
// is announced twice, like a real wildcard search that hears several pages
// from the same device.
func (s *scanner) Open() error {
	if !s.node.Running() {
		return radio.ErrNotRunning
	}
	if err := s.node.claim(s.channel, s); err != nil {
		return err
	}

	s.mu.Lock()
	s.open = true
	s.mu.Unlock()

	s.node.mu.Lock()
	s.node.scanners[s] = struct{}{}
	ids := make([]radio.DeviceID, 0, len(s.node.sensors))
	for _, sensor := range s.node.sensors {
		ids = append(ids, sensor.spec.ID)
	}
	s.node.mu.Unlock()

	s.node.logger.Printf("SimNode: scan opened on channel %d", s.channel)
	go_func_utils.SafeGo(s.node.logger, func() {
		for pass := 0; pass < 2; pass++ {
			for _, id := range ids {
				s.announce(id)
			}
		}
	})
	return nil
}

func (s *scanner) Close() error {
	s.mu.Lock()
	wasOpen := s.open
	s.open = false
	s.mu.Unlock()
	if !wasOpen {
		return nil
	}

	s.node.mu.Lock()
	delete(s.node.scanners, s)
	s.node.mu.Unlock()
	s.node.release(s.channel, s)
	s.node.logger.Printf("SimNode: scan closed on channel %d", s.channel)
	return nil
}

func (s *scanner) announce(id radio.DeviceID) {
	s.mu.RLock()
	open := s.open
	fn := s.onFound
	s.mu.RUnlock()
	if open && fn != nil {
		fn(id)
	}
}

// Scanners only report announcements; broadcast pages are ignored.
func (s *scanner) deliver(radio.Payload) {}

func (s *scanner) fault(error) {}

func (s *scanner) deviceID() radio.DeviceID { return radio.Wildcard }
