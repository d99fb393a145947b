package sensor

import (
	"fmt"
	"strconv"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// Connect opens a session for a sensor from the latest scan on the lowest
// free channel. An existing session under the same key is closed first.
func (h *Hub) Connect(key string) (SessionInfo, error) {
	h.connectMu.Lock()
	defer h.connectMu.Unlock()
	if err := h.checkRunning(); err != nil {
		return SessionInfo{}, err
	}

	h.mu.RLock()
	descriptor, ok := h.cache[key]
	previous := h.sessions[key]
	h.mu.RUnlock()
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s is not in the last scan, scan again", ErrNotFound, key)
	}

	if previous != nil {
		h.logger.Printf("Hub: %s already connected on channel %d, closing it first", key, previous.Channel())
		h.removeSession(key, previous)
	}

	channel, err := h.reserve()
	if err != nil {
		return SessionInfo{}, err
	}

	profile := ProfileFor(descriptor.DeviceType)
	device, err := h.node.NewDevice(profile.ChannelConfig(channel, descriptor.ChannelID()))
	if err != nil {
		h.release(channel)
		return SessionInfo{}, fmt.Errorf("%w: %s: %w", ErrConnection, key, err)
	}

	session := newSession(h.logger, key, descriptor, profile, device, h.opts.Now, h.publishReading)
	if err := session.open(); err != nil {
		session.close()
		h.release(channel)
		return SessionInfo{}, fmt.Errorf("%w: open channel %d for %s: %w", ErrConnection, channel, key, err)
	}

	h.mu.Lock()
	h.sessions[key] = session
	h.mu.Unlock()

	h.logger.Printf("Hub: connected %s on channel %d as %s", descriptor.Label, channel, profile)
	return session.Info(), nil
}

// Disconnect closes the session registered under key and frees its channel.
func (h *Hub) Disconnect(key string) error {
	h.connectMu.Lock()
	defer h.connectMu.Unlock()
	if err := h.checkRunning(); err != nil {
		return err
	}

	h.mu.RLock()
	session := h.sessions[key]
	h.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, key)
	}
	h.removeSession(key, session)
	h.logger.Printf("Hub: disconnected %s", key)
	return nil
}

// removeSession unregisters and closes s. The channel is freed only after
// the driver has closed it. Caller must hold connectMu.
func (h *Hub) removeSession(key string, s *Session) {
	h.mu.Lock()
	if h.sessions[key] == s {
		delete(h.sessions, key)
	}
	h.mu.Unlock()

	s.close()
	h.release(s.Channel())
}

// reserve claims the lowest free channel.
func (h *Hub) reserve() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := 0; ch < radio.MaxChannels; ch++ {
		if !h.reserved[ch] {
			h.reserved[ch] = true
			return ch, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d channels in use", ErrResourceExhausted, radio.MaxChannels)
}

func (h *Hub) release(ch int) {
	if ch < 0 || ch >= radio.MaxChannels {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reserved[ch] = false
}

// resolveLocked finds a session by, in order: session key, scan key or label
// of a connected device, device number.
func (h *Hub) resolveLocked(identifier string) *Session {
	if s, ok := h.sessions[identifier]; ok {
		return s
	}

	descriptor, ok := h.cache[identifier]
	if !ok {
		for _, d := range h.cache {
			if d.Label == identifier {
				descriptor, ok = d, true
				break
			}
		}
	}
	if ok {
		if s := h.sessionForDeviceLocked(descriptor.DeviceID); s != nil {
			return s
		}
	}

	if number, err := strconv.ParseUint(identifier, 10, 16); err == nil {
		return h.sessionForDeviceLocked(uint16(number))
	}
	return nil
}

func (h *Hub) sessionForDeviceLocked(number uint16) *Session {
	for _, s := range h.sessionListLocked() {
		if s.Descriptor().DeviceID == number {
			return s
		}
	}
	return nil
}
