package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// Scan listens on a wildcard channel for timeout and returns every distinct
// sensor heard, in the order first heard. On success the discovery cache is
// replaced with exactly the returned set. If ctx ends first the scan channel
// is closed, ctx.Err() is returned and the cache is left as it was.
func (h *Hub) Scan(ctx context.Context, timeout time.Duration) ([]Descriptor, error) {
	if err := h.checkRunning(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: scan timeout must be > 0, got %v", ErrInvalidArgument, timeout)
	}

	channel, err := h.reserve()
	if err != nil {
		return nil, err
	}
	defer h.release(channel)

	scanner, err := h.node.NewScanner(radio.ChannelConfig{
		Number:        channel,
		Period:        radio.PeriodScan,
		SearchTimeout: radio.DefaultSearchTimeout,
		RFFrequency:   radio.DefaultRFFrequency,
		Filter:        radio.Wildcard,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan channel %d: %w", ErrConnection, channel, err)
	}

	var mu sync.Mutex
	seen := make(map[string]struct{})
	found := make([]Descriptor, 0)
	scanner.OnFound(func(id radio.DeviceID) {
		d := NewDescriptor(id)
		mu.Lock()
		defer mu.Unlock()
		if _, ok := seen[d.Key]; ok {
			return
		}
		seen[d.Key] = struct{}{}
		found = append(found, d)
		h.logger.Printf("Hub: scan found %s (key=%s)", d.Label, d.Key)
	})

	if err := scanner.Open(); err != nil {
		if closeErr := scanner.Close(); closeErr != nil {
			h.logger.Printf("Hub: error closing scan channel %d: %v", channel, closeErr)
		}
		return nil, fmt.Errorf("%w: open scan channel %d: %w", ErrConnection, channel, err)
	}
	defer func() {
		if err := scanner.Close(); err != nil {
			h.logger.Printf("Hub: error closing scan channel %d: %v", channel, err)
		}
	}()

	h.logger.Printf("Hub: scanning on channel %d for %v", channel, timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		h.logger.Printf("Hub: scan interrupted: %v", ctx.Err())
		return nil, ctx.Err()
	case <-timer.C:
	}

	mu.Lock()
	result := make([]Descriptor, len(found))
	copy(result, found)
	mu.Unlock()

	cache := make(map[string]Descriptor, len(result))
	for _, d := range result {
		cache[d.Key] = d
	}
	h.mu.Lock()
	if h.state == hubRunning {
		h.cache = cache
	}
	h.mu.Unlock()

	h.logger.Printf("Hub: scan complete, %d sensor(s)", len(result))
	return result, nil
}
