package sensor

import (
	"fmt"
	"math"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// MaxTargetWatts is the largest set point the trainer command can carry.
const MaxTargetWatts = math.MaxInt16

// ControlResult reports a target power the trainer accepted.
type ControlResult struct {
	// Session is the key of the session that received the command.
	Session     string `json:"session"`
	TargetWatts int    `json:"target_watts"`
}

// SetTargetPower puts a trainer in ERG mode at watts. identifier is resolved
// like GetReading; when the resolved sensor cannot take the command the
// first connected trainer that can is used instead.
func (h *Hub) SetTargetPower(identifier string, watts int) (ControlResult, error) {
	if err := h.checkRunning(); err != nil {
		return ControlResult{}, err
	}

	session, ctrl, err := h.controlTarget(identifier)
	if err != nil {
		return ControlResult{}, err
	}
	if watts < 0 || watts > MaxTargetWatts {
		return ControlResult{}, fmt.Errorf("%w: target power must be in [0, %d], got %d",
			ErrInvalidArgument, MaxTargetWatts, watts)
	}

	if err := h.sendTargetPower(session.Key(), ctrl, watts); err != nil {
		return ControlResult{}, err
	}
	return ControlResult{Session: session.Key(), TargetWatts: watts}, nil
}

func (h *Hub) controlTarget(identifier string) (*Session, radio.PowerController, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	session := h.resolveLocked(identifier)
	if session == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, identifier)
	}
	if ctrl, ok := session.controller(); ok {
		return session, ctrl, nil
	}

	for _, candidate := range h.sessionListLocked() {
		if ctrl, ok := candidate.controller(); ok {
			h.logger.Printf("Hub: %s cannot take target power, using %s", session.Key(), candidate.Key())
			return candidate, ctrl, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: no connected fitness equipment supports target power", ErrUnsupported)
}

// sendTargetPower sends the command with up to ControlAttempts attempts.
// Only timeouts are retried, after attempt x ControlBackoff.
func (h *Hub) sendTargetPower(key string, ctrl radio.PowerController, watts int) error {
	attempts := h.opts.ControlAttempts
	for attempt := 1; ; attempt++ {
		if attempt == 1 {
			// Drop any basic resistance so the trainer accepts the set point
			if err := ctrl.SetBasicResistance(0); err != nil {
				h.logger.Printf("Hub: %s: clearing resistance failed: %v", key, err)
			}
		}

		err := ctrl.SetTargetPower(watts)
		if err == nil {
			h.logger.Printf("Hub: %s: target power %dW (attempt %d)", key, watts, attempt)
			return nil
		}
		if !radio.IsTimeout(err) || attempt >= attempts {
			return fmt.Errorf("%w: %s: target power %dW after %d attempt(s): %w",
				ErrControlFailure, key, watts, attempt, err)
		}

		delay := h.opts.ControlBackoff * time.Duration(attempt)
		h.logger.Printf("Hub: %s: attempt %d timed out (%v), retrying in %v", key, attempt, err, delay)
		h.opts.Sleep(delay)
	}
}
