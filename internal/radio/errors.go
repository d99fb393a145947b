package radio

import (
	"errors"
	"strings"
)

// Driver errors. Use errors.Is to check for these.
var (
	// ErrTimeout is returned when the node did not answer in time.
	ErrTimeout = errors.New("radio: timed out while waiting for message")

	// ErrNoAcknowledgement is returned when an acknowledged message was
	// not acknowledged by the remote device.
	ErrNoAcknowledgement = errors.New("radio: failed to get acknowledgement")

	// ErrChannelClosed is returned for operations on a closed channel.
	ErrChannelClosed = errors.New("radio: channel closed")

	// ErrSearchTimeout is reported through Device.OnFault when the paired
	// device is no longer heard.
	ErrSearchTimeout = errors.New("radio: channel search timed out")

	// ErrNotRunning is returned when the receive loop is not running.
	ErrNotRunning = errors.New("radio: node not running")
)

// Drivers that only return plain errors report the same conditions with
// these messages.
var timeoutMessages = []string{
	"Timed out while waiting for message",
	"Failed to get acknowledgement",
}

// IsTimeout reports whether err is a communication timeout: an explicit
// timeout or a missing acknowledgement.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNoAcknowledgement) {
		return true
	}
	text := err.Error()
	for _, msg := range timeoutMessages {
		if strings.Contains(text, msg) {
			return true
		}
	}
	return false
}
