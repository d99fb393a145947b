// Package radio defines the contract between the sensor hub and the radio
// driver that owns the physical node.
//
// A driver exposes a Node with a background receive loop, a wildcard
// Scanner for discovery, and channel-bound Devices that deliver decoded
// broadcast payloads through callbacks. Callbacks run on the driver's
// receive goroutine and must not block.
package radio

// Node is the radio driver: one physical node with a fixed pool of channels.
type Node interface {
	// SetNetworkKey configures the network key used by every channel opened
	// on the given network number.
	SetNetworkKey(network uint8, key NetworkKey) error
	// Start launches the background receive loop. It returns once the loop
	// is running.
	Start() error
	// Stop halts the receive loop. Open channels stop delivering data.
	Stop() error
	// NewScanner allocates a wildcard receive channel that reports every
	// announcing device.
	NewScanner(cfg ChannelConfig) (Scanner, error)
	// NewDevice allocates a channel bound to cfg.Filter and returns the
	// device profile handler for it. Fitness equipment handlers also
	// implement PowerController.
	NewDevice(cfg ChannelConfig) (Device, error)
}

// Scanner is a wildcard channel used during discovery.
type Scanner interface {
	// OnFound registers the announcement callback. It may be invoked many
	// times for the same device.
	OnFound(func(DeviceID))
	Open() error
	Close() error
}

// Device is a device profile handler bound to one channel.
type Device interface {
	ID() DeviceID
	Channel() int
	// OnData registers the decode callback, invoked for every decoded
	// broadcast.
	OnData(func(Payload))
	// OnFault registers the callback for channel level failures such as a
	// search timeout or an undecodable page.
	OnFault(func(error))
	// Open opens the channel and starts searching for the paired device.
	Open() error
	Close() error
}

// PowerController is implemented by device handlers that can hold a
// trainer at a set point. Commands are state-setting: resending the same
// command has no additional effect.
type PowerController interface {
	SetTargetPower(watts int) error
	SetBasicResistance(percent float64) error
}

// ChannelConfig is the set of parameters needed to allocate a channel.
type ChannelConfig struct {
	Number        int
	Period        uint16
	SearchTimeout uint8
	RFFrequency   uint8
	Filter        DeviceID
}
