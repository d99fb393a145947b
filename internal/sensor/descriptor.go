package sensor

import (
	"fmt"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// Descriptor is a sensor found by a scan.
type Descriptor struct {
	Key              string           `json:"key"`
	DeviceID         uint16           `json:"device_id"`
	DeviceType       radio.DeviceType `json:"device_type"`
	TransmissionType uint8            `json:"transmission_type"`
	Label            string           `json:"label"`
}

// NewDescriptor builds the descriptor for an announced channel id.
func NewDescriptor(id radio.DeviceID) Descriptor {
	return Descriptor{
		Key:              Key(id),
		DeviceID:         id.Number,
		DeviceType:       id.Type,
		TransmissionType: id.TransmissionType,
		Label:            Label(id),
	}
}

// Key is the composite sensor key "<Type>_<TransmissionType>_<DeviceNumber>".
func Key(id radio.DeviceID) string {
	return fmt.Sprintf("%s_%d_%d", id.Type, id.TransmissionType, id.Number)
}

// Label is the display name "<Type>:<DeviceNumber>".
func Label(id radio.DeviceID) string {
	return fmt.Sprintf("%s:%d", id.Type, id.Number)
}

// ChannelID returns the channel id filter that pairs with this sensor.
func (d Descriptor) ChannelID() radio.DeviceID {
	return radio.DeviceID{
		Number:           d.DeviceID,
		Type:             d.DeviceType,
		TransmissionType: d.TransmissionType,
	}
}
