package sensor

import (
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// Profile is the device profile variant chosen for a session at connect time.
type Profile int

const (
	ProfileGeneric Profile = iota
	ProfileHeartRate
	ProfilePower
	ProfileTrainer
)

// Capability is a set of operations a profile supports.
type Capability uint8

const (
	CapReadHeartRate Capability = 1 << iota
	CapReadPower
	CapControlTargetPower
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapReadHeartRate, "read_heart_rate"},
	{CapReadPower, "read_power"},
	{CapControlTargetPower, "control_target_power"},
}

// Has reports whether every capability in c is present.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// Names lists the capabilities in c.
func (c Capability) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, n := range capabilityNames {
		if c.Has(n.cap) {
			names = append(names, n.name)
		}
	}
	return names
}

// ProfileFor selects the profile variant for a declared device type.
// Power meters get the power profile rather than Generic so their readings
// advertise read_power; every other unknown type is Generic.
func ProfileFor(t radio.DeviceType) Profile {
	switch t {
	case radio.DeviceTypeHeartRate:
		return ProfileHeartRate
	case radio.DeviceTypePowerMeter:
		return ProfilePower
	case radio.DeviceTypeFitnessEquipment:
		return ProfileTrainer
	default:
		return ProfileGeneric
	}
}

// Capabilities is the fixed capability set of the variant.
func (p Profile) Capabilities() Capability {
	switch p {
	case ProfileHeartRate:
		return CapReadHeartRate
	case ProfilePower:
		return CapReadPower
	case ProfileTrainer:
		return CapReadPower | CapControlTargetPower
	default:
		// Generic decodes whatever the device sends, but promises nothing.
		return 0
	}
}

// ChannelConfig returns the channel parameters for a sensor with this profile.
func (p Profile) ChannelConfig(channel int, id radio.DeviceID) radio.ChannelConfig {
	period := radio.PeriodFitnessEquip
	switch p {
	case ProfileHeartRate:
		period = radio.PeriodHeartRate
	case ProfilePower:
		period = radio.PeriodPowerMeter
	}
	return radio.ChannelConfig{
		Number:        channel,
		Period:        period,
		SearchTimeout: radio.DefaultSearchTimeout,
		RFFrequency:   radio.DefaultRFFrequency,
		Filter:        id,
	}
}

func (p Profile) String() string {
	switch p {
	case ProfileHeartRate:
		return "heart_rate"
	case ProfilePower:
		return "power"
	case ProfileTrainer:
		return "trainer"
	default:
		return "generic"
	}
}

func (p Profile) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
