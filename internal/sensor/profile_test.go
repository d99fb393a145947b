package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

func TestProfileFor(t *testing.T) {
	assert.Equal(t, ProfileHeartRate, ProfileFor(radio.DeviceTypeHeartRate))
	assert.Equal(t, ProfileTrainer, ProfileFor(radio.DeviceTypeFitnessEquipment))
	assert.Equal(t, ProfilePower, ProfileFor(radio.DeviceTypePowerMeter))
	assert.Equal(t, ProfileGeneric, ProfileFor(radio.DeviceTypeBikeSpeedCadence))
	assert.Equal(t, ProfileGeneric, ProfileFor(radio.DeviceType(250)))
}

func TestProfileCapabilities(t *testing.T) {
	assert.True(t, ProfileTrainer.Capabilities().Has(CapControlTargetPower))
	assert.True(t, ProfileTrainer.Capabilities().Has(CapReadPower))
	assert.False(t, ProfileHeartRate.Capabilities().Has(CapControlTargetPower))
	assert.False(t, ProfilePower.Capabilities().Has(CapControlTargetPower))
	assert.Equal(t, Capability(0), ProfileGeneric.Capabilities())

	assert.Equal(t, []string{"read_power", "control_target_power"}, ProfileTrainer.Capabilities().Names())
	assert.Empty(t, ProfileGeneric.Capabilities().Names())
}

func TestProfileChannelConfig(t *testing.T) {
	id := radio.DeviceID{Number: 1, Type: radio.DeviceTypeHeartRate, TransmissionType: 1}
	cfg := ProfileHeartRate.ChannelConfig(3, id)
	assert.Equal(t, 3, cfg.Number)
	assert.Equal(t, radio.PeriodHeartRate, cfg.Period)
	assert.Equal(t, radio.DefaultRFFrequency, cfg.RFFrequency)
	assert.Equal(t, radio.DefaultSearchTimeout, cfg.SearchTimeout)
	assert.Equal(t, id, cfg.Filter)

	assert.Equal(t, radio.PeriodPowerMeter, ProfilePower.ChannelConfig(0, id).Period)
	assert.Equal(t, radio.PeriodFitnessEquip, ProfileTrainer.ChannelConfig(0, id).Period)
	assert.Equal(t, radio.PeriodFitnessEquip, ProfileGeneric.ChannelConfig(0, id).Period)
}

func TestKeyAndLabel(t *testing.T) {
	id := radio.DeviceID{Number: 4242, Type: radio.DeviceTypeFitnessEquipment, TransmissionType: 5}
	assert.Equal(t, "FitnessEquipment_5_4242", Key(id))
	assert.Equal(t, "FitnessEquipment:4242", Label(id))

	d := NewDescriptor(id)
	assert.Equal(t, id, d.ChannelID())
}
