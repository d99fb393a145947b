package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

func TestDeviceNumber(t *testing.T) {
	assert.Equal(t, uint16(0x1234), deviceNumber("AA:BB:CC:DD:12:34"))
	assert.Equal(t, uint16(0xEEFF), deviceNumber("aa:bb:cc:dd:ee:ff"))

	// Platform addresses that are not MACs hash deterministically
	uuidAddr := "3c9d4a8e-1f2b-4c5d-9e0f-123456789abc"
	assert.Equal(t, deviceNumber(uuidAddr), deviceNumber(uuidAddr))
	assert.Equal(t, deviceNumber(uuidAddr), deviceNumber("3C9D4A8E-1F2B-4C5D-9E0F-123456789ABC"))
}

func TestProfileForServices(t *testing.T) {
	tests := []struct {
		name     string
		services []string
		want     radio.DeviceType
		ok       bool
	}{
		{"heart rate", []string{ServiceUUIDHeartRate}, radio.DeviceTypeHeartRate, true},
		{"power meter", []string{ServiceUUIDCyclingPower}, radio.DeviceTypePowerMeter, true},
		{"trainer wins over power", []string{ServiceUUIDCyclingPower, ServiceUUIDFTMS}, radio.DeviceTypeFitnessEquipment, true},
		{"speed cadence", []string{ServiceUUIDCyclingSpeedCadence}, radio.DeviceTypeBikeSpeedCadence, true},
		{"upper case", []string{"0000180D-0000-1000-8000-00805F9B34FB"}, radio.DeviceTypeHeartRate, true},
		{"unrelated", []string{"0000180f-0000-1000-8000-00805f9b34fb"}, 0, false},
		{"none", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := profileForServices(tt.services)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, p.deviceType)
			}
		})
	}
}

func TestDeviceID(t *testing.T) {
	p, ok := profileForType(radio.DeviceTypeFitnessEquipment)
	assert.True(t, ok)
	id := deviceID("00:11:22:33:01:02", p)
	assert.Equal(t, radio.DeviceID{Number: 0x0102, Type: radio.DeviceTypeFitnessEquipment, TransmissionType: 1}, id)

	_, ok = profileForType(radio.DeviceTypeWeightScale)
	assert.False(t, ok)
}
