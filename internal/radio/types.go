package radio

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxChannels is the number of channels available on a node.
const MaxChannels = 8

// ANT+ channel parameters.
const (
	DefaultRFFrequency   uint8  = 57 // 2457 MHz
	DefaultSearchTimeout uint8  = 30 // units of 2.5 s
	PeriodHeartRate      uint16 = 8070
	PeriodPowerMeter     uint16 = 8182
	PeriodFitnessEquip   uint16 = 8192
	PeriodScan           uint16 = 8192
)

// NetworkKey is the 8 byte key shared by every device on a network.
type NetworkKey [8]byte

// ANTPlusNetworkKey is the public ANT+ managed network key.
var ANTPlusNetworkKey = NetworkKey{0xB9, 0xA5, 0x21, 0xFB, 0xBD, 0x72, 0xC3, 0x45}

// ParseNetworkKey decodes a 16 character hex string.
func ParseNetworkKey(s string) (NetworkKey, error) {
	var key NetworkKey
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return key, fmt.Errorf("invalid network key: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("invalid network key: want %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// DeviceType is the device type field of a channel id.
type DeviceType uint8

const (
	DeviceTypeAny              DeviceType = 0
	DeviceTypePowerMeter       DeviceType = 11
	DeviceTypeControls         DeviceType = 16
	DeviceTypeFitnessEquipment DeviceType = 17
	DeviceTypeBloodPressure    DeviceType = 18
	DeviceTypeMuscleOxygen     DeviceType = 31
	DeviceTypeWeightScale      DeviceType = 119
	DeviceTypeHeartRate        DeviceType = 120
	DeviceTypeBikeSpeedCadence DeviceType = 121
	DeviceTypeBikeCadence      DeviceType = 122
	DeviceTypeBikeSpeed        DeviceType = 123
	DeviceTypeStrideSpeed      DeviceType = 124
)

var deviceTypeNames = map[DeviceType]string{
	DeviceTypePowerMeter:       "PowerMeter",
	DeviceTypeControls:         "Controls",
	DeviceTypeFitnessEquipment: "FitnessEquipment",
	DeviceTypeBloodPressure:    "BloodPressure",
	DeviceTypeMuscleOxygen:     "MuscleOxygen",
	DeviceTypeWeightScale:      "WeightScale",
	DeviceTypeHeartRate:        "HeartRate",
	DeviceTypeBikeSpeedCadence: "BikeSpeedCadence",
	DeviceTypeBikeCadence:      "BikeCadence",
	DeviceTypeBikeSpeed:        "BikeSpeed",
	DeviceTypeStrideSpeed:      "StrideSpeedDistance",
}

func (t DeviceType) String() string {
	if name, ok := deviceTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown%d", uint8(t))
}

// DeviceID is the channel id triple announced by a device.
type DeviceID struct {
	Number           uint16
	Type             DeviceType
	TransmissionType uint8
}

// Wildcard matches any device.
var Wildcard = DeviceID{}

func (id DeviceID) String() string {
	return fmt.Sprintf("%s #%d (trans %d)", id.Type, id.Number, id.TransmissionType)
}
