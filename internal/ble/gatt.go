// Package ble is a radio node backed by a Bluetooth LE adapter. Heart rate
// straps, power meters and FTMS trainers are announced with the ANT+
// device type matching their primary service, so the sensor hub can drive
// them like ANT+ sensors.
package ble

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// Bluetooth Service and Characteristic UUIDs for bike training
const (
	// Heart Rate Service
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	// Cycling Speed and Cadence Service (CSC)
	ServiceUUIDCyclingSpeedCadence = "00001816-0000-1000-8000-00805f9b34fb"
	CharUUIDCSCMeasurement         = "00002a5b-0000-1000-8000-00805f9b34fb"

	// Cycling Power Service
	ServiceUUIDCyclingPower         = "00001818-0000-1000-8000-00805f9b34fb"
	CharUUIDCyclingPowerMeasurement = "00002a63-0000-1000-8000-00805f9b34fb"

	// Fitness Machine Service (FTMS)
	ServiceUUIDFTMS          = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDIndoorBikeData   = "00002ad2-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSControlPoint = "00002ad9-0000-1000-8000-00805f9b34fb"
)

// Every BLE sensor is announced with this transmission type.
const bleTransmissionType uint8 = 1

// profile ties a GATT service to the ANT+ device type it stands in for.
type profile struct {
	deviceType  radio.DeviceType
	serviceUUID string
	measurement string
}

// profiles in announcement priority: a trainer also exposing cycling power
// is announced as fitness equipment only.
var profiles = []profile{
	{radio.DeviceTypeFitnessEquipment, ServiceUUIDFTMS, CharUUIDIndoorBikeData},
	{radio.DeviceTypePowerMeter, ServiceUUIDCyclingPower, CharUUIDCyclingPowerMeasurement},
	{radio.DeviceTypeHeartRate, ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement},
	{radio.DeviceTypeBikeSpeedCadence, ServiceUUIDCyclingSpeedCadence, CharUUIDCSCMeasurement},
}

// profileForServices picks the profile for an advertised service list.
func profileForServices(serviceUUIDs []string) (profile, bool) {
	for _, p := range profiles {
		for _, uuid := range serviceUUIDs {
			if strings.EqualFold(uuid, p.serviceUUID) {
				return p, true
			}
		}
	}
	return profile{}, false
}

func profileForType(t radio.DeviceType) (profile, bool) {
	for _, p := range profiles {
		if p.deviceType == t {
			return p, true
		}
	}
	return profile{}, false
}

// deviceNumber derives the 16 bit device number from an address: the low
// two octets of a MAC, or a hash of platform addresses that are not MACs.
func deviceNumber(address string) uint16 {
	parts := strings.Split(address, ":")
	if len(parts) == 6 {
		hi, errHi := strconv.ParseUint(parts[4], 16, 8)
		lo, errLo := strconv.ParseUint(parts[5], 16, 8)
		if errHi == nil && errLo == nil {
			return uint16(hi)<<8 | uint16(lo)
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(address)))
	return uint16(h.Sum32())
}

// deviceID is the announced channel id of a peripheral.
func deviceID(address string, p profile) radio.DeviceID {
	return radio.DeviceID{
		Number:           deviceNumber(address),
		Type:             p.deviceType,
		TransmissionType: bleTransmissionType,
	}
}

func characteristicKey(serviceUUID, charUUID string) string {
	return fmt.Sprintf("%s_%s", serviceUUID, charUUID)
}
