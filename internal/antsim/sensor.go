package antsim

import (
	"sync"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// SensorSpec describes a simulated sensor in range of the node.
type SensorSpec struct {
	ID radio.DeviceID
	// Generate builds the page broadcast on the given tick. Nil selects a
	// generator based on the device type.
	Generate func(tick int) radio.Payload
}

// DefaultSensors is a small rig: a heart rate strap, a power meter, a smart
// trainer and a speed/cadence sensor.
func DefaultSensors() []SensorSpec {
	return []SensorSpec{
		{ID: radio.DeviceID{Number: 12345, Type: radio.DeviceTypeHeartRate, TransmissionType: 1}},
		{ID: radio.DeviceID{Number: 23456, Type: radio.DeviceTypePowerMeter, TransmissionType: 5}},
		{ID: radio.DeviceID{Number: 34567, Type: radio.DeviceTypeFitnessEquipment, TransmissionType: 5}},
		{ID: radio.DeviceID{Number: 45678, Type: radio.DeviceTypeBikeSpeedCadence, TransmissionType: 1}},
	}
}

type simSensor struct {
	spec SensorSpec

	mu            sync.Mutex
	tick          int
	accumulated   int
	targetWatts   int
	controlErrors []error
	resistanceErr error
}

func newSimSensor(spec SensorSpec) *simSensor {
	return &simSensor{spec: spec, targetWatts: 100}
}

func (s *simSensor) nextPayload() radio.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	if s.spec.Generate != nil {
		return s.spec.Generate(s.tick)
	}

	switch s.spec.ID.Type {
	case radio.DeviceTypeHeartRate:
		return radio.HeartRateData{HeartRate: 70 + s.tick%15, BeatCount: s.tick % 256}
	case radio.DeviceTypePowerMeter:
		watts := 150 + (s.tick%10)*5
		s.accumulated = (s.accumulated + watts) % 65536
		return radio.PowerData{
			InstantaneousPower: watts,
			Cadence:            radio.IntPtr(85 + s.tick%5),
			AccumulatedPower:   s.accumulated,
		}
	case radio.DeviceTypeFitnessEquipment:
		return radio.TrainerData{
			InstantaneousPower: s.targetWatts + s.tick%3 - 1,
			Cadence:            radio.IntPtr(80 + s.tick%6),
			SpeedKmh:           radio.FloatPtr(25.0),
		}
	case radio.DeviceTypeBikeSpeedCadence:
		return radio.GenericData{
			Page: 0,
			Fields: map[string]float64{
				"speed_kmh":   24.5 + float64(s.tick%4)*0.5,
				"cadence":     float64(82 + s.tick%4),
				"revolutions": float64(s.tick),
			},
		}
	default:
		return radio.GenericData{Page: 0, Fields: map[string]float64{"tick": float64(s.tick)}}
	}
}

// popControlError returns the next queued control error, if any.
func (s *simSensor) popControlError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.controlErrors) == 0 {
		return nil
	}
	err := s.controlErrors[0]
	s.controlErrors = s.controlErrors[1:]
	return err
}

func (s *simSensor) setTarget(watts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetWatts = watts
}

func (s *simSensor) resistanceError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resistanceErr
}
