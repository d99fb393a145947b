package ble

import (
	"fmt"
	"math"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// decoder turns notification bytes into a payload. A nil payload with a
// nil error means the notification carried nothing to report yet.
type decoder func(buf []byte) (radio.Payload, error)

func newDecoder(t radio.DeviceType) decoder {
	switch t {
	case radio.DeviceTypeHeartRate:
		return func(buf []byte) (radio.Payload, error) {
			data, err := parseHeartRate(buf)
			if err != nil {
				return nil, err
			}
			return data, nil
		}
	case radio.DeviceTypePowerMeter:
		return (&powerDecoder{}).decode
	case radio.DeviceTypeFitnessEquipment:
		return func(buf []byte) (radio.Payload, error) {
			data, err := ParseIndoorBikeData(buf)
			if err != nil {
				return nil, err
			}
			return data.Payload(), nil
		}
	default:
		return (&cscDecoder{}).decode
	}
}

func uint16At(buf []byte, offset int) uint16 {
	return uint16(buf[offset]) | (uint16(buf[offset+1]) << 8)
}

// parseHeartRate parses heart rate measurement characteristic data
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
func parseHeartRate(buf []byte) (radio.HeartRateData, error) {
	if len(buf) < 2 {
		return radio.HeartRateData{}, fmt.Errorf("heart rate data too short: %d bytes", len(buf))
	}

	// Bit 0: 0 = UINT8, 1 = UINT16
	if buf[0]&0x01 != 0 {
		if len(buf) < 3 {
			return radio.HeartRateData{}, fmt.Errorf("heart rate UINT16 data too short: %d bytes", len(buf))
		}
		return radio.HeartRateData{HeartRate: int(uint16At(buf, 1))}, nil
	}
	return radio.HeartRateData{HeartRate: int(buf[1])}, nil
}

// crankCadence derives cadence from cumulative crank revolutions and the
// last crank event time (1/1024 s). The first sample only primes it.
type crankCadence struct {
	primed    bool
	lastRevs  uint16
	lastEvent uint16
}

func (c *crankCadence) update(revs, eventTime uint16) (float64, bool) {
	if !c.primed {
		c.lastRevs, c.lastEvent, c.primed = revs, eventTime, true
		return 0, false
	}
	// uint16 arithmetic handles rollover
	revDiff := revs - c.lastRevs
	timeDiff := eventTime - c.lastEvent
	c.lastRevs, c.lastEvent = revs, eventTime
	if timeDiff == 0 {
		return 0, false
	}

	rpm := float64(revDiff) * 60.0 * 1024.0 / float64(timeDiff)
	if rpm < 0 || rpm > 300 {
		return 0, false
	}
	return rpm, true
}

// Cycling power measurement flag bits
const (
	cpFlagPedalPowerBalance   = 1 << 0
	cpFlagAccumulatedTorque   = 1 << 2
	cpFlagWheelRevolutionData = 1 << 4
	cpFlagCrankRevolutionData = 1 << 5
)

type powerDecoder struct {
	crank       crankCadence
	accumulated int
}

// decode parses cycling power measurement characteristic data
// See: https://www.bluetooth.com/specifications/specs/cycling-power-service-1-1/
func (d *powerDecoder) decode(buf []byte) (radio.Payload, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("cycling power data too short: %d bytes", len(buf))
	}
	flags := uint16At(buf, 0)
	power := int(int16(uint16At(buf, 2)))
	d.accumulated = (d.accumulated + power) % 65536

	data := radio.PowerData{InstantaneousPower: power, AccumulatedPower: d.accumulated}

	offset := 4
	if flags&cpFlagPedalPowerBalance != 0 {
		offset++
	}
	if flags&cpFlagAccumulatedTorque != 0 {
		offset += 2
	}
	if flags&cpFlagWheelRevolutionData != 0 {
		offset += 6
	}
	if flags&cpFlagCrankRevolutionData != 0 {
		if offset+4 > len(buf) {
			return nil, fmt.Errorf("cycling power data too short for crank data at offset %d", offset)
		}
		if rpm, ok := d.crank.update(uint16At(buf, offset), uint16At(buf, offset+2)); ok {
			data.Cadence = radio.IntPtr(int(math.Round(rpm)))
		}
	}
	return data, nil
}

type cscDecoder struct {
	crank crankCadence
}

// decode parses Cycling Speed and Cadence measurement characteristic data
// See: https://www.bluetooth.com/specifications/specs/cycling-speed-and-cadence-service-1-0/
func (d *cscDecoder) decode(buf []byte) (radio.Payload, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("CSC data too short: %d bytes", len(buf))
	}
	flags := buf[0]
	hasWheelData := flags&0x01 != 0
	hasCrankData := flags&0x02 != 0

	fields := make(map[string]float64)
	offset := 1
	if hasWheelData {
		if offset+6 > len(buf) {
			return nil, fmt.Errorf("CSC data too short for wheel data at offset %d", offset)
		}
		revs := uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
		fields["wheel_revolutions"] = float64(revs)
		offset += 6
	}
	if hasCrankData {
		if offset+4 > len(buf) {
			return nil, fmt.Errorf("CSC data too short for crank data at offset %d", offset)
		}
		revs := uint16At(buf, offset)
		fields["crank_revolutions"] = float64(revs)
		if rpm, ok := d.crank.update(revs, uint16At(buf, offset+2)); ok {
			fields["cadence"] = rpm
		}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return radio.GenericData{Page: int(flags), Fields: fields}, nil
}

// IndoorBikeData holds the fields of the FTMS Indoor Bike Data
// characteristic, scaled to human-readable units. Has* reports presence.
type IndoorBikeData struct {
	HasInstantaneousSpeed   bool
	HasInstantaneousCadence bool
	HasResistanceLevel      bool
	HasInstantaneousPower   bool
	HasHeartRate            bool

	InstantaneousSpeedKmh   float64
	InstantaneousCadenceRpm float64
	TotalDistanceMeters     uint32
	ResistanceLevel         int16
	InstantaneousPowerWatts int16
	HeartRateBpm            uint8
}

// Indoor Bike Data flag bit positions (FTMS 1.0)
const (
	ibdFlagMoreData             = 1 << 0 // 0 = Instantaneous Speed present
	ibdFlagAverageSpeed         = 1 << 1
	ibdFlagInstantaneousCadence = 1 << 2
	ibdFlagAverageCadence       = 1 << 3
	ibdFlagTotalDistance        = 1 << 4
	ibdFlagResistanceLevel      = 1 << 5
	ibdFlagInstantaneousPower   = 1 << 6
	ibdFlagAveragePower         = 1 << 7
	ibdFlagExpendedEnergy       = 1 << 8
	ibdFlagHeartRate            = 1 << 9
)

// ParseIndoorBikeData parses the FTMS Indoor Bike Data characteristic up to
// the heart rate field; later fields are not used.
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
func ParseIndoorBikeData(buf []byte) (*IndoorBikeData, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("indoor bike data too short: %d bytes", len(buf))
	}
	flags := uint16At(buf, 0)
	offset := 2
	data := &IndoorBikeData{
		HasInstantaneousSpeed:   flags&ibdFlagMoreData == 0,
		HasInstantaneousCadence: flags&ibdFlagInstantaneousCadence != 0,
		HasResistanceLevel:      flags&ibdFlagResistanceLevel != 0,
		HasInstantaneousPower:   flags&ibdFlagInstantaneousPower != 0,
		HasHeartRate:            flags&ibdFlagHeartRate != 0,
	}

	need := func(n int, field string) error {
		if offset+n > len(buf) {
			return fmt.Errorf("buffer too short for %s at offset %d", field, offset)
		}
		return nil
	}

	// Fields appear in flag order
	if data.HasInstantaneousSpeed {
		if err := need(2, "instantaneous speed"); err != nil {
			return nil, err
		}
		data.InstantaneousSpeedKmh = float64(uint16At(buf, offset)) * 0.01
		offset += 2
	}
	if flags&ibdFlagAverageSpeed != 0 {
		if err := need(2, "average speed"); err != nil {
			return nil, err
		}
		offset += 2
	}
	if data.HasInstantaneousCadence {
		if err := need(2, "instantaneous cadence"); err != nil {
			return nil, err
		}
		data.InstantaneousCadenceRpm = float64(uint16At(buf, offset)) * 0.5
		offset += 2
	}
	if flags&ibdFlagAverageCadence != 0 {
		if err := need(2, "average cadence"); err != nil {
			return nil, err
		}
		offset += 2
	}
	if flags&ibdFlagTotalDistance != 0 {
		if err := need(3, "total distance"); err != nil {
			return nil, err
		}
		data.TotalDistanceMeters = uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16
		offset += 3
	}
	if data.HasResistanceLevel {
		if err := need(2, "resistance level"); err != nil {
			return nil, err
		}
		data.ResistanceLevel = int16(uint16At(buf, offset))
		offset += 2
	}
	if data.HasInstantaneousPower {
		if err := need(2, "instantaneous power"); err != nil {
			return nil, err
		}
		data.InstantaneousPowerWatts = int16(uint16At(buf, offset))
		offset += 2
	}
	if flags&ibdFlagAveragePower != 0 {
		if err := need(2, "average power"); err != nil {
			return nil, err
		}
		offset += 2
	}
	if flags&ibdFlagExpendedEnergy != 0 {
		if err := need(5, "expended energy"); err != nil {
			return nil, err
		}
		offset += 5
	}
	if data.HasHeartRate {
		if err := need(1, "heart rate"); err != nil {
			return nil, err
		}
		data.HeartRateBpm = buf[offset]
	}
	return data, nil
}

// Payload converts the parsed characteristic to a trainer page.
func (d *IndoorBikeData) Payload() radio.TrainerData {
	p := radio.TrainerData{InstantaneousPower: int(d.InstantaneousPowerWatts)}
	if d.HasInstantaneousCadence {
		p.Cadence = radio.IntPtr(int(math.Round(d.InstantaneousCadenceRpm)))
	}
	if d.HasHeartRate && d.HeartRateBpm > 0 {
		p.HeartRate = radio.IntPtr(int(d.HeartRateBpm))
	}
	if d.HasInstantaneousSpeed {
		p.SpeedKmh = radio.FloatPtr(d.InstantaneousSpeedKmh)
	}
	if d.HasResistanceLevel {
		p.ResistancePercent = radio.FloatPtr(float64(d.ResistanceLevel))
	}
	return p
}
