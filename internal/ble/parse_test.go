package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

func TestParseHeartRate(t *testing.T) {
	data, err := parseHeartRate([]byte{0x00, 72})
	require.NoError(t, err)
	assert.Equal(t, 72, data.HeartRate)

	data, err = parseHeartRate([]byte{0x01, 0x2C, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 300, data.HeartRate)

	_, err = parseHeartRate([]byte{0x00})
	assert.Error(t, err)
	_, err = parseHeartRate([]byte{0x01, 0x2C})
	assert.Error(t, err)
}

func TestPowerDecoder(t *testing.T) {
	d := &powerDecoder{}

	p, err := d.decode([]byte{0x00, 0x00, 0x96, 0x00})
	require.NoError(t, err)
	power := p.(radio.PowerData)
	assert.Equal(t, 150, power.InstantaneousPower)
	assert.Nil(t, power.Cadence)

	// Crank revolution data: the first sample primes the cadence
	p, err = d.decode([]byte{0x20, 0x00, 0xC8, 0x00, 0x0A, 0x00, 0x00, 0x04})
	require.NoError(t, err)
	assert.Nil(t, p.(radio.PowerData).Cadence)

	// One revolution in 1024/1024 s = 60 rpm
	p, err = d.decode([]byte{0x20, 0x00, 0xC8, 0x00, 0x0B, 0x00, 0x00, 0x08})
	require.NoError(t, err)
	power = p.(radio.PowerData)
	assert.Equal(t, 200, power.InstantaneousPower)
	require.NotNil(t, power.Cadence)
	assert.Equal(t, 60, *power.Cadence)

	_, err = d.decode([]byte{0x00, 0x00, 0x96})
	assert.Error(t, err)
	_, err = d.decode([]byte{0x20, 0x00, 0xC8, 0x00, 0x0B})
	assert.Error(t, err)
}

func TestPowerDecoder_NegativePower(t *testing.T) {
	d := &powerDecoder{}
	p, err := d.decode([]byte{0x00, 0x00, 0xFF, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, -1, p.(radio.PowerData).InstantaneousPower)
}

func TestCSCDecoder(t *testing.T) {
	d := &cscDecoder{}

	p, err := d.decode([]byte{0x02, 0x0A, 0x00, 0x00, 0x04})
	require.NoError(t, err)
	generic := p.(radio.GenericData)
	assert.Equal(t, float64(10), generic.Fields["crank_revolutions"])
	_, hasCadence := generic.Fields["cadence"]
	assert.False(t, hasCadence)

	// Two revolutions in one second = 120 rpm
	p, err = d.decode([]byte{0x02, 0x0C, 0x00, 0x00, 0x08})
	require.NoError(t, err)
	assert.InDelta(t, 120.0, p.(radio.GenericData).Fields["cadence"], 0.001)

	p, err = d.decode([]byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x00, 0x04})
	require.NoError(t, err)
	assert.Equal(t, float64(16), p.(radio.GenericData).Fields["wheel_revolutions"])

	// Flags with no data
	p, err = d.decode([]byte{0x00})
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = d.decode(nil)
	assert.Error(t, err)
}

func TestCrankCadence_Rollover(t *testing.T) {
	c := &crankCadence{}
	_, ok := c.update(0xFFFF, 0xFC00)
	assert.False(t, ok)

	rpm, ok := c.update(0x0000, 0x0000)
	require.True(t, ok)
	assert.InDelta(t, 60.0, rpm, 0.001)

	// No time elapsed
	_, ok = c.update(0x0001, 0x0000)
	assert.False(t, ok)
}

func TestParseIndoorBikeData(t *testing.T) {
	// Speed 25.00 km/h, cadence 90 rpm, power 200 W, heart rate 140
	buf := []byte{0x44, 0x02, 0xC4, 0x09, 0xB4, 0x00, 0xC8, 0x00, 0x8C}
	data, err := ParseIndoorBikeData(buf)
	require.NoError(t, err)
	assert.True(t, data.HasInstantaneousSpeed)
	assert.InDelta(t, 25.0, data.InstantaneousSpeedKmh, 0.001)
	assert.InDelta(t, 90.0, data.InstantaneousCadenceRpm, 0.001)
	assert.Equal(t, int16(200), data.InstantaneousPowerWatts)
	assert.Equal(t, uint8(140), data.HeartRateBpm)

	p := data.Payload()
	assert.Equal(t, 200, p.InstantaneousPower)
	require.NotNil(t, p.Cadence)
	assert.Equal(t, 90, *p.Cadence)
	require.NotNil(t, p.HeartRate)
	assert.Equal(t, 140, *p.HeartRate)
	require.NotNil(t, p.SpeedKmh)
	assert.Nil(t, p.ResistancePercent)
}

func TestParseIndoorBikeData_SkipsUnusedFields(t *testing.T) {
	// More data set (no speed), average cadence, total distance, resistance, power
	buf := []byte{
		0x79, 0x00,
		0x10, 0x00, // average cadence
		0x01, 0x02, 0x03, // total distance
		0x32, 0x00, // resistance level 50
		0xFA, 0x00, // power 250
	}
	data, err := ParseIndoorBikeData(buf)
	require.NoError(t, err)
	assert.False(t, data.HasInstantaneousSpeed)
	assert.Equal(t, uint32(0x030201), data.TotalDistanceMeters)
	assert.Equal(t, int16(50), data.ResistanceLevel)
	assert.Equal(t, int16(250), data.InstantaneousPowerWatts)

	p := data.Payload()
	assert.Nil(t, p.HeartRate)
	assert.Nil(t, p.SpeedKmh)
	require.NotNil(t, p.ResistancePercent)
	assert.Equal(t, 50.0, *p.ResistancePercent)
}

func TestParseIndoorBikeData_Truncated(t *testing.T) {
	_, err := ParseIndoorBikeData([]byte{0x44})
	assert.Error(t, err)
	_, err = ParseIndoorBikeData([]byte{0x44, 0x00, 0xC4, 0x09, 0xB4})
	assert.Error(t, err)
}

func TestNewDecoder(t *testing.T) {
	hr := newDecoder(radio.DeviceTypeHeartRate)
	p, err := hr([]byte{0x00, 65})
	require.NoError(t, err)
	assert.Equal(t, radio.HeartRateData{HeartRate: 65}, p)

	fe := newDecoder(radio.DeviceTypeFitnessEquipment)
	p, err = fe([]byte{0x41, 0x00, 0x64, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 100, p.(radio.TrainerData).InstantaneousPower)

	_, err = fe([]byte{0x41})
	assert.Error(t, err)
}
