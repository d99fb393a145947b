package sensor

import (
	"encoding/json"
	"maps"
	"math"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

// ReadingKind tags the Reading variant.
type ReadingKind int

const (
	KindHeartRate ReadingKind = iota
	KindPower
	KindGeneric
)

func (k ReadingKind) String() string {
	switch k {
	case KindHeartRate:
		return "heart_rate"
	case KindPower:
		return "power"
	default:
		return "generic"
	}
}

// Reading is the normalized last measurement of a sensor. Only the fields
// of its Kind are meaningful.
type Reading struct {
	Kind       ReadingKind
	BPM        int
	Watts      int
	CadenceRPM *int
	Fields     map[string]float64
	ReceivedAt time.Time
}

func HeartRateReading(bpm int) Reading {
	return Reading{Kind: KindHeartRate, BPM: bpm}
}

// PowerReading builds a power reading; cadence is nil when the page had none.
func PowerReading(watts int, cadence *int) Reading {
	r := Reading{Kind: KindPower, Watts: watts}
	if cadence != nil {
		c := *cadence
		r.CadenceRPM = &c
	}
	return r
}

func GenericReading(fields map[string]float64) Reading {
	return Reading{Kind: KindGeneric, Fields: maps.Clone(fields)}
}

// Field names a generic page uses for the measurements Normalize classifies.
const (
	FieldHeartRate          = "heart_rate"
	FieldInstantaneousPower = "instantaneous_power"
	FieldCadence            = "cadence"
)

// Normalize converts a decoded payload into a Reading. A heart rate wins
// over power, so a trainer page carrying a strap's heart rate reads as heart
// rate. Generic pages are classified by the field names they carry.
func Normalize(p radio.Payload) (Reading, bool) {
	switch v := p.(type) {
	case radio.HeartRateData:
		return HeartRateReading(v.HeartRate), true
	case radio.PowerData:
		return PowerReading(v.InstantaneousPower, v.Cadence), true
	case radio.TrainerData:
		if v.HeartRate != nil {
			return HeartRateReading(*v.HeartRate), true
		}
		return PowerReading(v.InstantaneousPower, v.Cadence), true
	case radio.GenericData:
		return normalizeFields(v.Fields), true
	default:
		return Reading{}, false
	}
}

func normalizeFields(fields map[string]float64) Reading {
	if bpm, ok := fields[FieldHeartRate]; ok {
		return HeartRateReading(int(math.Round(bpm)))
	}
	if watts, ok := fields[FieldInstantaneousPower]; ok {
		var cadence *int
		if rpm, ok := fields[FieldCadence]; ok {
			cadence = radio.IntPtr(int(math.Round(rpm)))
		}
		return PowerReading(int(math.Round(watts)), cadence)
	}
	return GenericReading(fields)
}

// Equal compares the measurement, ignoring ReceivedAt.
func (r Reading) Equal(other Reading) bool {
	if r.Kind != other.Kind {
		return false
	}
	switch r.Kind {
	case KindHeartRate:
		return r.BPM == other.BPM
	case KindPower:
		if (r.CadenceRPM == nil) != (other.CadenceRPM == nil) {
			return false
		}
		return r.Watts == other.Watts && (r.CadenceRPM == nil || *r.CadenceRPM == *other.CadenceRPM)
	default:
		return maps.Equal(r.Fields, other.Fields)
	}
}

// MarshalJSON writes {"heart_rate": n}, {"power": n, "cadence": n|null} or
// the generic field map.
func (r Reading) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindHeartRate:
		return json.Marshal(struct {
			HeartRate int `json:"heart_rate"`
		}{r.BPM})
	case KindPower:
		return json.Marshal(struct {
			Power   int  `json:"power"`
			Cadence *int `json:"cadence"`
		}{r.Watts, r.CadenceRPM})
	default:
		if r.Fields == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(r.Fields)
	}
}

// ReadingUpdate is a decoded reading offered to feed subscribers.
type ReadingUpdate struct {
	Key     string  `json:"key"`
	Label   string  `json:"label"`
	Reading Reading `json:"reading"`
}

// AllReadings is the aggregate of every session's last reading. Errors is
// nil when every session produced a reading.
type AllReadings struct {
	Data   map[string]Reading `json:"data"`
	Errors map[string]string  `json:"errors"`
}
