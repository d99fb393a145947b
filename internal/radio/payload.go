package radio

// Payload is a decoded broadcast. The set of payload kinds is closed:
// HeartRateData, PowerData, TrainerData and GenericData.
type Payload interface {
	isPayload()
}

// HeartRateData is a heart rate monitor page.
type HeartRateData struct {
	HeartRate int
	BeatCount int
}

// PowerData is a bicycle power page.
type PowerData struct {
	InstantaneousPower int
	Cadence            *int
	AccumulatedPower   int
}

// TrainerData is a fitness equipment page. Fields the page did not carry
// are nil.
type TrainerData struct {
	InstantaneousPower int
	Cadence            *int
	HeartRate          *int
	SpeedKmh           *float64
	ResistancePercent  *float64
}

// GenericData is any other page, exposed as named numeric fields.
type GenericData struct {
	Page   int
	Fields map[string]float64
}

func (HeartRateData) isPayload() {}
func (PowerData) isPayload()     {}
func (TrainerData) isPayload()   {}
func (GenericData) isPayload()   {}

// IntPtr is a helper for optional payload fields.
func IntPtr(v int) *int { return &v }

// FloatPtr is a helper for optional payload fields.
func FloatPtr(v float64) *float64 { return &v }
