package scale

import (
	"encoding/json"
	"strconv"
	"time"
)

// TimeStampFormat denotes the (second resolution) format of persisted timestamps
const TimeStampFormat = "2006-01-02 15:04:05"

// State denotes a state of the scanner
type State int

const (

	// StateIdle is active before the scanner has been started
	StateIdle State = iota

	// StateScanning is active while scanning for the bluetooth device
	StateScanning

	// StateConnected is active while a session with the scale is being handled
	StateConnected

	// StateCoolingOff is active during the idle period following a session
	StateCoolingOff

	// StateStopped is active once the scanner has terminated
	StateStopped
)

// String returns a human readable representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnected:
		return "connected"
	case StateCoolingOff:
		return "cooling-off"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status denotes the current status of the scanner
type Status struct {
	State  State     `json:"state"`
	Since  time.Time `json:"since"`
	Device string    `json:"device,omitempty"`

	Sessions        int          `json:"sessions"`
	Measurements    int          `json:"measurements"`
	LastMeasurement *Measurement `json:"last_measurement,omitempty"`
	LastError       error        `json:"-"`
}

// MarshalJSON implements json.Marshaler, rendering the state and error as strings
func (s Status) MarshalJSON() ([]byte, error) {
	type status Status
	var lastErr string
	if s.LastError != nil {
		lastErr = s.LastError.Error()
	}

	return json.Marshal(struct {
		status
		LastError string `json:"last_error,omitempty"`
	}{
		status:    status(s),
		LastError: lastErr,
	})
}

// Measurement denotes a stable weight measurement at a certain point in time
type Measurement struct {
	TimeStamp time.Time `json:"timestamp"`
	Weight    float64   `json:"weight_kg"`
}

// FormatTimeStamp returns the timestamp of the measurement in its persisted form
func (m Measurement) FormatTimeStamp() string {
	return m.TimeStamp.Format(TimeStampFormat)
}

// FormatWeight returns the weight of the measurement in kg, rounded to one decimal
func (m Measurement) FormatWeight() string {
	return strconv.FormatFloat(m.Weight, 'f', 1, 64)
}

// Value provides a method to retrieve the current value (for interface use)
func (m Measurement) Value() float64 {
	return m.Weight
}

// Measurements denotes a set of measurements
type Measurements []Measurement
