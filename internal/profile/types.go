// Package profile turns sparse simulation events into dense, regularly sampled
// input signals for the water heater simulator.
// It does no I/O apart from decoding pre-sampled CSV tables, and time is always
// passed in explicitly.
package profile

import "time"

// Quantity is a scalar with its unit, e.g. {"value": 10, "unit": "l/min"}.
type Quantity struct {
	Value float64 `json:"value" yaml:"value"`
	Unit  string  `json:"unit" yaml:"unit"`
}

// Event is a time box [Start, Stop) on the grid.
type Event struct {
	Start    time.Time
	Stop     time.Time
	Duration *Quantity
}

// FlowEvent is a water draw-off or refill.
type FlowEvent struct {
	Event
	InletTemp Quantity
	FlowRate  Quantity
}

// EventSet holds the three event lists of a simulation run.
type EventSet struct {
	Discharge []FlowEvent
	Charge    []FlowEvent
	PowerOff  []Event
}

// EventKind names the list an event came from.
type EventKind string

const (
	KindDischarge EventKind = "discharge"
	KindCharge    EventKind = "charge"
	KindPowerOff  EventKind = "powerOff"
)

// Defaults are the static values a compilation starts from.
type Defaults struct {
	AmbientTemp Quantity
	CoilPower   Quantity
	SetTemp     Quantity

	// Units used for the flow and inlet profiles when no discharge event
	// supplies one.
	FlowUnit  string
	InletUnit string
}

// Profile is a dense signal sampled on a Grid.
type Profile[T any] struct {
	Values []T    `json:"values"`
	Unit   string `json:"unit"`
}

// Profiles is the result of one compilation run.
type Profiles struct {
	Time      Profile[time.Time] `json:"time"`
	Power     Profile[bool]      `json:"powerAvailable"`
	Ambient   Profile[float64]   `json:"ambientTemp"`
	Inlet     Profile[float64]   `json:"inletTemp"`
	Flow      Profile[float64]   `json:"flowRate"`
	CoilPower Profile[float64]   `json:"coilPower"`
	SetTemp   Profile[float64]   `json:"setTemp"`
}

// Len returns the number of samples.
func (p *Profiles) Len() int {
	return len(p.Time.Values)
}

// TimeUnit is the label of the time axis.
const TimeUnit = "YYYY-MM-DDTHH:mm:ss"

// PowerUnit is the fixed label of the power-available profile.
const PowerUnit = "bool"
