// Package session runs one worker per registered tenant and the registry
// that adds, removes and mutates them from the master channel.
package session

import (
	"strconv"
	"sync"

	"github.com/sweeney/geyser-sim/internal/mqtt"
)

// Input names one of the mutable appliance inputs of a session.
type Input int

const (
	InputPower Input = iota
	InputSetTemp
	InputFlowRate
	InputInletTemp
	InputAmbientTemp

	numInputs
)

var inputNames = [numInputs]string{
	InputPower:       "Power",
	InputSetTemp:     "SetTemp",
	InputFlowRate:    "FlowRate",
	InputInletTemp:   "InletTemp",
	InputAmbientTemp: "AmbientTemp",
}

func (i Input) String() string {
	if i < 0 || i >= numInputs {
		return "Input(" + strconv.Itoa(int(i)) + ")"
	}
	return inputNames[i]
}

// ParseInput maps a Set target name to its Input. Names match exactly, so
// "power" is not an input.
func ParseInput(name string) (Input, bool) {
	for i, n := range inputNames {
		if n == name {
			return Input(i), true
		}
	}
	return 0, false
}

// State holds the current inputs of one session. Values are stored as sent:
// a Set may carry a number, a bool or a string.
type State struct {
	mu     sync.Mutex
	values [numInputs]any
}

// NewState returns a state with every input unset.
func NewState() *State {
	return &State{}
}

// Set overwrites one input.
func (s *State) Set(in Input, v any) {
	s.mu.Lock()
	s.values[in] = v
	s.mu.Unlock()
}

// Get returns one input.
func (s *State) Get(in Input) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[in]
}

// Apply writes every target whose name is a known input, in order, and
// returns the names it did not recognise.
func (s *State) Apply(targets []mqtt.Target) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ignored []string
	for _, t := range targets {
		in, ok := ParseInput(t.Name)
		if !ok {
			ignored = append(ignored, t.Name)
			continue
		}
		s.values[in] = t.Value
	}

	return ignored
}

// Snapshot copies the inputs into their wire form.
func (s *State) Snapshot() mqtt.Inputs {
	s.mu.Lock()
	defer s.mu.Unlock()

	return mqtt.Inputs{
		Power:       s.values[InputPower],
		SetTemp:     s.values[InputSetTemp],
		FlowRate:    s.values[InputFlowRate],
		InletTemp:   s.values[InputInletTemp],
		AmbientTemp: s.values[InputAmbientTemp],
	}
}
