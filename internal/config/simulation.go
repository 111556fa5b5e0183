package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/geyser-sim/internal/profile"
)

// Time is an instant in a simulation document. Both RFC 3339 and the
// offset-less "2006-01-02T15:04:05" form are accepted; the latter is UTC.
type Time struct {
	time.Time
}

var simTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses s using the accepted simulation layouts.
func ParseTime(s string) (Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range simTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Time{t}, nil
		}
	}

	return Time{}, fmt.Errorf("unrecognised time %q", s)
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}

	v, err := ParseTime(s)
	if err != nil {
		return err
	}
	*t = v

	return nil
}

func (t *Time) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseTime(node.Value)
	if err != nil {
		return err
	}
	*t = v

	return nil
}

// Simulation is the simulation configuration document.
type Simulation struct {
	General       General       `json:"general" yaml:"general"`
	Appliance     Appliance     `json:"config" yaml:"config"`
	SimParameters SimParameters `json:"simParameters" yaml:"simParameters"`
	Input         Input         `json:"input" yaml:"input"`
}

// General is descriptive metadata; none of it affects compilation.
type General struct {
	SimName  string `json:"simName,omitempty" yaml:"simName,omitempty"`
	UserName string `json:"userName,omitempty" yaml:"userName,omitempty"`
	Date     *Time  `json:"date,omitempty" yaml:"date,omitempty"`
	SaveData bool   `json:"saveData,omitempty" yaml:"saveData,omitempty"`
	ID       int    `json:"id,omitempty" yaml:"id,omitempty"`
}

// Appliance holds the physical parameters passed through to the simulator.
type Appliance struct {
	Orientation string  `json:"orientation,omitempty" yaml:"orientation,omitempty"`
	TWall       float64 `json:"tWall,omitempty" yaml:"tWall,omitempty"`
	LongLength  float64 `json:"longLength,omitempty" yaml:"longLength,omitempty"`
	Diameter    float64 `json:"diameter,omitempty" yaml:"diameter,omitempty"`
	Capacity    float64 `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	LayerConfig string  `json:"layerConfig,omitempty" yaml:"layerConfig,omitempty"`
	NodeNumber  int     `json:"nodeNumber,omitempty" yaml:"nodeNumber,omitempty"`
}

type SimParameters struct {
	StartTime Time `json:"startTime" yaml:"startTime"`
	StopTime  Time `json:"stopTime" yaml:"stopTime"`
	// DT is the step in seconds.
	DT       float64 `json:"dt" yaml:"dt"`
	TempInit any     `json:"tempInit,omitempty" yaml:"tempInit,omitempty"`
}

// Step returns DT as a duration.
func (p SimParameters) Step() time.Duration {
	return time.Duration(p.DT * float64(time.Second))
}

type Source struct {
	CSV      bool                `json:"csv" yaml:"csv"`
	FilePath string              `json:"filePath,omitempty" yaml:"filePath,omitempty"`
	Units    []profile.NamedUnit `json:"units,omitempty" yaml:"units,omitempty"`
}

type Input struct {
	Source      Source           `json:"source" yaml:"source"`
	TempSet     profile.Quantity `json:"tempSet" yaml:"tempSet"`
	CoilPower   profile.Quantity `json:"coilPower" yaml:"coilPower"`
	AmbientTemp profile.Quantity `json:"ambientTemp" yaml:"ambientTemp"`
	Events      Events           `json:"events" yaml:"events"`
}

type Event struct {
	Start    Time              `json:"start" yaml:"start"`
	Stop     Time              `json:"stop" yaml:"stop"`
	Duration *profile.Quantity `json:"duration,omitempty" yaml:"duration,omitempty"`
}

type FlowEvent struct {
	Event     `yaml:",inline"`
	InletTemp profile.Quantity `json:"inletTemp" yaml:"inletTemp"`
	FlowRate  profile.Quantity `json:"flowRate" yaml:"flowRate"`
}

type Events struct {
	Discharge []FlowEvent `json:"discharge" yaml:"discharge"`
	Charge    []FlowEvent `json:"charge" yaml:"charge"`
	PowerOff  []Event     `json:"powerOff" yaml:"powerOff"`
}

func (e Event) profileEvent() profile.Event {
	return profile.Event{Start: e.Start.Time, Stop: e.Stop.Time, Duration: e.Duration}
}

func flowEvents(in []FlowEvent) []profile.FlowEvent {
	out := make([]profile.FlowEvent, len(in))
	for i, ev := range in {
		out[i] = profile.FlowEvent{Event: ev.profileEvent(), InletTemp: ev.InletTemp, FlowRate: ev.FlowRate}
	}
	return out
}

// EventSet converts the document events for the compiler.
func (s *Simulation) EventSet() profile.EventSet {
	off := make([]profile.Event, len(s.Input.Events.PowerOff))
	for i, ev := range s.Input.Events.PowerOff {
		off[i] = ev.profileEvent()
	}

	return profile.EventSet{
		Discharge: flowEvents(s.Input.Events.Discharge),
		Charge:    flowEvents(s.Input.Events.Charge),
		PowerOff:  off,
	}
}

// Defaults returns the static compiler inputs. Flow and inlet units fall back
// to the source units table.
func (s *Simulation) Defaults() profile.Defaults {
	return profile.Defaults{
		AmbientTemp: s.Input.AmbientTemp,
		CoilPower:   s.Input.CoilPower,
		SetTemp:     s.Input.TempSet,
		FlowUnit:    profile.LookupUnit(s.Input.Source.Units, profile.ColumnFlowRate),
		InletUnit:   profile.LookupUnit(s.Input.Source.Units, profile.ColumnInletTemp),
	}
}

// Grid builds the time grid from the simulation parameters.
func (s *Simulation) Grid() (profile.Grid, error) {
	return profile.Generate(s.SimParameters.StartTime.Time, s.SimParameters.StopTime.Time, s.SimParameters.Step())
}

// Profiles produces the input profiles of the run: read from the CSV file
// when the source says so, compiled from the events otherwise.
func (s *Simulation) Profiles() (*profile.Profiles, error) {
	if s.Input.Source.CSV {
		f, err := os.Open(filepath.Clean(s.Input.Source.FilePath))
		if err != nil {
			return nil, fmt.Errorf("open profile csv: %w", err)
		}
		defer f.Close()

		return profile.ReadCSV(f, s.Input.Source.Units)
	}

	grid, err := s.Grid()
	if err != nil {
		return nil, err
	}

	return profile.Compile(grid, s.EventSet(), s.Defaults())
}

// LoadSimulation reads a simulation document. Files ending in .yaml or .yml
// are YAML; anything else is JSON. A relative CSV path is resolved against
// the document's directory.
func LoadSimulation(path string) (*Simulation, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read simulation: %v", ErrConfig, err)
	}

	var sim Simulation
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &sim)
	default:
		err = json.Unmarshal(raw, &sim)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode simulation %s: %v", ErrConfig, path, err)
	}

	if sim.Input.Source.CSV && sim.Input.Source.FilePath != "" && !filepath.IsAbs(sim.Input.Source.FilePath) {
		sim.Input.Source.FilePath = filepath.Join(filepath.Dir(path), sim.Input.Source.FilePath)
	}

	if err := sim.Validate(); err != nil {
		return nil, err
	}

	return &sim, nil
}

// Validate checks the fields compilation depends on.
func (s *Simulation) Validate() error {
	if s.Input.Source.CSV {
		if s.Input.Source.FilePath == "" {
			return fmt.Errorf("%w: input.source.filePath is required when csv is set", ErrConfig)
		}
		return nil
	}

	if s.SimParameters.DT <= 0 {
		return fmt.Errorf("%w: simParameters.dt must be positive, got %v", ErrConfig, s.SimParameters.DT)
	}
	if s.SimParameters.StartTime.After(s.SimParameters.StopTime.Time) {
		return fmt.Errorf("%w: simParameters.startTime is after stopTime", ErrConfig)
	}

	return nil
}
