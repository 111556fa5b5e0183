package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/geyser-sim/internal/profile"
)

const simJSON = `{
  "general": {"simName": "test run", "userName": "ops", "saveData": true, "id": 7},
  "config": {"orientation": "horizontal", "tWall": 0.002, "longLength": 1.2, "diameter": 0.5,
             "capacity": 150, "layerConfig": "uniform", "nodeNumber": 10},
  "simParameters": {"startTime": "2024-01-01T00:00:00", "stopTime": "2024-01-01T01:00:00", "dt": 900, "tempInit": 55},
  "input": {
    "source": {"csv": false, "units": [{"name": "flowRate", "value": "l/min"}, {"name": "inletTemp", "value": "degC"}]},
    "tempSet": {"value": 60, "unit": "degC"},
    "coilPower": {"value": 3000, "unit": "W"},
    "ambientTemp": {"value": 20, "unit": "degC"},
    "events": {
      "discharge": [{"start": "2024-01-01T00:15:00", "stop": "2024-01-01T00:45:00",
                     "flowRate": {"value": 10, "unit": "l/min"}, "inletTemp": {"value": 15, "unit": "degC"}}],
      "charge": [],
      "powerOff": [{"start": "2024-01-01T00:45:00Z", "stop": "2024-01-01T01:00:00Z",
                    "duration": {"value": 15, "unit": "min"}}]
    }
  }
}`

const simYAML = `
simParameters:
  startTime: 2024-01-01T00:00:00
  stopTime: 2024-01-01T00:30:00
  dt: 600
input:
  tempSet: {value: 65, unit: degC}
  coilPower: {value: 2000, unit: W}
  ambientTemp: {value: 18, unit: degC}
  events:
    charge:
      - start: 2024-01-01T00:10:00
        stop: 2024-01-01T00:20:00
        flowRate: {value: 4, unit: l/min}
        inletTemp: {value: 12, unit: degC}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSimulationJSON(t *testing.T) {
	t.Parallel()

	sim, err := LoadSimulation(writeFile(t, t.TempDir(), "sim.json", simJSON))
	require.NoError(t, err)

	assert.Equal(t, "test run", sim.General.SimName)
	assert.Equal(t, 10, sim.Appliance.NodeNumber)
	assert.Equal(t, 15*time.Minute, sim.SimParameters.Step())
	assert.True(t, sim.SimParameters.StartTime.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	events := sim.EventSet()
	require.Len(t, events.Discharge, 1)
	require.Len(t, events.PowerOff, 1)
	assert.Empty(t, events.Charge)
	assert.Equal(t, 10.0, events.Discharge[0].FlowRate.Value)
	assert.Equal(t, &profile.Quantity{Value: 15, Unit: "min"}, events.PowerOff[0].Duration)

	defaults := sim.Defaults()
	assert.Equal(t, profile.Quantity{Value: 3000, Unit: "W"}, defaults.CoilPower)
	assert.Equal(t, "l/min", defaults.FlowUnit)
	assert.Equal(t, "degC", defaults.InletUnit)

	grid, err := sim.Grid()
	require.NoError(t, err)

	p, err := profile.Compile(grid, events, defaults)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 10, 0, 0}, p.Flow.Values)
	assert.Equal(t, []bool{true, true, true, false, true}, p.Power.Values)
}

func TestLoadSimulationYAML(t *testing.T) {
	t.Parallel()

	sim, err := LoadSimulation(writeFile(t, t.TempDir(), "sim.yml", simYAML))
	require.NoError(t, err)

	grid, err := sim.Grid()
	require.NoError(t, err)
	require.Len(t, grid, 4)

	p, err := profile.Compile(grid, sim.EventSet(), sim.Defaults())
	require.NoError(t, err)
	assert.Equal(t, []float64{0, -4, 0, 0}, p.Flow.Values)
	assert.Equal(t, []float64{65, 65, 65, 65}, p.SetTemp.Values)
}

func TestLoadSimulationCSVSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "sim.json", `{"input": {"source": {"csv": true, "filePath": "profile.csv"}}}`)

	sim, err := LoadSimulation(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "profile.csv"), sim.Input.Source.FilePath)
}

func TestLoadSimulationInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"simParameters": `},
		{"zero dt", `{"simParameters": {"startTime": "2024-01-01T00:00:00", "stopTime": "2024-01-01T01:00:00", "dt": 0}}`},
		{"start after stop", `{"simParameters": {"startTime": "2024-01-02T00:00:00", "stopTime": "2024-01-01T00:00:00", "dt": 60}}`},
		{"csv without path", `{"input": {"source": {"csv": true}}}`},
		{"bad time", `{"simParameters": {"startTime": "soon", "stopTime": "2024-01-01T00:00:00", "dt": 60}}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadSimulation(writeFile(t, t.TempDir(), "sim.json", tt.body))
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"2024-01-01T00:15:00", "2024-01-01T00:15:00Z", "2024-01-01 00:15:00", "2024-01-01T02:15:00+02:00"} {
		v, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.True(t, v.Equal(time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC)), s)
	}

	_, err := ParseTime("15 minutes past midnight")
	assert.Error(t, err)
}

func TestSimulationProfiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	compiled, err := LoadSimulation(writeFile(t, dir, "sim.json", simJSON))
	require.NoError(t, err)
	p, err := compiled.Profiles()
	require.NoError(t, err)
	assert.Equal(t, 5, p.Len())
	assert.Equal(t, "l/min", p.Flow.Unit)

	writeFile(t, dir, "profile.csv", "time,coilPower,ambientTemp,tempSet,flowRate,inletTemp,powerAvailable\n"+
		"01/01/2024 00:00:00,3000,20,60,0,15,true\n"+
		"01/01/2024 00:15:00,3000,20,60,8,15,false\n")
	fromCSV, err := LoadSimulation(writeFile(t, dir, "csv.json",
		`{"input": {"source": {"csv": true, "filePath": "profile.csv", "units": [{"name": "coilPower", "value": "W"}]}}}`))
	require.NoError(t, err)
	p, err = fromCSV.Profiles()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 8}, p.Flow.Values)
	assert.Equal(t, []bool{true, false}, p.Power.Values)
	assert.Equal(t, "W", p.CoilPower.Unit)

	missing, err := LoadSimulation(writeFile(t, dir, "missing.json", `{"input": {"source": {"csv": true, "filePath": "nope.csv"}}}`))
	require.NoError(t, err)
	_, err = missing.Profiles()
	assert.Error(t, err)
}
