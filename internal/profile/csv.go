package profile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// NamedUnit maps a profile field name to its unit label.
type NamedUnit struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// LookupUnit returns the first unit whose name contains field, ignoring case.
func LookupUnit(units []NamedUnit, field string) string {
	field = strings.ToLower(field)
	for _, u := range units {
		if strings.Contains(strings.ToLower(u.Name), field) {
			return u.Value
		}
	}

	return ""
}

// CSV column names of a pre-sampled profile table.
const (
	ColumnTime           = "time"
	ColumnCoilPower      = "coilPower"
	ColumnAmbientTemp    = "ambientTemp"
	ColumnTempSet        = "tempSet"
	ColumnFlowRate       = "flowRate"
	ColumnInletTemp      = "inletTemp"
	ColumnPowerAvailable = "powerAvailable"
)

var csvColumns = []string{
	ColumnTime, ColumnCoilPower, ColumnAmbientTemp, ColumnTempSet,
	ColumnFlowRate, ColumnInletTemp, ColumnPowerAvailable,
}

// csvTimeLayouts are tried in order for the time column.
var csvTimeLayouts = []string{
	"02/01/2006  15:04:05",
	"02/01/2006 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ErrCSV wraps every CSV decode failure.
var ErrCSV = errors.New("read csv profile")

// ReadCSV decodes a pre-sampled profile table. It bypasses Compile entirely:
// every row becomes one sample. Units come from the units table.
func ReadCSV(r io.Reader, units []NamedUnit) (*Profiles, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCSV, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range csvColumns {
		if _, ok := cols[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrCSV, name)
		}
	}

	out := &Profiles{
		Time:      Profile[time.Time]{Unit: TimeUnit},
		Power:     Profile[bool]{Unit: LookupUnit(units, ColumnPowerAvailable)},
		Ambient:   Profile[float64]{Unit: LookupUnit(units, ColumnAmbientTemp)},
		Inlet:     Profile[float64]{Unit: LookupUnit(units, ColumnInletTemp)},
		Flow:      Profile[float64]{Unit: LookupUnit(units, ColumnFlowRate)},
		CoilPower: Profile[float64]{Unit: LookupUnit(units, ColumnCoilPower)},
		SetTemp:   Profile[float64]{Unit: LookupUnit(units, ColumnTempSet)},
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCSV, line, err)
		}

		field := func(name string) string {
			return strings.TrimSpace(record[cols[strings.ToLower(name)]])
		}

		ts, err := parseCSVTime(field(ColumnTime))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCSV, line, err)
		}

		var nums [5]float64
		for i, name := range []string{ColumnCoilPower, ColumnAmbientTemp, ColumnTempSet, ColumnFlowRate, ColumnInletTemp} {
			nums[i], err = strconv.ParseFloat(field(name), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: column %s: %v", ErrCSV, line, name, err)
			}
		}

		power, err := strconv.ParseBool(field(ColumnPowerAvailable))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: column %s: %v", ErrCSV, line, ColumnPowerAvailable, err)
		}

		out.Time.Values = append(out.Time.Values, ts)
		out.CoilPower.Values = append(out.CoilPower.Values, nums[0])
		out.Ambient.Values = append(out.Ambient.Values, nums[1])
		out.SetTemp.Values = append(out.SetTemp.Values, nums[2])
		out.Flow.Values = append(out.Flow.Values, nums[3])
		out.Inlet.Values = append(out.Inlet.Values, nums[4])
		out.Power.Values = append(out.Power.Values, power)
	}

	return out, nil
}

func parseCSVTime(s string) (time.Time, error) {
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
