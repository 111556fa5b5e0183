package profile

import "time"

// Compile samples the events on grid and returns the six input profiles plus
// the time axis.
//
// Each profile starts at its default. Events overwrite [start, stop) in list
// order, so a later event wins where events overlap; discharge events are
// applied before charge events. Any event endpoint that is not exactly on the
// grid aborts the whole compilation.
func Compile(grid Grid, events EventSet, defaults Defaults) (*Profiles, error) {
	n := len(grid)

	out := &Profiles{
		Time:      Profile[time.Time]{Values: append([]time.Time(nil), grid...), Unit: TimeUnit},
		Power:     Profile[bool]{Values: fill(n, true), Unit: PowerUnit},
		Ambient:   Profile[float64]{Values: fill(n, defaults.AmbientTemp.Value), Unit: defaults.AmbientTemp.Unit},
		CoilPower: Profile[float64]{Values: fill(n, defaults.CoilPower.Value), Unit: defaults.CoilPower.Unit},
		SetTemp:   Profile[float64]{Values: fill(n, defaults.SetTemp.Value), Unit: defaults.SetTemp.Unit},
		Flow:      Profile[float64]{Values: fill(n, 0.0), Unit: defaults.FlowUnit},
		Inlet:     Profile[float64]{Values: fill(n, 0.0), Unit: defaults.InletUnit},
	}
	if n == 0 {
		return out, nil
	}

	for i, ev := range events.PowerOff {
		if err := overlay(grid, out.Power.Values, KindPowerOff, i, ev, false); err != nil {
			return nil, err
		}
	}

	for i, ev := range events.Discharge {
		if err := overlay(grid, out.Flow.Values, KindDischarge, i, ev.Event, ev.FlowRate.Value); err != nil {
			return nil, err
		}
		if err := overlay(grid, out.Inlet.Values, KindDischarge, i, ev.Event, ev.InletTemp.Value); err != nil {
			return nil, err
		}
	}

	for i, ev := range events.Charge {
		if err := overlay(grid, out.Flow.Values, KindCharge, i, ev.Event, chargeRate(ev.FlowRate.Value)); err != nil {
			return nil, err
		}
		if err := overlay(grid, out.Inlet.Values, KindCharge, i, ev.Event, ev.InletTemp.Value); err != nil {
			return nil, err
		}
	}

	// Units follow the first discharge event even for charge-only overlays.
	if len(events.Discharge) > 0 {
		out.Flow.Unit = events.Discharge[0].FlowRate.Unit
		out.Inlet.Unit = events.Discharge[0].InletTemp.Unit
	}

	return out, nil
}

// chargeRate forces a refill rate negative: a charge reduces net outflow.
func chargeRate(v float64) float64 {
	if v > 0 {
		return -v
	}

	return v
}

// Span resolves the grid index range [start, stop) covered by ev.
func Span(grid Grid, kind EventKind, index int, ev Event) (int, int, error) {
	start := grid.IndexOf(ev.Start)
	if start < 0 {
		return 0, 0, &EventOutOfRangeError{Kind: kind, Index: index, Instant: ev.Start, Reason: "start is not on the time grid"}
	}

	stop := grid.IndexOf(ev.Stop)
	if stop < 0 {
		return 0, 0, &EventOutOfRangeError{Kind: kind, Index: index, Instant: ev.Stop, Reason: "stop is not on the time grid"}
	}

	if stop < start {
		return 0, 0, &EventOutOfRangeError{Kind: kind, Index: index, Instant: ev.Stop, Reason: "stop precedes start"}
	}

	return start, stop, nil
}

func overlay[T any](grid Grid, values []T, kind EventKind, index int, ev Event, v T) error {
	start, stop, err := Span(grid, kind, index, ev)
	if err != nil {
		return err
	}

	for i := start; i < stop; i++ {
		values[i] = v
	}

	return nil
}

func fill[T any](n int, v T) []T {
	values := make([]T, n)
	for i := range values {
		values[i] = v
	}

	return values
}
