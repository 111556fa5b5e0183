package profile

import (
	"sort"
	"time"
)

// MaxGridPoints bounds the number of instants Generate will allocate. A year
// at a two second step still fits.
const MaxGridPoints = 16_000_000

// Grid is a strictly increasing sequence of sample instants with a fixed step.
type Grid []time.Time

// Generate returns the instants start, start+dt, ... up to and including the
// last instant <= stop.
func Generate(start, stop time.Time, dt time.Duration) (Grid, error) {
	if dt <= 0 || start.After(stop) {
		return nil, &InvalidRangeError{Start: start, Stop: stop, Step: dt}
	}

	steps := int64(stop.Sub(start) / dt)
	if steps >= MaxGridPoints {
		return nil, &GridTooLargeError{Start: start, Stop: stop, Step: dt, Points: steps + 1}
	}

	grid := make(Grid, steps+1)
	for i := range grid {
		grid[i] = start.Add(time.Duration(i) * dt)
	}

	return grid, nil
}

// IndexOf returns the index of the instant equal to t, or -1.
// Lookup is exact: an instant between two samples is not found.
func (g Grid) IndexOf(t time.Time) int {
	i := sort.Search(len(g), func(i int) bool { return !g[i].Before(t) })
	if i < len(g) && g[i].Equal(t) {
		return i
	}

	return -1
}
