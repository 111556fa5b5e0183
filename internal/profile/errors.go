package profile

import (
	"errors"
	"fmt"
	"time"
)

// ErrCompile is matched by every error that aborts a compilation.
var ErrCompile = errors.New("compile profiles")

// InvalidRangeError reports a grid request with dt <= 0 or start > stop.
type InvalidRangeError struct {
	Start time.Time
	Stop  time.Time
	Step  time.Duration
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid time range: start=%s stop=%s dt=%s",
		e.Start.Format(time.RFC3339), e.Stop.Format(time.RFC3339), e.Step)
}

func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrCompile
}

// GridTooLargeError reports a valid range whose step would produce more than
// MaxGridPoints instants.
type GridTooLargeError struct {
	Start  time.Time
	Stop   time.Time
	Step   time.Duration
	Points int64
}

func (e *GridTooLargeError) Error() string {
	return fmt.Sprintf("time grid too large: %d instants from %s to %s at dt=%s (max %d)",
		e.Points, e.Start.Format(time.RFC3339), e.Stop.Format(time.RFC3339), e.Step, MaxGridPoints)
}

func (e *GridTooLargeError) Is(target error) bool {
	return target == ErrCompile
}

// EventOutOfRangeError reports an event whose endpoints do not lie exactly on
// the grid, or whose stop precedes its start.
type EventOutOfRangeError struct {
	Kind    EventKind
	Index   int
	Instant time.Time
	Reason  string
}

func (e *EventOutOfRangeError) Error() string {
	return fmt.Sprintf("%s event %d: %s (%s)", e.Kind, e.Index, e.Reason, e.Instant.Format(time.RFC3339))
}

func (e *EventOutOfRangeError) Is(target error) bool {
	return target == ErrCompile
}
