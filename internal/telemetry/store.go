// Package telemetry stores Data messages published by the appliance
// simulators in a time-series database.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sweeney/geyser-sim/internal/mqtt"
)

// Store persists telemetry samples.
type Store interface {
	Name() string
	WriteData(ctx context.Context, msg mqtt.DataMessage) error
	// Query returns the samples of uid in [from, to], oldest first.
	Query(ctx context.Context, uid string, from, to time.Time) ([]mqtt.DataMessage, error)
	// Delete removes samples in [from, to] matching predicate and returns how
	// many were removed.
	Delete(ctx context.Context, from, to time.Time, predicate string) (int64, error)
}

// Discard drops every write. It stands in when no database is configured.
type Discard struct{}

func (Discard) Name() string { return "discard" }

func (Discard) WriteData(context.Context, mqtt.DataMessage) error { return nil }

func (Discard) Query(context.Context, string, time.Time, time.Time) ([]mqtt.DataMessage, error) {
	return nil, nil
}

func (Discard) Delete(context.Context, time.Time, time.Time, string) (int64, error) { return 0, nil }

// ErrPredicate is returned for a delete predicate that cannot be parsed.
var ErrPredicate = errors.New("invalid delete predicate")

// Filter is a parsed delete predicate. Empty fields match everything.
type Filter struct {
	UID  string
	Type string
}

var (
	andSplit = regexp.MustCompile(`(?i)\s+and\s+`)
	termRe   = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(?:"([^"]*)"|(\S+))\s*$`)
)

// ParsePredicate reads terms of the form key="value" joined by AND. The keys
// _measurement and uid select the tenant; type selects the message kind.
func ParsePredicate(s string) (Filter, error) {
	var f Filter
	if strings.TrimSpace(s) == "" {
		return f, nil
	}

	for _, term := range andSplit.Split(strings.TrimSpace(s), -1) {
		m := termRe.FindStringSubmatch(term)
		if m == nil {
			return Filter{}, fmt.Errorf("%w: %q", ErrPredicate, term)
		}

		value := m[2]
		if value == "" {
			value = m[3]
		}

		switch strings.ToLower(m[1]) {
		case "_measurement", "uid":
			f.UID = value
		case "type", "_type":
			f.Type = value
		default:
			return Filter{}, fmt.Errorf("%w: unsupported key %q", ErrPredicate, m[1])
		}
	}

	return f, nil
}
