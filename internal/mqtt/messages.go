package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the "Type" discriminator every message carries.
type Kind string

const (
	KindAdd    Kind = "Add"
	KindUser   Kind = "User"
	KindRemove Kind = "Remove"
	KindSet    Kind = "Set"
	KindGet    Kind = "Get"
	KindInfo   Kind = "Info"
	KindEvent  Kind = "Event"
	KindData   Kind = "Data"
	KindDelete Kind = "Delete"
)

var knownKinds = []Kind{KindAdd, KindUser, KindRemove, KindSet, KindGet, KindInfo, KindEvent, KindData, KindDelete}

// Is compares kinds ignoring case, so "INFO" is KindInfo.
func (k Kind) Is(other Kind) bool {
	return strings.EqualFold(strings.TrimSpace(string(k)), string(other))
}

// Canonical returns the known kind k spells, or "" if there is none.
func (k Kind) Canonical() Kind {
	for _, known := range knownKinds {
		if k.Is(known) {
			return known
		}
	}
	return ""
}

// Session lifecycle states carried by Event messages.
const (
	StateActive     = "ACTIVE"
	StateTerminated = "TERMINATED"
)

// ErrDecode wraps every inbound payload that cannot be decoded.
var ErrDecode = errors.New("mqtt: decode message")

// Time is a timestamp that also accepts the offset-less form some publishers
// send. Offset-less times are read as UTC.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02 15:04:05",
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v
			return nil
		}
	}

	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

// Header is common to all messages.
type Header struct {
	Type      Kind   `json:"Type,omitempty"`
	UID       string `json:"Uid"`
	Timestamp Time   `json:"Timestamp"`
}

// NewHeader stamps a header for kind.
func NewHeader(kind Kind, uid string, now time.Time) Header {
	return Header{Type: kind, UID: uid, Timestamp: Time{now}}
}

// Target is one name/value pair of a Set command.
type Target struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Inputs is the snapshot of a session's five mutable inputs.
type Inputs struct {
	Power       any `json:"Power"`
	SetTemp     any `json:"SetTemp"`
	FlowRate    any `json:"FlowRate"`
	InletTemp   any `json:"InletTemp"`
	AmbientTemp any `json:"AmbientTemp"`
}

// Map returns the inputs keyed by name.
func (in Inputs) Map() map[string]any {
	return map[string]any{
		"Power":       in.Power,
		"SetTemp":     in.SetTemp,
		"FlowRate":    in.FlowRate,
		"InletTemp":   in.InletTemp,
		"AmbientTemp": in.AmbientTemp,
	}
}

// UserMessage registers a tenant (Add or User kind) and is the record format of
// the persisted tenant list.
type UserMessage struct {
	Header
	Name        string      `json:"Name"`
	IsAdmin     bool        `json:"IsAdmin"`
	Credentials Credentials `json:"Credentials"`
}

// RemoveMessage deregisters a tenant.
type RemoveMessage struct {
	Header
}

// SetMessage mutates session inputs. An empty UID addresses every session.
type SetMessage struct {
	Header
	Targets []Target `json:"Targets"`
}

// GetMessage asks for an input snapshot. An empty UID addresses every session.
type GetMessage struct {
	Header
}

type InfoMessage struct {
	Header
	Description string  `json:"Description,omitempty"`
	Inputs      *Inputs `json:"inputs,omitempty"`
}

// NewInfo builds an Info message.
func NewInfo(uid, description string, inputs *Inputs, now time.Time) InfoMessage {
	return InfoMessage{Header: NewHeader(KindInfo, uid, now), Description: description, Inputs: inputs}
}

type EventMessage struct {
	Header
	State string `json:"State"`
}

// NewEvent builds an Event message.
func NewEvent(uid, state string, now time.Time) EventMessage {
	return EventMessage{Header: NewHeader(KindEvent, uid, now), State: state}
}

// DataMessage is one telemetry sample from the appliance simulator.
type DataMessage struct {
	Header
	ThermostatTemp float64   `json:"ThermostatTemp"`
	InternalEnergy float64   `json:"InternalEnergy"`
	CoilPower      float64   `json:"CoilPower"`
	CoilState      bool      `json:"CoilState"`
	AmbientTemp    float64   `json:"AmbientTemp"`
	SOC            float64   `json:"SOC"`
	TProfile       []float64 `json:"T_Profile,omitempty"`
}

// DeleteMessage removes stored telemetry in [StartTime, StopTime] matching
// Predicate.
type DeleteMessage struct {
	Header
	StartTime Time   `json:"StartTime"`
	StopTime  Time   `json:"stopTime"`
	Predicate string `json:"Predicate,omitempty"`
}

// PeekKind reads only the header of payload.
func PeekKind(payload []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(payload, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return h, nil
}

// Decode unmarshals payload into a T. Unknown fields are ignored.
func Decode[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return v, nil
}

// Encode marshals a message for publishing.
func Encode(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	return b, nil
}
