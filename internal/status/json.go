package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"session_counts"`
	Sessions      []SessionJSON `json:"sessions"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports the master connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON counts sessions per phase.
type CountsJSON struct {
	Connecting int `json:"connecting"`
	Active     int `json:"active"`
	Terminated int `json:"terminated"`
}

// SessionJSON is the JSON representation of one tenant session.
type SessionJSON struct {
	UID           string         `json:"uid"`
	Name          string         `json:"name"`
	Broker        string         `json:"broker"`
	State         string         `json:"state"`
	Since         string         `json:"since"`
	LastHeartbeat string         `json:"last_heartbeat,omitempty"`
	Inputs        map[string]any `json:"inputs,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker          string `json:"broker"`
	HTTPAddr        string `json:"http_addr"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	TenantList      string `json:"tenant_list"`
	Store           string `json:"store"`
	DuplicatePolicy string `json:"duplicate_add"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	sessions := make([]SessionJSON, 0, len(snap.Sessions))
	for _, s := range snap.Sessions {
		sessions = append(sessions, SessionJSON{
			UID:           s.UID,
			Name:          s.Name,
			Broker:        s.Broker,
			State:         string(s.Phase),
			Since:         formatTime(s.Since),
			LastHeartbeat: formatTime(s.LastHeartbeat),
			Inputs:        s.Inputs,
		})
	}

	return StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		MQTT:          MQTTStatus{Connected: snap.MasterConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Connecting: snap.Count(PhaseConnecting) + snap.Count(PhaseCreated),
			Active:     snap.Count(PhaseActive),
			Terminated: snap.Count(PhaseTerminated),
		},
		Sessions: sessions,
		Config: ConfigJSON{
			Broker:          snap.Config.Broker,
			HTTPAddr:        snap.Config.HTTPAddr,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			TenantList:      snap.Config.TenantList,
			Store:           snap.Config.Store,
			DuplicatePolicy: snap.Config.DuplicatePolicy,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
