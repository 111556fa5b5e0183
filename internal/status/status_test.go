package status

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Broker: "tcp://master:1883", HTTPAddr: ":8080", HeartbeatMs: 10000}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.HeartbeatMs != 10000 {
		t.Errorf("Config.HeartbeatMs: got %d, want 10000", snap.Config.HeartbeatMs)
	}
	if snap.MasterConnected {
		t.Error("expected MasterConnected=false initially")
	}
	if len(snap.Sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(snap.Sessions))
	}
}

func TestSessionLifecycle(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetPhase("u1", "Alice", "ssl://a:8883", PhaseCreated)
	tr.SetPhase("u1", "Alice", "ssl://a:8883", PhaseConnecting)

	s, ok := tr.Session("u1")
	if !ok {
		t.Fatal("session u1 not tracked")
	}
	if s.Phase != PhaseConnecting {
		t.Errorf("Phase: got %s, want CONNECTING", s.Phase)
	}
	connectingSince := s.Since

	tr.SetPhase("u1", "Alice", "ssl://a:8883", PhaseConnecting)
	if s, _ := tr.Session("u1"); !s.Since.Equal(connectingSince) {
		t.Error("re-entering the same phase should not reset Since")
	}

	tr.SetPhase("u1", "Alice", "ssl://a:8883", PhaseActive)
	beat := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	tr.Heartbeat("u1", beat)
	tr.SetInputs("u1", map[string]any{"Power": true})

	s, _ = tr.Session("u1")
	if s.Phase != PhaseActive {
		t.Errorf("Phase: got %s, want ACTIVE", s.Phase)
	}
	if !s.LastHeartbeat.Equal(beat) {
		t.Errorf("LastHeartbeat: got %v, want %v", s.LastHeartbeat, beat)
	}
	if s.Inputs["Power"] != true {
		t.Errorf("Inputs: got %v", s.Inputs)
	}

	tr.Remove("u1")
	if _, ok := tr.Session("u1"); ok {
		t.Error("expected u1 removed")
	}
}

func TestUnknownSessionUpdatesIgnored(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Heartbeat("ghost", time.Now())
	tr.SetInputs("ghost", map[string]any{"Power": false})

	if _, ok := tr.Session("ghost"); ok {
		t.Error("heartbeat or inputs should not create a session")
	}
}

func TestSetMasterConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMasterConnected(true)
	if !tr.Snapshot().MasterConnected {
		t.Error("expected MasterConnected=true")
	}

	tr.SetMasterConnected(false)
	if tr.Snapshot().MasterConnected {
		t.Error("expected MasterConnected=false")
	}
}

func TestSnapshotSortedAndCounted(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetPhase("c", "", "", PhaseActive)
	tr.SetPhase("a", "", "", PhaseConnecting)
	tr.SetPhase("b", "", "", PhaseActive)
	tr.SetPhase("d", "", "", PhaseTerminated)

	snap := tr.Snapshot()
	var order []string
	for _, s := range snap.Sessions {
		order = append(order, s.UID)
	}
	if fmt.Sprint(order) != "[a b c d]" {
		t.Errorf("order: got %v", order)
	}
	if snap.Count(PhaseActive) != 2 {
		t.Errorf("active: got %d, want 2", snap.Count(PhaseActive))
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetPhase("u1", "", "", PhaseActive)
	tr.SetInputs("u1", map[string]any{"SetTemp": 60.0})

	snap1 := tr.Snapshot()
	snap1.Sessions[0].Inputs["SetTemp"] = 99.0

	tr.SetPhase("u1", "", "", PhaseTerminated)

	if snap1.Sessions[0].Phase != PhaseActive {
		t.Error("snapshot should be a copy; Phase was modified")
	}
	if s, _ := tr.Session("u1"); s.Inputs["SetTemp"] != 60.0 {
		t.Error("mutating a snapshot changed the tracker's inputs")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime:       start,
		Now:             start.Add(15 * time.Minute),
		MasterConnected: true,
		Sessions: []SessionInfo{
			{UID: "u1", Name: "Alice", Broker: "ssl://a:8883", Phase: PhaseActive, Since: start,
				LastHeartbeat: start.Add(time.Minute), Inputs: map[string]any{"Power": true}},
			{UID: "u2", Name: "Bob", Phase: PhaseConnecting, Since: start},
		},
		Config: Config{Broker: "tcp://master:1883", HeartbeatMs: 10000, Store: "discard", DuplicatePolicy: "replace"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected || parsed.Status.MQTT.Broker != "tcp://master:1883" {
		t.Errorf("MQTT: got %+v", parsed.Status.MQTT)
	}
	if parsed.Status.Counts.Active != 1 || parsed.Status.Counts.Connecting != 1 {
		t.Errorf("Counts: got %+v", parsed.Status.Counts)
	}
	if len(parsed.Status.Sessions) != 2 {
		t.Fatalf("Sessions: got %d, want 2", len(parsed.Status.Sessions))
	}
	if parsed.Status.Sessions[0].State != "ACTIVE" {
		t.Errorf("State: got %q, want ACTIVE", parsed.Status.Sessions[0].State)
	}
	if parsed.Status.Sessions[0].LastHeartbeat != "2026-01-01T00:01:00Z" {
		t.Errorf("LastHeartbeat: got %q", parsed.Status.Sessions[0].LastHeartbeat)
	}
	if parsed.Status.Sessions[1].LastHeartbeat != "" {
		t.Errorf("expected empty LastHeartbeat, got %q", parsed.Status.Sessions[1].LastHeartbeat)
	}
	if parsed.Status.Config.DuplicatePolicy != "replace" {
		t.Errorf("Config.DuplicatePolicy: got %q", parsed.Status.Config.DuplicatePolicy)
	}
}

func TestFormatJSONNoSessions(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var raw map[string]any
	if err := json.Unmarshal(FormatJSON(snap), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]any)
	sessions, ok := status["sessions"].([]any)
	if !ok || len(sessions) != 0 {
		t.Errorf("sessions should be an empty array, got %v", status["sessions"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			uid := fmt.Sprintf("u%d", i%10)
			tr.SetPhase(uid, "", "", PhaseActive)
			tr.Heartbeat(uid, time.Now())
			tr.SetInputs(uid, map[string]any{"i": i})
			tr.SetMasterConnected(i%2 == 0)
			if i%7 == 0 {
				tr.Remove(uid)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
