// Package status provides a thread-safe status tracker for the geyser-sim
// daemon. It is read by the HTTP handlers.
package status

import (
	"sort"
	"sync"
	"time"
)

// Phase is the lifecycle state of a tenant session.
type Phase string

const (
	PhaseCreated    Phase = "CREATED"
	PhaseConnecting Phase = "CONNECTING"
	PhaseActive     Phase = "ACTIVE"
	PhaseTerminated Phase = "TERMINATED"
)

// Config contains daemon configuration for display.
type Config struct {
	Broker          string
	HTTPAddr        string
	HeartbeatMs     int64
	TenantList      string
	Store           string
	DuplicatePolicy string
}

// SessionInfo is the view of one tenant session.
type SessionInfo struct {
	UID           string
	Name          string
	Broker        string
	Phase         Phase
	Since         time.Time // when Phase was entered
	LastHeartbeat time.Time
	Inputs        map[string]any
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StartTime       time.Time
	Now             time.Time
	MasterConnected bool
	Sessions        []SessionInfo // sorted by UID
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Count returns how many sessions are in phase p.
func (s Snapshot) Count(p Phase) int {
	n := 0
	for _, sess := range s.Sessions {
		if sess.Phase == p {
			n++
		}
	}
	return n
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu       sync.RWMutex
	start    time.Time
	cfg      Config
	master   bool
	sessions map[string]SessionInfo
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		start:    startTime,
		cfg:      cfg,
		sessions: make(map[string]SessionInfo),
	}
}

// SetMasterConnected sets the master broker connection status.
func (t *Tracker) SetMasterConnected(connected bool) {
	t.mu.Lock()
	t.master = connected
	t.mu.Unlock()
}

// SetPhase records that the session uid entered phase, creating the entry if
// needed.
func (t *Tracker) SetPhase(uid, name, broker string, phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.sessions[uid]
	s.UID, s.Name, s.Broker = uid, name, broker
	if s.Phase != phase {
		s.Phase = phase
		s.Since = time.Now()
	}
	t.sessions[uid] = s
}

// SetInputs replaces the input snapshot of uid. Unknown sessions are ignored.
func (t *Tracker) SetInputs(uid string, inputs map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[uid]; ok {
		s.Inputs = inputs
		t.sessions[uid] = s
	}
}

// Heartbeat records a liveness publish of uid.
func (t *Tracker) Heartbeat(uid string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[uid]; ok {
		s.LastHeartbeat = at
		t.sessions[uid] = s
	}
}

// Remove forgets uid.
func (t *Tracker) Remove(uid string) {
	t.mu.Lock()
	delete(t.sessions, uid)
	t.mu.Unlock()
}

// Session returns the view of uid.
func (t *Tracker) Session(uid string) (SessionInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[uid]
	s.Inputs = copyInputs(s.Inputs)
	return s, ok
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	snap := Snapshot{
		StartTime:       t.start,
		MasterConnected: t.master,
		Config:          t.cfg,
		Sessions:        make([]SessionInfo, 0, len(t.sessions)),
	}
	for _, s := range t.sessions {
		s.Inputs = copyInputs(s.Inputs)
		snap.Sessions = append(snap.Sessions, s)
	}
	t.mu.RUnlock()

	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].UID < snap.Sessions[j].UID })
	snap.Now = time.Now()

	return snap
}

func copyInputs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
