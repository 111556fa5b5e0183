package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/geyser-sim/internal/metrics"
	"github.com/sweeney/geyser-sim/internal/mqtt"
	"github.com/sweeney/geyser-sim/internal/status"
	"github.com/sweeney/geyser-sim/internal/tenant"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var masterCreds = mqtt.Credentials{URL: "master.example", Port: 1883}

func creds(host string) mqtt.Credentials {
	return mqtt.Credentials{URL: host, Port: 1883, Username: "u", Password: "p"}
}

func user(uid, name string) mqtt.UserMessage {
	return mqtt.UserMessage{
		Header:      mqtt.NewHeader(mqtt.KindAdd, uid, testNow),
		Name:        name,
		Credentials: creds(name + ".example"),
	}
}

// memStore is an in-memory telemetry.Store.
type memStore struct {
	mu        sync.Mutex
	samples   []mqtt.DataMessage
	writeErr  error
	deleted   int64
	deleteErr error
	lastPred  string
	lastFrom  time.Time
	lastTo    time.Time
}

func (s *memStore) Name() string { return "memory" }

func (s *memStore) WriteData(_ context.Context, msg mqtt.DataMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.samples = append(s.samples, msg)
	return nil
}

func (s *memStore) Query(_ context.Context, uid string, from, to time.Time) ([]mqtt.DataMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mqtt.DataMessage
	for _, m := range s.samples {
		if m.UID == uid && !m.Timestamp.Before(from) && !m.Timestamp.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, from, to time.Time, predicate string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFrom, s.lastTo, s.lastPred = from, to, predicate
	return s.deleted, s.deleteErr
}

func (s *memStore) Samples() []mqtt.DataMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mqtt.DataMessage(nil), s.samples...)
}

type harness struct {
	broker  *mqtt.FakeBroker
	reg     *Registry
	store   *memStore
	tenants *tenant.MemoryRepository
	tracker *status.Tracker
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		broker:  mqtt.NewFakeBroker(),
		store:   &memStore{},
		tenants: tenant.NewMemoryRepository(),
		tracker: status.NewTracker(testNow, status.Config{}),
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	opts := Options{
		Master:         masterCreds,
		Dial:           h.broker.Dial,
		Tenants:        h.tenants,
		Store:          h.store,
		Heartbeat:      time.Hour,
		ConnectTimeout: 200 * time.Millisecond,
		Metrics:        h.metrics,
		Tracker:        h.tracker,
		Now:            func() time.Time { return testNow },
	}
	for _, m := range mutate {
		m(&opts)
	}

	h.reg = NewRegistry(opts)
	t.Cleanup(h.reg.Shutdown)

	return h
}

// connectMaster connects the master link without running the registry loop.
func (h *harness) connectMaster(t *testing.T) *mqtt.FakeLink {
	t.Helper()
	link := h.master()
	require.NoError(t, link.Connect(context.Background()))
	return link
}

func (h *harness) master() *mqtt.FakeLink {
	return h.broker.Link(masterCreds)
}

func (h *harness) link(u mqtt.UserMessage) *mqtt.FakeLink {
	return h.broker.Link(u.Credentials)
}

func (h *harness) addActive(t *testing.T, u mqtt.UserMessage) *mqtt.FakeLink {
	t.Helper()
	require.NoError(t, h.reg.Add(context.Background(), u, true))
	h.waitPhase(t, u.UID, status.PhaseActive)
	return h.link(u)
}

func (h *harness) waitPhase(t *testing.T, uid string, phase status.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := h.tracker.Session(uid)
		return ok && s.Phase == phase
	}, waitFor, tick, "session %s never reached %s", uid, phase)
}

func infos(t *testing.T, msgs []mqtt.Published) []mqtt.InfoMessage {
	t.Helper()
	out := make([]mqtt.InfoMessage, 0, len(msgs))
	for _, m := range msgs {
		info, err := mqtt.Decode[mqtt.InfoMessage](m.Payload)
		require.NoError(t, err)
		out = append(out, info)
	}
	return out
}

func events(t *testing.T, msgs []mqtt.Published) []mqtt.EventMessage {
	t.Helper()
	out := make([]mqtt.EventMessage, 0, len(msgs))
	for _, m := range msgs {
		ev, err := mqtt.Decode[mqtt.EventMessage](m.Payload)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func encode(t *testing.T, msg any) []byte {
	t.Helper()
	b, err := mqtt.Encode(msg)
	require.NoError(t, err)
	return b
}

// waitInfo waits until the link has published an Info with description on
// topic and returns it.
func waitInfo(t *testing.T, link *mqtt.FakeLink, topic, description string) mqtt.InfoMessage {
	t.Helper()
	var found mqtt.InfoMessage
	require.Eventually(t, func() bool {
		for _, m := range link.PublishedTo(topic) {
			info, err := mqtt.Decode[mqtt.InfoMessage](m.Payload)
			if err == nil && info.Description == description {
				found = info
				return true
			}
		}
		return false
	}, waitFor, tick, "no %q info on %s", description, topic)
	return found
}
