package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/geyser-sim/internal/config"
	"github.com/sweeney/geyser-sim/internal/logger"
	"github.com/sweeney/geyser-sim/internal/metrics"
	"github.com/sweeney/geyser-sim/internal/mqtt"
	"github.com/sweeney/geyser-sim/internal/status"
)

const inboxSize = 64

// Descriptions published on the tenant info topic.
const (
	descSessionActive = "Session active"
	descSetAccepted   = "SET command received for geyser input"
)

type inbound struct {
	topic   string
	payload []byte
}

// Worker owns one tenant's broker link and input state for the lifetime of
// its session.
type Worker struct {
	user   mqtt.UserMessage
	state  *State
	link   mqtt.Link
	reg    *Registry
	sub    config.TenantSubTopics
	pub    config.TenantPubTopics
	inbox  chan inbound
	cancel context.CancelFunc
	done   chan struct{}
	active bool
}

func newWorker(r *Registry, user mqtt.UserMessage) *Worker {
	sub, pub := r.opts.Topics.ForTenant(user.UID)

	return &Worker{
		user:  user,
		state: NewState(),
		link:  r.opts.Dial(user.Credentials),
		reg:   r,
		sub:   sub,
		pub:   pub,
		inbox: make(chan inbound, inboxSize),
		done:  make(chan struct{}),
	}
}

// UID of the tenant.
func (w *Worker) UID() string { return w.user.UID }

// Name of the tenant.
func (w *Worker) Name() string { return w.user.Name }

// State returns the live input state.
func (w *Worker) State() *State { return w.state }

// Done is closed when the worker has terminated.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) stop() {
	w.cancel()
	<-w.done
}

func (w *Worker) setPhase(p status.Phase) {
	w.reg.opts.Tracker.SetPhase(w.user.UID, w.user.Name, w.user.Credentials.BrokerURL(), p)
}

func (w *Worker) metrics() *metrics.Metrics { return w.reg.opts.Metrics }

func (w *Worker) now() time.Time { return w.reg.opts.Now() }

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	ctx = logger.WithKV(ctx, "tenant", w.user.UID, "broker", w.user.Credentials.BrokerURL())
	w.setPhase(status.PhaseConnecting)

	if !w.connect(ctx) {
		w.reg.unregister(w)
		w.setPhase(status.PhaseTerminated)
		return
	}
	defer w.terminate(ctx)

	ticker := time.NewTicker(w.reg.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.heartbeat(ctx)
		case msg := <-w.inbox:
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) connect(ctx context.Context) bool {
	started := time.Now()
	connectCtx, cancel := context.WithTimeout(ctx, w.reg.opts.ConnectTimeout)
	err := w.link.Connect(connectCtx)
	cancel()

	if err != nil {
		w.metrics().ConnectFailures.Inc()
		logger.ErrorKV(ctx, "tenant broker connect failed", "error", err)
		return false
	}
	w.metrics().Connected(time.Since(started))

	enqueue := func(topic string, payload []byte) {
		select {
		case w.inbox <- inbound{topic: topic, payload: payload}:
		case <-ctx.Done():
		}
	}
	for _, topic := range []string{w.sub.Set, w.sub.Data} {
		if topic == "" {
			continue
		}
		if err := w.link.Subscribe(topic, enqueue); err != nil {
			logger.ErrorKV(ctx, "tenant subscribe failed", "topic", topic, "error", err)
		}
	}

	w.publish(ctx, w.link, w.pub.Info,
		mqtt.NewInfo(w.user.UID, fmt.Sprintf("Geyser simulator connected to %s's broker", w.user.Name), nil, w.now()))
	w.publish(ctx, w.reg.master, w.reg.opts.Topics.MasterPub.Event,
		mqtt.NewEvent(w.user.UID, mqtt.StateActive, w.now()))

	w.active = true
	w.metrics().SessionsActive.Inc()
	w.setPhase(status.PhaseActive)
	logger.InfoKV(ctx, "session active", "name", w.user.Name)

	return true
}

func (w *Worker) terminate(ctx context.Context) {
	w.publish(ctx, w.reg.master, w.reg.opts.Topics.MasterPub.Event,
		mqtt.NewEvent(w.user.UID, mqtt.StateTerminated, w.now()))

	if err := w.link.Close(); err != nil {
		logger.WarnKV(ctx, "closing tenant link", "error", err)
	}
	if w.active {
		w.metrics().SessionsActive.Dec()
		w.active = false
	}
	w.setPhase(status.PhaseTerminated)
	logger.InfoKV(ctx, "session terminated")
}

func (w *Worker) heartbeat(ctx context.Context) {
	at := w.now()
	w.sendInfo(ctx, descSessionActive, at)
	w.metrics().Heartbeats.Inc()
	w.reg.opts.Tracker.Heartbeat(w.user.UID, at)
}

func (w *Worker) sendInfo(ctx context.Context, description string, at time.Time) {
	inputs := w.state.Snapshot()
	w.publish(ctx, w.link, w.pub.Info, mqtt.NewInfo(w.user.UID, description, &inputs, at))
}

// kindOf falls back to the arrival topic for messages sent without a Type.
func (w *Worker) kindOf(topic string, h mqtt.Header) mqtt.Kind {
	if k := h.Type.Canonical(); k != "" {
		return k
	}
	switch {
	case h.Type != "":
		return ""
	case w.sub.Set != "" && mqtt.TopicMatches(w.sub.Set, topic):
		return mqtt.KindSet
	case w.sub.Data != "" && mqtt.TopicMatches(w.sub.Data, topic):
		return mqtt.KindData
	}
	return ""
}

func (w *Worker) handle(ctx context.Context, msg inbound) {
	h, err := mqtt.PeekKind(msg.payload)
	if err != nil {
		w.metrics().DecodeFailed(metrics.ChannelTenant)
		logger.WarnKV(ctx, "dropping undecodable tenant message", "topic", msg.topic, "error", err)
		return
	}

	kind := w.kindOf(msg.topic, h)
	w.metrics().Received(metrics.ChannelTenant, kindLabel(kind))

	switch kind {
	case mqtt.KindSet:
		set, err := mqtt.Decode[mqtt.SetMessage](msg.payload)
		if err != nil {
			w.metrics().DecodeFailed(metrics.ChannelTenant)
			logger.WarnKV(ctx, "dropping undecodable set", "error", err)
			return
		}
		w.handleSet(ctx, set)
	case mqtt.KindData:
		data, err := mqtt.Decode[mqtt.DataMessage](msg.payload)
		if err != nil {
			w.metrics().DecodeFailed(metrics.ChannelTenant)
			logger.WarnKV(ctx, "dropping undecodable data", "error", err)
			return
		}
		w.handleData(ctx, data)
	default:
		logger.DebugKV(ctx, "ignoring tenant message", "topic", msg.topic, "type", string(h.Type))
	}
}

func (w *Worker) handleSet(ctx context.Context, msg mqtt.SetMessage) {
	if msg.UID != w.user.UID {
		logger.WarnKV(ctx, "set with wrong uid rejected", "uid", msg.UID)
		w.sendInfo(ctx, fmt.Sprintf("SET command received with incorrect UID, please use %s as your UID", w.user.UID), w.now())
		return
	}

	w.apply(ctx, msg.Targets)
	w.sendInfo(ctx, descSetAccepted, w.now())
}

func (w *Worker) apply(ctx context.Context, targets []mqtt.Target) {
	if ignored := w.state.Apply(targets); len(ignored) > 0 {
		logger.DebugKV(ctx, "ignoring unknown inputs", "names", ignored)
	}
	w.reg.opts.Tracker.SetInputs(w.user.UID, w.state.Snapshot().Map())
}

func (w *Worker) handleData(ctx context.Context, msg mqtt.DataMessage) {
	if msg.UID != w.user.UID {
		logger.WarnKV(ctx, "data with wrong uid dropped", "uid", msg.UID)
		w.sendInfo(ctx, fmt.Sprintf("DATA message received with incorrect UID, please use %s as your UID", w.user.UID), w.now())
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = mqtt.Time{Time: w.now()}
	}
	msg.Type = mqtt.KindData

	err := w.reg.opts.Store.WriteData(ctx, msg)
	w.metrics().TelemetryWritten(err)
	if err != nil {
		logger.ErrorKV(ctx, "telemetry write failed", "store", w.reg.opts.Store.Name(), "error", err)
	}

	w.publish(ctx, w.reg.master, w.reg.opts.Topics.MasterPub.Data, msg)
}

func (w *Worker) publish(ctx context.Context, link mqtt.Link, topic string, msg any) {
	w.reg.publish(ctx, link, topic, msg)
}

func kindLabel(k mqtt.Kind) string {
	if k == "" {
		return "unknown"
	}
	return string(k)
}
