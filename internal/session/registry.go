package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/geyser-sim/internal/config"
	"github.com/sweeney/geyser-sim/internal/logger"
	"github.com/sweeney/geyser-sim/internal/metrics"
	"github.com/sweeney/geyser-sim/internal/mqtt"
	"github.com/sweeney/geyser-sim/internal/status"
	"github.com/sweeney/geyser-sim/internal/telemetry"
	"github.com/sweeney/geyser-sim/internal/tenant"
)

const startupMessage = "Geyser Simulation Manager started."

var (
	// ErrEmptyTenant is returned when an Add carries no uid.
	ErrEmptyTenant = errors.New("tenant uid is empty")

	// ErrDuplicateTenant is returned by Add under the reject policy.
	ErrDuplicateTenant = errors.New("tenant already registered")
)

// Options configure a Registry. Zero fields take defaults.
type Options struct {
	Master          mqtt.Credentials
	Dial            mqtt.Dialer
	Tenants         tenant.Repository
	Store           telemetry.Store
	Topics          config.Topics
	Heartbeat       time.Duration
	ConnectTimeout  time.Duration
	DuplicatePolicy config.DuplicatePolicy
	Metrics         *metrics.Metrics
	Tracker         *status.Tracker
	Now             func() time.Time
}

// Registry maps tenant uids to their running workers and dispatches master
// channel commands.
type Registry struct {
	opts   Options
	master mqtt.Link

	// addMu serialises Add so a replaced worker is gone before its successor
	// starts.
	addMu sync.Mutex

	// commands carries master channel messages from the broker callback to
	// the Run loop. Broker callbacks only enqueue.
	commands chan inbound

	mu       sync.RWMutex
	sessions map[string]*Worker
	baseCtx  context.Context
	wg       sync.WaitGroup
}

// NewRegistry creates a registry and dials, without connecting, the master
// broker.
func NewRegistry(opts Options) *Registry {
	if opts.Dial == nil {
		opts.Dial = mqtt.DialPaho
	}
	if opts.Tenants == nil {
		opts.Tenants = tenant.NewMemoryRepository()
	}
	if opts.Store == nil {
		opts.Store = telemetry.Discard{}
	}
	if opts.Topics == (config.Topics{}) {
		opts.Topics = config.DefaultTopics()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = config.DefaultHeartbeat
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = config.DefaultConnectTimeout
	}
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = config.DuplicateReplace
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if opts.Tracker == nil {
		opts.Tracker = status.NewTracker(time.Now(), status.Config{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		opts:     opts,
		master:   opts.Dial(opts.Master),
		commands: make(chan inbound, inboxSize),
		sessions: make(map[string]*Worker),
		baseCtx:  context.Background(),
	}
}

// Run connects the master channel, restores persisted tenants and serves
// commands until ctx is cancelled. Every session is terminated before it
// returns.
func (r *Registry) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "registry")

	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
	err := r.master.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("master broker %s: %w", r.opts.Master.BrokerURL(), err)
	}
	r.opts.Tracker.SetMasterConnected(true)
	logger.InfoKV(ctx, "connected to master broker", "broker", r.opts.Master.BrokerURL())

	enqueue := func(topic string, payload []byte) {
		select {
		case r.commands <- inbound{topic: topic, payload: payload}:
		case <-ctx.Done():
		}
	}
	sub := r.opts.Topics.MasterSub
	for _, topic := range []string{sub.Add, sub.Set, sub.Get, sub.Delete} {
		if topic == "" {
			continue
		}
		if err := r.master.Subscribe(topic, enqueue); err != nil {
			_ = r.master.Close()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	r.publish(ctx, r.master, r.opts.Topics.MasterPub.Info, mqtt.NewInfo("", startupMessage, nil, r.opts.Now()))
	r.restore(ctx)

	ticker := time.NewTicker(r.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Shutdown()
			if err := r.master.Close(); err != nil {
				logger.WarnKV(ctx, "closing master link", "error", err)
			}
			r.opts.Tracker.SetMasterConnected(false)
			logger.Info(ctx, "registry stopped")
			return nil
		case msg := <-r.commands:
			r.Dispatch(ctx, msg.topic, msg.payload)
		case <-ticker.C:
			r.opts.Tracker.SetMasterConnected(r.master.IsConnected())
		}
	}
}

func (r *Registry) restore(ctx context.Context) {
	users, err := r.opts.Tenants.Load(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "loading tenant list", "error", err)
		return
	}

	for _, u := range users {
		if err := r.Add(ctx, u, false); err != nil {
			logger.WarnKV(ctx, "skipping stored tenant", "uid", u.UID, "error", err)
		}
	}
	logger.InfoKV(ctx, "tenants restored", "count", len(users))
}

// kindOf falls back to the arrival topic for messages sent without a Type.
func (r *Registry) kindOf(topic string, h mqtt.Header) mqtt.Kind {
	if k := h.Type.Canonical(); k != "" {
		return k
	}
	if h.Type != "" {
		return ""
	}

	sub := r.opts.Topics.MasterSub
	switch topic {
	case sub.Add:
		return mqtt.KindAdd
	case sub.Set:
		return mqtt.KindSet
	case sub.Get:
		return mqtt.KindGet
	case sub.Delete:
		return mqtt.KindDelete
	}
	return ""
}

// Dispatch handles one master channel message. Malformed payloads are logged
// and dropped.
func (r *Registry) Dispatch(ctx context.Context, topic string, payload []byte) {
	h, err := mqtt.PeekKind(payload)
	if err != nil {
		r.opts.Metrics.DecodeFailed(metrics.ChannelMaster)
		logger.WarnKV(ctx, "dropping undecodable master message", "topic", topic, "error", err)
		return
	}

	kind := r.kindOf(topic, h)
	r.opts.Metrics.Received(metrics.ChannelMaster, kindLabel(kind))

	switch kind {
	case mqtt.KindAdd, mqtt.KindUser:
		user, err := mqtt.Decode[mqtt.UserMessage](payload)
		if err != nil {
			r.decodeFailed(ctx, kind, err)
			return
		}
		if err := r.Add(ctx, user, true); err != nil {
			logger.WarnKV(ctx, "add rejected", "uid", user.UID, "error", err)
		}
	case mqtt.KindRemove:
		r.Remove(ctx, h.UID)
	case mqtt.KindSet:
		set, err := mqtt.Decode[mqtt.SetMessage](payload)
		if err != nil {
			r.decodeFailed(ctx, kind, err)
			return
		}
		r.Set(ctx, set)
	case mqtt.KindGet:
		r.Get(ctx, h.UID)
	case mqtt.KindDelete:
		del, err := mqtt.Decode[mqtt.DeleteMessage](payload)
		if err != nil {
			r.decodeFailed(ctx, kind, err)
			return
		}
		r.Delete(ctx, del)
	default:
		logger.DebugKV(ctx, "ignoring master message", "topic", topic, "type", string(h.Type))
	}
}

func (r *Registry) decodeFailed(ctx context.Context, kind mqtt.Kind, err error) {
	r.opts.Metrics.DecodeFailed(metrics.ChannelMaster)
	logger.WarnKV(ctx, "dropping undecodable master message", "type", string(kind), "error", err)
}

// Add registers user and starts its worker. persist controls whether the
// tenant list is updated. An existing session for the same uid is replaced or
// the add is rejected, depending on the duplicate policy.
func (r *Registry) Add(ctx context.Context, user mqtt.UserMessage, persist bool) error {
	if user.UID == "" {
		return ErrEmptyTenant
	}

	r.addMu.Lock()
	defer r.addMu.Unlock()

	if old, ok := r.Lookup(user.UID); ok {
		if r.opts.DuplicatePolicy == config.DuplicateReject {
			return fmt.Errorf("%w: %s", ErrDuplicateTenant, user.UID)
		}
		logger.InfoKV(ctx, "replacing session", "uid", user.UID)
		r.unregister(old)
		old.stop()
	}

	if persist {
		if err := r.opts.Tenants.Upsert(ctx, user); err != nil {
			logger.ErrorKV(ctx, "persisting tenant", "uid", user.UID, "error", err)
		}
	}

	w := newWorker(r, user)
	r.opts.Tracker.SetPhase(user.UID, user.Name, user.Credentials.BrokerURL(), status.PhaseCreated)

	r.mu.Lock()
	wctx, cancel := context.WithCancel(r.baseCtx)
	w.cancel = cancel
	r.sessions[user.UID] = w
	r.wg.Add(1)
	r.mu.Unlock()

	logger.InfoKV(ctx, "tenant added", "uid", user.UID, "name", user.Name, "broker", user.Credentials.BrokerURL())

	go func() {
		defer r.wg.Done()
		w.run(wctx)
	}()

	return nil
}

func (r *Registry) unregister(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[w.user.UID] == w {
		delete(r.sessions, w.user.UID)
	}
}

// Remove stops the tenant's session, if any, and drops it from the tenant
// list. It reports whether a session was running.
func (r *Registry) Remove(ctx context.Context, uid string) bool {
	r.mu.Lock()
	w := r.sessions[uid]
	delete(r.sessions, uid)
	r.mu.Unlock()

	if w != nil {
		w.stop()
	}

	if err := r.opts.Tenants.Remove(ctx, uid); err != nil && !errors.Is(err, tenant.ErrNotFound) {
		logger.ErrorKV(ctx, "removing tenant from list", "uid", uid, "error", err)
	}
	r.opts.Tracker.Remove(uid)

	if w == nil {
		logger.DebugKV(ctx, "remove for unknown tenant", "uid", uid)
		return false
	}
	logger.InfoKV(ctx, "tenant removed", "uid", uid)
	return true
}

// Set applies the targets to one session, or to every session when the
// message has no uid. It returns how many sessions were updated.
func (r *Registry) Set(ctx context.Context, msg mqtt.SetMessage) int {
	var targets []*Worker
	if msg.UID == "" {
		targets = r.workers()
	} else if w, ok := r.Lookup(msg.UID); ok {
		targets = []*Worker{w}
	} else {
		logger.DebugKV(ctx, "set for unknown tenant", "uid", msg.UID)
		return 0
	}

	for _, w := range targets {
		w.apply(ctx, msg.Targets)
	}
	return len(targets)
}

// Get publishes the inputs of one session, or of every session when uid is
// empty, on the master info topic.
func (r *Registry) Get(ctx context.Context, uid string) int {
	var targets []*Worker
	if uid == "" {
		targets = r.workers()
	} else if w, ok := r.Lookup(uid); ok {
		targets = []*Worker{w}
	} else {
		logger.DebugKV(ctx, "get for unknown tenant", "uid", uid)
		return 0
	}

	for _, w := range targets {
		inputs := w.state.Snapshot()
		r.publish(ctx, r.master, r.opts.Topics.MasterPub.Info,
			mqtt.NewInfo(w.user.UID, w.user.Name, &inputs, r.opts.Now()))
	}
	return len(targets)
}

// Delete removes stored telemetry matching msg and reports the outcome on the
// master info topic.
func (r *Registry) Delete(ctx context.Context, msg mqtt.DeleteMessage) (int64, error) {
	to := msg.StopTime.Time
	if to.IsZero() {
		to = r.opts.Now()
	}

	n, err := r.opts.Store.Delete(ctx, msg.StartTime.Time, to, msg.Predicate)
	if err != nil {
		logger.ErrorKV(ctx, "telemetry delete failed", "predicate", msg.Predicate, "error", err)
		r.publish(ctx, r.master, r.opts.Topics.MasterPub.Info,
			mqtt.NewInfo(msg.UID, fmt.Sprintf("Delete failed: %v", err), nil, r.opts.Now()))
		return 0, err
	}

	logger.InfoKV(ctx, "telemetry deleted", "rows", n, "from", msg.StartTime.Time, "to", to)
	r.publish(ctx, r.master, r.opts.Topics.MasterPub.Info,
		mqtt.NewInfo(msg.UID, fmt.Sprintf("Deleted %d samples", n), nil, r.opts.Now()))
	return n, nil
}

// Lookup returns the running worker for uid.
func (r *Registry) Lookup(uid string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.sessions[uid]
	return w, ok
}

// Sessions returns the registered uids in order.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uids := make([]string, 0, len(r.sessions))
	for uid := range r.sessions {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

func (r *Registry) workers() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ws := make([]*Worker, 0, len(r.sessions))
	for _, w := range r.sessions {
		ws = append(ws, w)
	}
	return ws
}

// Shutdown stops every session and waits for the workers to exit. The tenant
// list is left untouched.
func (r *Registry) Shutdown() {
	r.addMu.Lock()
	defer r.addMu.Unlock()

	r.mu.Lock()
	ws := make([]*Worker, 0, len(r.sessions))
	for uid, w := range r.sessions {
		ws = append(ws, w)
		delete(r.sessions, uid)
	}
	r.mu.Unlock()

	for _, w := range ws {
		w.cancel()
	}
	r.wg.Wait()
}

func (r *Registry) publish(ctx context.Context, link mqtt.Link, topic string, msg any) {
	if topic == "" {
		return
	}

	payload, err := mqtt.Encode(msg)
	if err != nil {
		logger.ErrorKV(ctx, "encoding message", "topic", topic, "error", err)
		return
	}
	if err := link.Publish(topic, payload); err != nil {
		r.opts.Metrics.PublishFailures.Inc()
		logger.WarnKV(ctx, "publish failed", "topic", topic, "error", err)
	}
}
