package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/geyser-sim/internal/logger"
)

const (
	// qos is at-least-once for every publish and subscription.
	qos = 1

	publishTimeout   = 5 * time.Second
	subscribeTimeout = 5 * time.Second

	// outboxLimit bounds publishes held while disconnected.
	outboxLimit = 100
)

// PahoLink is a Link to an actual MQTT broker.
type PahoLink struct {
	creds  Credentials
	client paho.Client
	log    *zap.SugaredLogger

	mu        sync.Mutex
	subs      map[string]Handler
	outbox    *outbox
	connected bool // at least one successful connect
}

// DialPaho is the production Dialer.
func DialPaho(c Credentials) Link {
	return NewPahoLink(c)
}

// NewPahoLink prepares a link to the broker in c. Nothing is sent until Connect.
func NewPahoLink(c Credentials) *PahoLink {
	url := c.BrokerURL()
	l := &PahoLink{
		creds:  c,
		log:    logger.Logger().With("broker", url),
		subs:   make(map[string]Handler),
		outbox: newOutbox(outboxLimit),
	}

	opts := paho.NewClientOptions().
		AddBroker(url).
		SetClientID(uuid.NewString()).
		SetUsername(c.Username).
		SetPassword(c.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOnConnectHandler(l.onConnect).
		SetConnectionLostHandler(l.onConnectionLost)

	if isTLS(url) {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	l.client = paho.NewClient(opts)

	return l
}

func isTLS(url string) bool {
	for _, scheme := range []string{"ssl://", "tls://", "mqtts://", "wss://"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}

	return false
}

// Connect makes a single connection attempt. There is no retry: a caller that
// wants one builds a new link.
func (l *PahoLink) Connect(ctx context.Context) error {
	token := l.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		l.client.Disconnect(0)
		return fmt.Errorf("connect to %s: %w", l.creds.BrokerURL(), ctx.Err())
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", l.creds.BrokerURL(), err)
	}

	return nil
}

// onConnect restores subscriptions and replays buffered publishes. paho calls
// it on the initial connect and after every automatic reconnect.
func (l *PahoLink) onConnect(client paho.Client) {
	l.mu.Lock()
	wasConnected := l.connected
	l.connected = true
	subs := make(map[string]Handler, len(l.subs))
	for topic, h := range l.subs {
		subs[topic] = h
	}
	pending, dropped := l.outbox.take()
	l.mu.Unlock()

	if wasConnected {
		l.log.Infow("reconnected to broker", "subscriptions", len(subs), "buffered", len(pending), "dropped", dropped)
	}

	for topic, h := range subs {
		if err := l.subscribe(client, topic, h); err != nil {
			l.log.Warnw("resubscribe failed", "topic", topic, "error", err)
		}
	}

	for _, msg := range pending {
		token := client.Publish(msg.topic, qos, false, msg.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			l.log.Warnw("replay of buffered message failed", "topic", msg.topic, "error", token.Error())
		}
	}
}

func (l *PahoLink) onConnectionLost(_ paho.Client, err error) {
	l.log.Warnw("connection lost", "error", err)
}

// Subscribe registers h for topic and subscribes now if connected.
func (l *PahoLink) Subscribe(topic string, h Handler) error {
	l.mu.Lock()
	l.subs[topic] = h
	l.mu.Unlock()

	if !l.client.IsConnectionOpen() {
		return nil
	}

	return l.subscribe(l.client, topic, h)
}

func (l *PahoLink) subscribe(client paho.Client, topic string, h Handler) error {
	token := client.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	return nil
}

// Publish sends payload at QoS 1, not retained. While the connection is down
// after a successful connect, the message is buffered for replay instead.
func (l *PahoLink) Publish(topic string, payload []byte) error {
	if !l.client.IsConnectionOpen() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if !l.connected {
			return ErrNotConnected
		}
		if l.outbox.add(pendingPublish{topic: topic, payload: payload}) {
			l.log.Debugw("outbox full, dropped oldest publish", "limit", outboxLimit)
		}

		return nil
	}

	token := l.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	return nil
}

// IsConnected reports whether the connection is currently open.
func (l *PahoLink) IsConnected() bool {
	return l.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (l *PahoLink) Close() error {
	l.client.Disconnect(250)
	return nil
}
