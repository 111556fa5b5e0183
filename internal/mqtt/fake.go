package mqtt

import (
	"context"
	"strings"
	"sync"
)

// Published is one message recorded by a FakeLink.
type Published struct {
	Topic   string
	Payload []byte
}

// FakeLink records published messages for test assertions and lets tests
// inject inbound messages with Deliver. Safe for concurrent use.
type FakeLink struct {
	Creds Credentials

	mu        sync.Mutex
	subs      map[string]Handler
	published []Published
	connected bool
	closed    bool
	hang      bool

	// ConnectError, if set, will be returned by Connect.
	ConnectError error

	// PublishError, if set, will be returned by Publish.
	PublishError error
}

// NewFakeLink creates a FakeLink for testing.
func NewFakeLink(c Credentials) *FakeLink {
	return &FakeLink{Creds: c, subs: make(map[string]Handler)}
}

// Connect marks the link connected unless ConnectError is set. A hanging link
// blocks until ctx is done.
func (f *FakeLink) Connect(ctx context.Context) error {
	f.mu.Lock()
	hang, err := f.hang, f.ConnectError
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()

	return nil
}

// Subscribe records the handler for topic.
func (f *FakeLink) Subscribe(topic string, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = h
	return nil
}

// Publish records the message.
func (f *FakeLink) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}
	if !f.connected {
		return ErrNotConnected
	}

	f.published = append(f.published, Published{Topic: topic, Payload: append([]byte(nil), payload...)})

	return nil
}

// Close marks the link as closed.
func (f *FakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

// IsConnected reports whether the fake link is "connected".
func (f *FakeLink) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Closed reports whether Close was called.
func (f *FakeLink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Subscribed reports whether a handler is registered for topic.
func (f *FakeLink) Subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}

// Deliver hands payload to every handler whose filter matches topic and
// reports how many were called.
func (f *FakeLink) Deliver(topic string, payload []byte) int {
	f.mu.Lock()
	var handlers []Handler
	for filter, h := range f.subs {
		if TopicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload)
	}

	return len(handlers)
}

// Messages returns a copy of everything published so far.
func (f *FakeLink) Messages() []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Published(nil), f.published...)
}

// PublishedTo returns the messages published to topic.
func (f *FakeLink) PublishedTo(topic string) []Published {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Published
	for _, p := range f.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}

	return out
}

// Reset clears recorded messages and injected errors.
func (f *FakeLink) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = nil
	f.ConnectError = nil
	f.PublishError = nil
}

// FakeBroker is a Dialer that hands out FakeLinks and remembers them by
// broker URL.
type FakeBroker struct {
	mu       sync.Mutex
	links    map[string]*FakeLink
	failures map[string]error
	hanging  map[string]bool
	dials    int
}

// NewFakeBroker creates an empty FakeBroker.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{
		links:    make(map[string]*FakeLink),
		failures: make(map[string]error),
		hanging:  make(map[string]bool),
	}
}

// Dial creates a new FakeLink for c, replacing any previous link to the same
// broker.
func (b *FakeBroker) Dial(c Credentials) Link {
	b.mu.Lock()
	defer b.mu.Unlock()

	url := c.BrokerURL()
	link := NewFakeLink(c)
	link.ConnectError = b.failures[url]
	link.hang = b.hanging[url]
	b.links[url] = link
	b.dials++

	return link
}

// FailConnect makes future links to c's broker fail Connect with err.
func (b *FakeBroker) FailConnect(c Credentials, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[c.BrokerURL()] = err
}

// HangConnect makes future links to c's broker block in Connect until the
// connect context expires.
func (b *FakeBroker) HangConnect(c Credentials) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hanging[c.BrokerURL()] = true
}

// Link returns the most recent link dialed to c's broker, or nil.
func (b *FakeBroker) Link(c Credentials) *FakeLink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.links[c.BrokerURL()]
}

// Dials returns the number of links created.
func (b *FakeBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// TopicMatches reports whether topic matches the MQTT subscription filter,
// honouring the + and # wildcards.
func TopicMatches(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}

	return len(fs) == len(ts)
}
