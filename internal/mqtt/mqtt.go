// Package mqtt provides broker links for the master channel and each tenant
// session, with a fake implementation for testing, plus the JSON message codec
// spoken on those links.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when credentials carry no port.
const DefaultPort = 1883

// TLSPort selects an ssl:// broker URL when no scheme is given.
const TLSPort = 8883

// ErrNotConnected is returned by Publish on a link that never connected.
var ErrNotConnected = errors.New("mqtt: not connected")

// Credentials locate and authenticate against one broker.
type Credentials struct {
	URL      string `json:"BrokerUrl" yaml:"url"`
	Port     int    `json:"Port" yaml:"port"`
	Username string `json:"Username,omitempty" yaml:"username"`
	Password string `json:"Password,omitempty" yaml:"password"`
}

// UnmarshalJSON accepts both the "BrokerUrl" and the short "url" key.
func (c *Credentials) UnmarshalJSON(b []byte) error {
	var raw struct {
		BrokerURL string `json:"BrokerUrl"`
		URL       string `json:"url"`
		Port      int    `json:"Port"`
		Username  string `json:"Username"`
		Password  string `json:"Password"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*c = Credentials{URL: raw.BrokerURL, Port: raw.Port, Username: raw.Username, Password: raw.Password}
	if c.URL == "" {
		c.URL = raw.URL
	}

	return nil
}

// BrokerURL returns the scheme://host:port form paho expects. A bare host gets
// tcp://, or ssl:// when the port is 8883.
func (c Credentials) BrokerURL() string {
	scheme, host := "", strings.TrimSpace(c.URL)
	if i := strings.Index(host, "://"); i >= 0 {
		scheme, host = strings.ToLower(host[:i]), host[i+3:]
	}

	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	if scheme == "" {
		scheme = "tcp"
		if port == TLSPort {
			scheme = "ssl"
		}
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return scheme + "://" + host
	}

	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s (user %q)", c.BrokerURL(), c.Username)
}

// Handler receives one inbound message.
type Handler func(topic string, payload []byte)

// Link is a single broker connection.
type Link interface {
	// Connect makes one connection attempt, bounded by ctx.
	Connect(ctx context.Context) error

	// Subscribe registers h for topic. Subscriptions survive reconnects.
	Subscribe(topic string, h Handler) error

	// Publish sends payload to topic.
	// Returns error if publishing fails (should not crash the process).
	Publish(topic string, payload []byte) error

	// Close disconnects from the broker.
	Close() error

	ConnectionStatus
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Dialer builds an unconnected Link for the given broker.
type Dialer func(Credentials) Link
