package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// Will is the last-will message registered with the broker at connect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectOptions configures a session handshake.
type ConnectOptions struct {
	ClientID   string
	Username   string
	Password   string
	KeepAlive  time.Duration
	CleanStart bool
	Will       *Will

	// OnMessage receives every inbound publish. It is called from the
	// client library's goroutine and must not block.
	OnMessage func(topic string, payload []byte)
}

// Transport is one messaging session with a broker. A Transport is
// single-use: after Disconnect or a failure it is discarded.
type Transport interface {
	Connect(ctx context.Context, opts ConnectOptions) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	// Err returns nil while the session is healthy and the first fatal
	// error once it is not. It never blocks.
	Err() error
	Disconnect(ctx context.Context) error
}

// NewTransport returns the transport for protocol ("5" or "3.1.1").
func NewTransport(protocol, broker string, logger *slog.Logger) (Transport, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch protocol {
	case "5":
		return NewV5Transport(u, logger), nil
	case "3.1.1":
		return NewV3Transport(u, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mqtt protocol %q", protocol)
	}
}

// BrokerAddr returns host:port for u, filling in the scheme's default
// port when none is given.
func BrokerAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "1883"
		if isTLS(u) {
			port = "8883"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func isTLS(u *url.URL) bool {
	switch u.Scheme {
	case "mqtts", "ssl", "tls":
		return true
	}
	return false
}

func dial(ctx context.Context, u *url.URL) (net.Conn, error) {
	addr := BrokerAddr(u)
	if isTLS(u) {
		d := tls.Dialer{Config: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: u.Hostname(),
		}}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// failure records the first fatal error reported by a client callback.
type failure struct {
	mu  sync.Mutex
	err error
}

func (f *failure) set(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false
	}
	f.err = err
	return true
}

func (f *failure) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
