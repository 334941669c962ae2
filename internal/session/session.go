// Package session owns the node's network attachment and its single
// messaging session.
//
// The session is fail-fast: once it has opened, any pump or publish
// failure moves it back to [Disconnected] and is reported to the
// caller, which restarts the node. There is no reconnect logic here.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/thermonode/internal/config"
	"github.com/nugget/thermonode/internal/connwatch"
	"github.com/nugget/thermonode/internal/mqtt"
)

// State is the session lifecycle position.
type State int

const (
	Disconnected State = iota
	Connecting
	Attached
	MessagingReady
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Attached:
		return "attached"
	case MessagingReady:
		return "messaging_ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrNotReady is returned when an operation is attempted in the
	// wrong state (publishing before subscribe, opening before attach).
	ErrNotReady = errors.New("session not ready")

	// ErrPumpFailed wraps the transport error that ended the session.
	ErrPumpFailed = errors.New("session pump failed")
)

// Config holds everything the session needs beyond its transport.
type Config struct {
	Identity string
	Topics   Topics

	Username   string
	Password   string
	KeepAlive  time.Duration
	CleanStart bool

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	MaxPayloadLen  int

	// Attach configures the boot-time network wait.
	Attach connwatch.AttachConfig

	// Tap, if set, sees every payload after it was published.
	Tap func(topic string, payload []byte)
}

// Session is the connectivity session. Its methods are called from
// the supervisor's single loop; only the state is also read by other
// goroutines (the OTA landing page), so it alone is locked.
type Session struct {
	cfg       Config
	transport mqtt.Transport
	logger    *slog.Logger

	mu    sync.Mutex
	state State

	// connected is true between a successful handshake and Disconnect,
	// whatever the state machine says.
	connected bool
}

// New creates a session in [Disconnected] state.
func New(cfg Config, transport mqtt.Transport, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Attach.Logger == nil {
		cfg.Attach.Logger = logger
	}
	return &Session{cfg: cfg, transport: transport, logger: logger}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Debug("session state changed", "from", prev, "to", st)
	}
}

// Health returns the health string reported in status messages.
func (s *Session) Health() string {
	if s.State() == MessagingReady {
		return mqtt.HealthOnline
	}
	return mqtt.HealthOffline
}

// Attach waits for network attachment. This is the only blocking wait
// in the node's life and is bounded by the attach timeout.
func (s *Session) Attach(ctx context.Context) error {
	s.setState(Connecting)
	if err := connwatch.Attach(ctx, s.cfg.Attach); err != nil {
		s.setState(Disconnected)
		return err
	}
	s.setState(Attached)
	return nil
}

// WillPayload is the Offline announcement registered as the last will
// and published before a deliberate suspend.
func (s *Session) WillPayload() []byte {
	b, _, err := mqtt.Encode(mqtt.WillMessage{Host: s.cfg.Identity, Health: mqtt.HealthOffline}, s.cfg.MaxPayloadLen)
	if err != nil {
		// WillMessage holds two strings; Marshal cannot fail on it.
		panic(err)
	}
	return b
}

// Open performs the session handshake with a QoS 1 retained will on
// the will topic. Inbound publishes are delivered to onMessage from the
// transport's goroutine.
func (s *Session) Open(ctx context.Context, onMessage func(topic string, payload []byte)) error {
	if s.State() != Attached {
		return fmt.Errorf("open session in state %s: %w", s.State(), ErrNotReady)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	err := s.transport.Connect(ctx, mqtt.ConnectOptions{
		ClientID:   s.cfg.Identity,
		Username:   s.cfg.Username,
		Password:   s.cfg.Password,
		KeepAlive:  s.cfg.KeepAlive,
		CleanStart: s.cfg.CleanStart,
		Will: &mqtt.Will{
			Topic:   s.cfg.Topics.Will,
			Payload: s.WillPayload(),
			QoS:     1,
			Retain:  true,
		},
		OnMessage: onMessage,
	})
	if err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("open session: %w", err)
	}
	s.connected = true

	s.logger.Info("mqtt session opened",
		"client_id", s.cfg.Identity,
		"will_topic", s.cfg.Topics.Will,
		"clean_start", s.cfg.CleanStart,
	)
	return nil
}

// Subscribe subscribes to the control topic and, on success, moves the
// session to [MessagingReady].
func (s *Session) Subscribe(ctx context.Context) error {
	if !s.connected {
		return fmt.Errorf("subscribe: %w", ErrNotReady)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.transport.Subscribe(ctx, s.cfg.Topics.Command, 0); err != nil {
		s.fail(ctx)
		return fmt.Errorf("subscribe %s: %w", s.cfg.Topics.Command, err)
	}
	s.setState(MessagingReady)
	s.logger.Info("subscribed to control topic", "topic", s.cfg.Topics.Command)
	return nil
}

// Pump checks session health. Keep-alive and inbound delivery are
// driven by the client library; Pump surfaces any failure they hit.
// A failure is terminal.
func (s *Session) Pump() error {
	if s.State() != MessagingReady {
		return fmt.Errorf("pump: %w", ErrNotReady)
	}
	if err := s.transport.Err(); err != nil {
		s.connected = false
		s.setState(Disconnected)
		return fmt.Errorf("%w: %w", ErrPumpFailed, err)
	}
	return nil
}

// Publish sends payload to the status topic at QoS 0.
func (s *Session) Publish(ctx context.Context, payload []byte) error {
	return s.publish(ctx, s.cfg.Topics.Status, payload, 0, false)
}

// PublishMessage encodes v and publishes it to the status topic. The
// encoded payload is truncated to the payload limit.
func (s *Session) PublishMessage(ctx context.Context, v any) error {
	payload, truncated, err := mqtt.Encode(v, s.cfg.MaxPayloadLen)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	if truncated {
		s.logger.Warn("payload truncated", "type", fmt.Sprintf("%T", v), "limit", s.cfg.MaxPayloadLen)
	}
	return s.Publish(ctx, payload)
}

func (s *Session) publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if s.State() != MessagingReady {
		return fmt.Errorf("publish %s: %w", topic, ErrNotReady)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	if err := s.transport.Publish(ctx, topic, payload, qos, retain); err != nil {
		s.fail(ctx)
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	s.logger.Log(ctx, config.LevelTrace, "published",
		"topic", topic,
		"payload", string(payload),
		"retain", retain,
	)
	if s.cfg.Tap != nil {
		s.cfg.Tap(topic, payload)
	}
	return nil
}

// fail disconnects if still connected and drops to Disconnected.
func (s *Session) fail(ctx context.Context) {
	if s.connected {
		if err := s.transport.Disconnect(context.WithoutCancel(ctx)); err != nil {
			s.logger.Debug("disconnect after failure", "error", err)
		}
		s.connected = false
	}
	s.setState(Disconnected)
}

// Sleep announces Offline on the will topic (retained, so it replaces
// the Online view subscribers hold) and disconnects cleanly. The broker
// does not send the will after a clean disconnect, hence the explicit
// publish.
func (s *Session) Sleep(ctx context.Context) error {
	if s.State() != MessagingReady {
		return fmt.Errorf("sleep: %w", ErrNotReady)
	}
	if err := s.publish(ctx, s.cfg.Topics.Will, s.WillPayload(), 1, true); err != nil {
		return err
	}
	return s.Close(ctx)
}

// Close disconnects cleanly. It is safe to call in any state.
func (s *Session) Close(ctx context.Context) error {
	defer s.setState(Disconnected)
	if !s.connected {
		return nil
	}
	s.connected = false

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()
	if err := s.transport.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	s.logger.Info("mqtt session closed")
	return nil
}
