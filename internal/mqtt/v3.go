package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	pahov3 "github.com/eclipse/paho.mqtt.golang"
)

// V3Transport is an MQTT 3.1.1 session over paho.mqtt.golang with
// automatic reconnection disabled.
type V3Transport struct {
	broker *url.URL
	logger *slog.Logger
	client pahov3.Client
	failed failure
}

// NewV3Transport creates an unconnected 3.1.1 transport for broker.
func NewV3Transport(broker *url.URL, logger *slog.Logger) *V3Transport {
	return &V3Transport{broker: broker, logger: logger}
}

// v3BrokerURL rewrites the scheme to one paho.mqtt.golang dials.
func v3BrokerURL(u *url.URL) string {
	scheme := "tcp"
	if isTLS(u) {
		scheme = "ssl"
	}
	return scheme + "://" + BrokerAddr(u)
}

// Connect performs the CONNECT handshake.
func (t *V3Transport) Connect(ctx context.Context, opts ConnectOptions) error {
	onMessage := opts.OnMessage

	co := pahov3.NewClientOptions().
		AddBroker(v3BrokerURL(t.broker)).
		SetClientID(opts.ClientID).
		SetProtocolVersion(4).
		SetCleanSession(opts.CleanStart).
		SetKeepAlive(opts.KeepAlive).
		SetPingTimeout(opts.KeepAlive).
		SetOrderMatters(false).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetDefaultPublishHandler(func(_ pahov3.Client, m pahov3.Message) {
			if onMessage != nil {
				onMessage(m.Topic(), m.Payload())
			}
		}).
		SetConnectionLostHandler(func(_ pahov3.Client, err error) {
			if t.failed.set(fmt.Errorf("connection lost: %w", err)) {
				t.logger.Warn("mqtt connection lost", "error", err)
			}
		})

	if deadline, ok := ctx.Deadline(); ok {
		co.SetConnectTimeout(timeUntil(deadline))
	}
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	if opts.Will != nil {
		co.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.Will.QoS, opts.Will.Retain)
	}

	t.client = pahov3.NewClient(co)
	if err := waitToken(ctx, t.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Subscribe subscribes to a single topic; inbound messages go to the
// default publish handler registered at connect.
func (t *V3Transport) Subscribe(ctx context.Context, topic string, qos byte) error {
	if t.client == nil {
		return errors.New("mqtt transport not connected")
	}
	tok := t.client.Subscribe(topic, qos, nil)
	if err := waitToken(ctx, tok); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if st, ok := tok.(*pahov3.SubscribeToken); ok {
		if granted, ok := st.Result()[topic]; ok && granted >= 0x80 {
			return fmt.Errorf("subscribe %s refused by broker", topic)
		}
	}
	return nil
}

// Publish sends one message.
func (t *V3Transport) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if t.client == nil {
		return errors.New("mqtt transport not connected")
	}
	if err := waitToken(ctx, t.client.Publish(topic, qos, retain, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Err reports connection loss.
func (t *V3Transport) Err() error {
	if t.client == nil {
		return errors.New("mqtt transport not connected")
	}
	if err := t.failed.get(); err != nil {
		return err
	}
	if !t.client.IsConnectionOpen() {
		return errors.New("mqtt connection closed")
	}
	return nil
}

// Disconnect closes the session cleanly, waiting up to 250ms for
// in-flight work.
func (t *V3Transport) Disconnect(ctx context.Context) error {
	if t.client == nil {
		return nil
	}
	t.client.Disconnect(250)
	return nil
}

func waitToken(ctx context.Context, tok pahov3.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func timeUntil(t time.Time) time.Duration {
	d := time.Until(t)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
