package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/eclipse/paho.golang/paho"
)

// V5Transport is an MQTT v5 session over a single paho.Client.
type V5Transport struct {
	broker *url.URL
	logger *slog.Logger
	client *paho.Client
	failed failure
}

// NewV5Transport creates an unconnected v5 transport for broker.
func NewV5Transport(broker *url.URL, logger *slog.Logger) *V5Transport {
	return &V5Transport{broker: broker, logger: logger}
}

// Connect dials the broker and performs the CONNECT handshake.
func (t *V5Transport) Connect(ctx context.Context, opts ConnectOptions) error {
	conn, err := dial(ctx, t.broker)
	if err != nil {
		return fmt.Errorf("dial %s: %w", BrokerAddr(t.broker), err)
	}

	onMessage := opts.OnMessage
	t.client = paho.NewClient(paho.ClientConfig{
		ClientID: opts.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if onMessage != nil {
					onMessage(pr.Packet.Topic, pr.Packet.Payload)
				}
				return true, nil
			},
		},
		OnClientError: func(err error) {
			if t.failed.set(err) {
				t.logger.Warn("mqtt client error", "error", err)
			}
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			err := fmt.Errorf("server disconnect: reason code %d", d.ReasonCode)
			if t.failed.set(err) {
				t.logger.Warn("mqtt server disconnected session", "reason_code", d.ReasonCode)
			}
		},
	})

	cp := &paho.Connect{
		ClientID:     opts.ClientID,
		KeepAlive:    uint16(opts.KeepAlive.Seconds()),
		CleanStart:   opts.CleanStart,
		Username:     opts.Username,
		UsernameFlag: opts.Username != "",
		Password:     []byte(opts.Password),
		PasswordFlag: opts.Password != "",
	}
	if opts.Will != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   opts.Will.Topic,
			Payload: opts.Will.Payload,
			QoS:     opts.Will.QoS,
			Retain:  opts.Will.Retain,
		}
	}

	ca, err := t.client.Connect(ctx, cp)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if ca.ReasonCode >= 0x80 {
		conn.Close()
		return fmt.Errorf("mqtt connect refused: reason code %d", ca.ReasonCode)
	}
	return nil
}

// Subscribe subscribes to a single topic filter.
func (t *V5Transport) Subscribe(ctx context.Context, topic string, qos byte) error {
	if t.client == nil {
		return errors.New("mqtt transport not connected")
	}
	sa, err := t.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if len(sa.Reasons) > 0 && sa.Reasons[0] >= 0x80 {
		return fmt.Errorf("subscribe %s refused: reason code %d", topic, sa.Reasons[0])
	}
	return nil
}

// Publish sends one message and waits for the acknowledgement its QoS
// requires.
func (t *V5Transport) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if t.client == nil {
		return errors.New("mqtt transport not connected")
	}
	if _, err := t.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Err reports the first fatal client error, if any.
func (t *V5Transport) Err() error {
	if t.client == nil {
		return errors.New("mqtt transport not connected")
	}
	return t.failed.get()
}

// Disconnect sends DISCONNECT (normal disconnection, so the broker
// discards the will) and closes the connection.
func (t *V5Transport) Disconnect(ctx context.Context) error {
	if t.client == nil {
		return nil
	}
	return t.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
