// Package mqtt provides the messaging transports and payload formats
// used by the connectivity session.
//
// Two transports implement [Transport]: [V5Transport] speaks MQTT v5
// through Eclipse Paho's [paho] client, and [V3Transport] speaks MQTT
// 3.1.1 through paho.mqtt.golang for brokers and bridges that predate
// v5. Neither reconnects. Keep-alive runs inside the client library;
// a missed ping or a dropped socket is recorded and surfaced through
// [Transport.Err], and the session treats it as fatal.
//
// Every session advertises a retained will on the device's will topic
// so the broker announces the node as Offline if it vanishes.
package mqtt
