// Package command turns inbound control messages into actuator changes.
package command

import (
	"sync"
	"unicode/utf8"
)

// Mailbox size limits, matching the receive buffers of the original
// device. Longer topics and payloads are truncated, never grown.
const (
	MaxTopicLen   = 128
	MaxPayloadLen = 256
)

// Message is one inbound control message.
type Message struct {
	Topic   string
	Payload string
}

// Mailbox is a one-deep, lossy slot between the messaging transport
// and the supervisor. It is either empty or holds exactly one message.
// A Put before the previous message was taken overwrites it: commands
// are not queued. Put is called from the transport's goroutine; Take
// from the supervisor tick.
type Mailbox struct {
	mu      sync.Mutex
	msg     Message
	present bool
}

// Put stores a message, replacing any message not yet taken.
func (m *Mailbox) Put(topic string, payload []byte) {
	msg := Message{
		Topic:   truncate(topic, MaxTopicLen),
		Payload: truncate(string(payload), MaxPayloadLen),
	}
	m.mu.Lock()
	m.msg = msg
	m.present = true
	m.mu.Unlock()
}

// Take empties the slot and returns what it held.
func (m *Mailbox) Take() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return Message{}, false
	}
	msg := m.msg
	m.msg = Message{}
	m.present = false
	return msg, true
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
