package command

import (
	"log/slog"
)

// Actuator is the physical output driven by commands. Read returns the
// true pin level, which may differ from the last value written if
// something else changed it.
type Actuator interface {
	Read() (bool, error)
	Write(on bool) error
}

// State is the actuator state as last read back from the pin.
type State bool

const (
	Off State = false
	On  State = true
)

func (s State) String() string {
	if s {
		return "ON"
	}
	return "OFF"
}

// Command vocabulary. Matching is exact and case-sensitive.
const (
	CmdOn     = "ON"
	CmdOff    = "OFF"
	CmdToggle = "TOGGLE"
)

// Router applies control messages to the actuator.
type Router struct {
	topic    string
	actuator Actuator
	logger   *slog.Logger
	state    State
}

// NewRouter creates a router that accepts messages on controlTopic.
func NewRouter(controlTopic string, actuator Actuator, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{topic: controlTopic, actuator: actuator, logger: logger}
	r.Refresh()
	return r
}

// Drain takes the pending message, if any, and handles it. It returns
// true whenever a message was present, matched or not; the caller then
// publishes status out of band. Messages on foreign topics and unknown
// payloads are dropped without error.
func (r *Router) Drain(mb *Mailbox) bool {
	msg, ok := mb.Take()
	if !ok {
		return false
	}

	if msg.Topic != r.topic {
		r.logger.Debug("ignoring message on foreign topic", "topic", msg.Topic)
	} else {
		r.Dispatch(msg.Payload)
	}
	r.Refresh()
	return true
}

// Dispatch applies one command payload.
func (r *Router) Dispatch(payload string) {
	switch payload {
	case CmdOn:
		r.write(true)
	case CmdOff:
		r.write(false)
	case CmdToggle:
		cur, err := r.actuator.Read()
		if err != nil {
			r.logger.Warn("actuator read failed, toggle skipped", "error", err)
			return
		}
		r.write(!cur)
	default:
		r.logger.Debug("ignoring unknown command", "payload", payload)
		return
	}
	r.logger.Info("command applied", "command", payload)
}

// Refresh re-reads the pin into the cached state and returns it. On a
// read error the previous state is kept.
func (r *Router) Refresh() State {
	on, err := r.actuator.Read()
	if err != nil {
		r.logger.Warn("actuator read failed", "error", err)
		return r.state
	}
	r.state = State(on)
	return r.state
}

// State returns the state from the most recent read-back.
func (r *Router) State() State {
	return r.state
}

func (r *Router) write(on bool) {
	if err := r.actuator.Write(on); err != nil {
		r.logger.Warn("actuator write failed", "on", on, "error", err)
	}
}
