// Package supervisor runs the node's cooperative loop.
//
// One goroutine owns every component. Each [Supervisor.Tick] does a
// short, bounded amount of work in a fixed order: poll the remain-awake
// input, pump the update service, pump the messaging session, handle a
// pending command, sample sensors, publish when due, and finally decide
// whether to suspend. Fatal faults are not retried; the tick returns
// [OutcomeRestart] and the caller replaces the process.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/thermonode/internal/command"
	"github.com/nugget/thermonode/internal/mqtt"
	"github.com/nugget/thermonode/internal/platform"
	"github.com/nugget/thermonode/internal/scratch"
	"github.com/nugget/thermonode/internal/session"
	"github.com/nugget/thermonode/internal/telemetry"
)

// Outcome is what the caller must do after Boot, Tick or Run returns.
type Outcome int

const (
	// OutcomeContinue means call Tick again.
	OutcomeContinue Outcome = iota
	// OutcomeRestart means re-execute the process. The store has been
	// flushed with the restart marker.
	OutcomeRestart
	// OutcomeSuspend means enter low-power suspend, then re-execute.
	// The store has been flushed with the suspend marker and the
	// session closed.
	OutcomeSuspend
	// OutcomeShutdown means exit. The context was cancelled.
	OutcomeShutdown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeRestart:
		return "restart"
	case OutcomeSuspend:
		return "suspend"
	case OutcomeShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// State is the loop's lifecycle position. Restarting and Suspending are
// terminal for the process instance.
type State int

const (
	Booting State = iota
	Attaching
	SessionOpening
	Running
	Restarting
	Suspending
)

func (s State) String() string {
	switch s {
	case Booting:
		return "booting"
	case Attaching:
		return "attaching"
	case SessionOpening:
		return "session_opening"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case Suspending:
		return "suspending"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the connectivity session as the loop uses it.
type Session interface {
	Attach(ctx context.Context) error
	Open(ctx context.Context, onMessage func(topic string, payload []byte)) error
	Subscribe(ctx context.Context) error
	Pump() error
	PublishMessage(ctx context.Context, v any) error
	Sleep(ctx context.Context) error
	Close(ctx context.Context) error
	Health() string
}

var _ Session = (*session.Session)(nil)

// UpdateService is the firmware update hook pumped every tick.
type UpdateService interface {
	// Pump reports whether an update was installed.
	Pump() bool
	// Installing reports whether an update is in flight.
	Installing() bool
}

// Deps are the supervisor's collaborators, built once at boot.
type Deps struct {
	Identity string
	Version  string

	// Fresh reports whether the scratch region was newly created.
	Fresh bool
	// BootTime is when the process image started; run time is counted
	// from here. Zero means the start of Boot.
	BootTime time.Time
	Store    *scratch.Store

	Session Session
	Mailbox *command.Mailbox
	Router  *command.Router
	Sampler *telemetry.Sampler

	// Update may be nil when the update service is disabled.
	Update UpdateService

	// Awake reads the remain-awake input. Nil means never inhibited,
	// so the node suspends at the end of every tick.
	Awake func() bool
	// Signal returns the signal quality for status messages.
	Signal func() int

	StatusInterval time.Duration
	// TickInterval is the yield between iterations in Run.
	TickInterval time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Supervisor is the cooperative loop.
type Supervisor struct {
	d      Deps
	logger *slog.Logger

	state     State
	cause     platform.ResetCause
	published bool
	lastStat  time.Time
}

// New creates a supervisor in [Booting] state.
func New(d Deps) *Supervisor {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Signal == nil {
		d.Signal = func() int { return 0 }
	}
	if d.TickInterval <= 0 {
		d.TickInterval = 10 * time.Millisecond
	}
	return &Supervisor{d: d, logger: d.Logger}
}

// State returns the lifecycle state.
func (s *Supervisor) State() State { return s.state }

// ResetCause returns the classification made at boot.
func (s *Supervisor) ResetCause() platform.ResetCause { return s.cause }

func (s *Supervisor) setState(st State) {
	s.logger.Debug("supervisor state", "from", s.state, "to", st)
	s.state = st
}

// Boot restores the scratch counters, waits for the network and opens
// the messaging session. Any failure is fatal.
func (s *Supervisor) Boot(ctx context.Context) Outcome {
	s.setState(Booting)
	start := s.d.BootTime
	if start.IsZero() {
		start = s.d.Now()
	}
	s.cause = s.d.Store.Boot(s.d.Fresh, start)

	s.setState(Attaching)
	if err := s.d.Session.Attach(ctx); err != nil {
		return s.fail(ctx, "network attachment failed", err)
	}

	s.setState(SessionOpening)
	if err := s.d.Session.Open(ctx, s.d.Mailbox.Put); err != nil {
		return s.fail(ctx, "session open failed", err)
	}
	if err := s.d.Session.Subscribe(ctx); err != nil {
		return s.fail(ctx, "subscribe failed", err)
	}

	s.setState(Running)
	s.logger.Info("supervisor running",
		"host", s.d.Identity,
		"reset_cause", s.cause.String(),
		"run_time_ms", s.d.Store.RunTime(),
	)
	return OutcomeContinue
}

// Tick runs one loop iteration at now.
func (s *Supervisor) Tick(ctx context.Context, now time.Time) Outcome {
	// The input is sampled first but only consulted at the end.
	awake := s.d.Awake != nil && s.d.Awake()

	installing := false
	if s.d.Update != nil {
		if s.d.Update.Pump() {
			s.logger.Info("update installed, restarting")
			return s.restart("update installed")
		}
		installing = s.d.Update.Installing()
	}

	if !installing {
		if err := s.d.Session.Pump(); err != nil {
			return s.fail(ctx, "session lost", err)
		}

		if s.d.Router.Drain(s.d.Mailbox) {
			if err := s.publishStatus(ctx); err != nil {
				return s.fail(ctx, "status publish failed", err)
			}
		}

		s.d.Sampler.Tick(now)

		if !s.published || now.Sub(s.lastStat) >= s.d.StatusInterval {
			if err := s.publishStatus(ctx); err != nil {
				return s.fail(ctx, "status publish failed", err)
			}
			if err := s.publishTelemetry(ctx); err != nil {
				return s.fail(ctx, "telemetry publish failed", err)
			}
			s.published = true
			s.lastStat = now
		}
	}

	// An in-flight update holds the node awake.
	if !awake && !installing {
		return s.suspend(ctx, now)
	}
	return OutcomeContinue
}

// Run boots and then ticks until an outcome other than
// [OutcomeContinue] occurs or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) Outcome {
	if out := s.Boot(ctx); out != OutcomeContinue {
		return out
	}

	t := time.NewTicker(s.d.TickInterval)
	defer t.Stop()
	for {
		if out := s.Tick(ctx, s.d.Now()); out != OutcomeContinue {
			return out
		}
		select {
		case <-ctx.Done():
			return s.shutdown(ctx)
		case <-t.C:
		}
	}
}

func (s *Supervisor) publishStatus(ctx context.Context) error {
	msg := mqtt.StatusMessage{
		Host:     s.d.Identity,
		Version:  s.d.Version,
		Seq:      s.d.Store.NextSequence(),
		Health:   s.d.Session.Health(),
		RSSI:     s.d.Signal(),
		Actuator: s.d.Router.Refresh().String(),
	}
	return s.d.Session.PublishMessage(ctx, msg)
}

// publishTelemetry sends one message per device. The run time carried
// into this boot rides on the last device's message and is then
// cleared, so it is reported once.
func (s *Supervisor) publishTelemetry(ctx context.Context) error {
	readings := s.d.Sampler.Readings()
	vcc := s.d.Sampler.Supply()
	for i, r := range readings {
		msg := mqtt.TelemetryMessage{
			Host:   s.d.Identity,
			Sensor: i,
			TempC:  r.TempC,
			TempF:  r.TempF,
			Valid:  r.Valid,
			Supply: vcc,
		}
		if i == len(readings)-1 {
			msg.RunTimeMS = s.d.Store.Unreported()
		}
		if err := s.d.Session.PublishMessage(ctx, msg); err != nil {
			return err
		}
		if i == len(readings)-1 {
			s.d.Store.TakeUnreported()
		}
	}
	return nil
}

// fail handles a fatal fault. A fault caused by cancellation is a
// shutdown, not a restart.
func (s *Supervisor) fail(ctx context.Context, reason string, err error) Outcome {
	if ctx.Err() != nil {
		return s.shutdown(ctx)
	}
	s.logger.Error(reason, "error", err)
	return s.restart(reason)
}

func (s *Supervisor) restart(reason string) Outcome {
	s.setState(Restarting)
	total := s.d.Store.Flush(s.d.Now(), platform.MarkerRestart)
	s.logger.Warn("restarting", "reason", reason, "run_time_ms", total)
	return OutcomeRestart
}

func (s *Supervisor) suspend(ctx context.Context, now time.Time) Outcome {
	s.setState(Suspending)
	total := s.d.Store.Flush(now, platform.MarkerSuspend)
	if err := s.d.Session.Sleep(ctx); err != nil {
		s.logger.Warn("offline announcement failed", "error", err)
	}
	s.logger.Info("suspending", "run_time_ms", total)
	return OutcomeSuspend
}

// shutdown is an operator stop, not a fault. The marker stays None so
// the next start is classified as an external reset.
func (s *Supervisor) shutdown(ctx context.Context) Outcome {
	total := s.d.Store.Flush(s.d.Now(), platform.MarkerNone)
	if err := s.d.Session.Close(context.WithoutCancel(ctx)); err != nil {
		s.logger.Debug("session close on shutdown", "error", err)
	}
	s.logger.Info("supervisor stopped", "run_time_ms", total)
	return OutcomeShutdown
}
