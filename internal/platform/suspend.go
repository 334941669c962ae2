package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// ExitRestart is the process exit status used when a restart cannot be
// performed in place. Service managers should restart on it.
const ExitRestart = 75

// Suspender puts the node into its low-power state for a duration.
// On return the caller re-enters boot.
type Suspender interface {
	Suspend(ctx context.Context, d time.Duration) error
}

// NewSuspender returns the Suspender for method ("sleep" or "rtcwake").
func NewSuspender(method string, logger *slog.Logger) (Suspender, error) {
	switch method {
	case "sleep":
		return idleSuspender{logger: logger}, nil
	case "rtcwake":
		return rtcwakeSuspender{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown suspend method %q", method)
	}
}

// idleSuspender waits in-process. The session is already closed and
// nothing else runs, which is as low-power as a process can get
// without system support.
type idleSuspender struct {
	logger *slog.Logger
}

func (s idleSuspender) Suspend(ctx context.Context, d time.Duration) error {
	s.logger.Info("suspending", "method", "sleep", "duration", d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rtcwakeSuspender suspends the whole system to RAM with an RTC alarm.
type rtcwakeSuspender struct {
	logger *slog.Logger
}

func (s rtcwakeSuspender) Suspend(ctx context.Context, d time.Duration) error {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	s.logger.Info("suspending", "method", "rtcwake", "seconds", secs)
	out, err := exec.CommandContext(ctx, "rtcwake", "-m", "mem", "-s", strconv.Itoa(secs)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("rtcwake: %w (%s)", err, out)
	}
	return nil
}
