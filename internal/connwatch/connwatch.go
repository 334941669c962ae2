// Package connwatch waits for the node's network attachment at boot.
//
// Attachment is polled, not awaited on events: a probe runs at a fixed
// short interval until it succeeds or the attach timeout elapses. There
// is deliberately no backoff and no background re-probing. A node that
// fails to attach restarts, and a node that loses its link later finds
// out through the messaging session.
package connwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// ErrAttachTimeout is returned by [Attach] when the probe has not
// succeeded within the configured timeout.
var ErrAttachTimeout = errors.New("network attachment timed out")

// ProbeFunc checks whether the network is attached. Return nil if it is.
type ProbeFunc func(ctx context.Context) error

// AttachConfig configures a single attachment wait.
type AttachConfig struct {
	// Name identifies the probe in logs (e.g., "wlan0", "broker").
	Name string

	// Probe checks attachment. Required.
	Probe ProbeFunc

	// Timeout bounds the whole wait (default: 20s).
	Timeout time.Duration

	// PollInterval is the fixed delay between probes (default: 500ms).
	PollInterval time.Duration

	// ProbeTimeout limits each individual probe call (default: 2s).
	ProbeTimeout time.Duration

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Attach blocks until cfg.Probe succeeds, the timeout elapses, or ctx
// is cancelled. It is the only blocking wait the node performs, and it
// runs once per boot before any periodic work starts.
func Attach(ctx context.Context, cfg AttachConfig) error {
	if cfg.Probe == nil {
		panic("connwatch: AttachConfig.Probe must not be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deadline := time.Now().Add(cfg.Timeout)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = probe(waitCtx, cfg.Probe, cfg.ProbeTimeout)
		if lastErr == nil {
			logger.Info("network attached",
				"probe", cfg.Name,
				"attempts", attempt,
			)
			return nil
		}

		logger.Debug("network not attached yet",
			"probe", cfg.Name,
			"attempt", attempt,
			"error", lastErr,
		)

		if !sleepCtx(waitCtx, cfg.PollInterval) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w after %s (%s): %v", ErrAttachTimeout, cfg.Timeout, cfg.Name, lastErr)
}

// probe calls p with a per-call timeout.
func probe(ctx context.Context, p ProbeFunc, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p(probeCtx)
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// DialProbe reports attachment once a TCP connection to addr succeeds.
func DialProbe(addr string) ProbeFunc {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// InterfaceProbe reports attachment once the named interface is up and
// holds an IPv4 address that is not link-local.
func InterfaceProbe(name string) ProbeFunc {
	return func(ctx context.Context) error {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return err
		}
		if ifi.Flags&net.FlagUp == 0 {
			return fmt.Errorf("interface %s is down", name)
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			return fmt.Errorf("interface %s addresses: %w", name, err)
		}
		if !hasRoutableIPv4(addrs) {
			return fmt.Errorf("interface %s has no routable IPv4 address", name)
		}
		return nil
	}
}

func hasRoutableIPv4(addrs []net.Addr) bool {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return true
	}
	return false
}
