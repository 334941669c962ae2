package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestAttach_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32

	err := Attach(context.Background(), AttachConfig{
		Name:         "test-immediate",
		Probe:        func(ctx context.Context) error { calls.Add(1); return nil },
		Timeout:      100 * time.Millisecond,
		PollInterval: time.Millisecond,
		Logger:       slog.Default(),
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("probe called %d times, want 1", calls.Load())
	}
}

func TestAttach_PollsUntilAttached(t *testing.T) {
	t.Parallel()
	errDown := errors.New("no carrier")
	var attempts atomic.Int32

	err := Attach(context.Background(), AttachConfig{
		Name: "test-poll",
		Probe: func(ctx context.Context) error {
			if attempts.Add(1) <= 3 {
				return errDown
			}
			return nil
		},
		Timeout:      time.Second,
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if n := attempts.Load(); n != 4 {
		t.Errorf("attempts = %d, want 4", n)
	}
}

func TestAttach_TimesOut(t *testing.T) {
	t.Parallel()
	errDown := errors.New("always down")

	start := time.Now()
	err := Attach(context.Background(), AttachConfig{
		Name:         "test-timeout",
		Probe:        func(ctx context.Context) error { return errDown },
		Timeout:      30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	if !errors.Is(err, ErrAttachTimeout) {
		t.Fatalf("Attach() error = %v, want ErrAttachTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Attach() took %v, should stop near the timeout", elapsed)
	}
}

func TestAttach_ContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Attach(ctx, AttachConfig{
		Name:    "test-cancel",
		Probe:   func(ctx context.Context) error { return errors.New("down") },
		Timeout: time.Second,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Attach() error = %v, want context.Canceled", err)
	}
}

func TestAttach_NilProbePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil Probe")
		}
	}()
	Attach(context.Background(), AttachConfig{Name: "nil"})
}

func TestDialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	if err := DialProbe(addr)(context.Background()); err != nil {
		t.Errorf("DialProbe(listening) error = %v", err)
	}

	ln.Close()
	if err := DialProbe(addr)(context.Background()); err == nil {
		t.Error("DialProbe(closed) should error")
	}
}

func TestHasRoutableIPv4(t *testing.T) {
	mk := func(s string) net.Addr {
		ip, ipnet, _ := net.ParseCIDR(s)
		ipnet.IP = ip
		return ipnet
	}
	tests := []struct {
		name  string
		addrs []net.Addr
		want  bool
	}{
		{"none", nil, false},
		{"loopback", []net.Addr{mk("127.0.0.1/8")}, false},
		{"link local", []net.Addr{mk("169.254.3.4/16")}, false},
		{"ipv6 only", []net.Addr{mk("fe80::1/64")}, false},
		{"dhcp lease", []net.Addr{mk("fe80::1/64"), mk("192.168.1.40/24")}, true},
	}
	for _, tt := range tests {
		if got := hasRoutableIPv4(tt.addrs); got != tt.want {
			t.Errorf("%s: hasRoutableIPv4() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInterfaceProbe_Unknown(t *testing.T) {
	if err := InterfaceProbe("nonexistent-if0")(context.Background()); err == nil {
		t.Error("InterfaceProbe(unknown) should error")
	}
}
