// Package gpio reads and drives digital and analog lines through their
// Linux sysfs value files.
package gpio

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Pin is a digital line exposed as a sysfs "value" file
// (e.g. /sys/class/gpio/gpio17/value). The file reads "0" or "1".
// Read and Write work in logical levels: with ActiveLow, a logical
// true is a physical 0.
type Pin struct {
	path      string
	activeLow bool
}

// NewPin returns a pin backed by the value file at path.
func NewPin(path string, activeLow bool) *Pin {
	return &Pin{path: path, activeLow: activeLow}
}

// Read returns the current logical level, read from the line itself
// rather than remembered from the last Write.
func (p *Pin) Read() (bool, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return false, fmt.Errorf("read gpio %s: %w", p.path, err)
	}
	switch v := string(bytes.TrimSpace(b)); v {
	case "0":
		return p.activeLow, nil
	case "1":
		return !p.activeLow, nil
	default:
		return false, fmt.Errorf("read gpio %s: unexpected value %q", p.path, v)
	}
}

// Write drives the line to the logical level on.
func (p *Pin) Write(on bool) error {
	v := "0"
	if on != p.activeLow {
		v = "1"
	}
	if err := os.WriteFile(p.path, []byte(v), 0o644); err != nil {
		return fmt.Errorf("write gpio %s: %w", p.path, err)
	}
	return nil
}

// Asserted is Read with errors treated as deasserted.
func (p *Pin) Asserted() bool {
	on, err := p.Read()
	return err == nil && on
}

// Latch is a pin with no hardware behind it. It holds the last written
// level and is used when no actuator line is configured.
type Latch struct {
	mu sync.Mutex
	on bool
}

func (l *Latch) Read() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on, nil
}

func (l *Latch) Write(on bool) error {
	l.mu.Lock()
	l.on = on
	l.mu.Unlock()
	return nil
}

// ADC is an analog input exposed by the IIO subsystem as a raw count
// file (e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw).
type ADC struct {
	path  string
	scale float64
}

// NewADC returns an ADC whose raw counts are multiplied by scale
// (volts per count).
func NewADC(path string, scale float64) *ADC {
	return &ADC{path: path, scale: scale}
}

// Read returns the scaled value in volts.
func (a *ADC) Read() (float64, error) {
	b, err := os.ReadFile(a.path)
	if err != nil {
		return 0, fmt.Errorf("read adc %s: %w", a.path, err)
	}
	raw, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse adc %s: %w", a.path, err)
	}
	return float64(raw) * a.scale, nil
}
