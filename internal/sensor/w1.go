// Package sensor reads DS18B20 temperature sensors through the Linux
// 1-Wire sysfs bus.
package sensor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultW1Dir is where the w1 bus master exposes its slaves.
const DefaultW1Dir = "/sys/bus/w1/devices"

// DS18B20 family code prefix in the slave directory name.
const familyDS18B20 = "28-"

// DisconnectedC is the value a DS18B20 driver reports for a device
// that stopped answering.
const DisconnectedC = -127.0

// ErrDisconnected is returned by Sample when a device reports the
// disconnected value or fails its CRC.
var ErrDisconnected = errors.New("sensor disconnected")

// W1Device is one DS18B20 on the bus.
type W1Device struct {
	ID   string
	path string
}

// Discover lists the DS18B20 devices under dir in ID order, so device
// indices are stable across boots as long as the bus population is.
func Discover(dir string) ([]*W1Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan w1 bus %s: %w", dir, err)
	}

	var devs []*W1Device
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), familyDS18B20) {
			continue
		}
		devs = append(devs, &W1Device{
			ID:   e.Name(),
			path: filepath.Join(dir, e.Name(), "w1_slave"),
		})
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	return devs, nil
}

// Sample performs one synchronous conversion and returns degrees
// Celsius. The kernel driver bounds the conversion time; there is no
// timeout here.
func (d *W1Device) Sample() (float64, error) {
	b, err := os.ReadFile(d.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", d.ID, err)
	}
	c, err := parseW1Slave(string(b))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", d.ID, err)
	}
	return c, nil
}

// parseW1Slave decodes the driver's two-line output:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(s string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("short w1_slave output: %w", ErrDisconnected)
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("crc check failed: %w", ErrDisconnected)
	}

	_, raw, ok := strings.Cut(lines[1], "t=")
	if !ok {
		return 0, fmt.Errorf("no temperature field: %w", ErrDisconnected)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse temperature %q: %w", raw, err)
	}

	c := float64(milli) / 1000
	if c <= DisconnectedC {
		return 0, ErrDisconnected
	}
	return c, nil
}
