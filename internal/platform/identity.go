package platform

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Identity returns the device identity: prefix followed by the last
// three bytes of the hardware address in upper-case hex
// (e.g. "ESP_A1B2C3"). iface selects the interface; empty picks the
// first non-loopback interface with a 6-byte address. When no hardware
// address is available a persisted instance ID from dataDir supplies
// the suffix instead.
func Identity(prefix, iface, dataDir string) (string, error) {
	mac, err := hardwareAddr(iface)
	if err == nil {
		return FormatIdentity(prefix, mac), nil
	}

	id, idErr := LoadOrCreateInstanceID(dataDir)
	if idErr != nil {
		return "", fmt.Errorf("no hardware address (%v) and no instance ID: %w", err, idErr)
	}
	return FormatIdentity(prefix, net.HardwareAddr(id[len(id)-3:])), nil
}

// FormatIdentity formats prefix plus the last three bytes of mac.
func FormatIdentity(prefix string, mac net.HardwareAddr) string {
	if len(mac) < 3 {
		return prefix
	}
	tail := mac[len(mac)-3:]
	return fmt.Sprintf("%s%02X%02X%02X", prefix, tail[0], tail[1], tail[2])
}

func hardwareAddr(name string) (net.HardwareAddr, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", name, err)
		}
		if len(ifi.HardwareAddr) != 6 {
			return nil, fmt.Errorf("interface %s has no hardware address", name)
		}
		return ifi.HardwareAddr, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback != 0 || len(ifi.HardwareAddr) != 6 {
			continue
		}
		return ifi.HardwareAddr, nil
	}
	return nil, errors.New("no interface with a hardware address")
}

// LoadOrCreateInstanceID reads the instance ID from a file in dataDir,
// or generates a new UUIDv7 and persists it if the file is missing or
// does not hold a UUID.
func LoadOrCreateInstanceID(dataDir string) (uuid.UUID, error) {
	path := filepath.Join(dataDir, "instance_id")

	data, err := os.ReadFile(path)
	if err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate instance ID: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return uuid.Nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0644); err != nil {
		return uuid.Nil, fmt.Errorf("persist instance ID to %s: %w", path, err)
	}

	return id, nil
}
