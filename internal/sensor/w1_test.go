package sensor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const goodReading = "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"

func addDevice(t *testing.T, dir, id, content string) {
	t.Helper()
	d := filepath.Join(dir, id)
	if err := os.MkdirAll(d, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(d, "w1_slave"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseW1Slave(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    float64
		wantErr error
	}{
		{"valid", goodReading, 23.125, nil},
		{"negative", "aa : crc=aa YES\naa t=-10500\n", -10.5, nil},
		{"crc fail", "aa : crc=aa NO\naa t=23125\n", 0, ErrDisconnected},
		{"disconnected", "aa : crc=aa YES\naa t=-127000\n", 0, ErrDisconnected},
		{"short", "aa : crc=aa YES\n", 0, ErrDisconnected},
		{"no t field", "aa : crc=aa YES\naa\n", 0, ErrDisconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseW1Slave(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("parseW1Slave() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseW1Slave() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseW1Slave() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	addDevice(t, dir, "28-0000000000bb", goodReading)
	addDevice(t, dir, "28-0000000000aa", goodReading)
	if err := os.MkdirAll(filepath.Join(dir, "w1_bus_master1"), 0o755); err != nil {
		t.Fatal(err)
	}

	devs, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("Discover() found %d devices, want 2", len(devs))
	}
	if devs[0].ID != "28-0000000000aa" || devs[1].ID != "28-0000000000bb" {
		t.Errorf("order = %s, %s", devs[0].ID, devs[1].ID)
	}

	c, err := devs[0].Sample()
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if c != 23.125 {
		t.Errorf("Sample() = %v, want 23.125", c)
	}
}

func TestDiscover_MissingBus(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Discover() on missing dir error = nil")
	}
}

func TestSample_DeviceRemoved(t *testing.T) {
	dir := t.TempDir()
	addDevice(t, dir, "28-0000000000aa", goodReading)
	devs, _ := Discover(dir)
	if err := os.RemoveAll(filepath.Join(dir, "28-0000000000aa")); err != nil {
		t.Fatal(err)
	}
	if _, err := devs[0].Sample(); err == nil {
		t.Error("Sample() of removed device error = nil")
	}
}
