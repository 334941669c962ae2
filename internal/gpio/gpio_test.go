package gpio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeValue(t *testing.T, path, v string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(v), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPin_Read(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		activeLow bool
		want      bool
		wantErr   bool
	}{
		{"high", "1\n", false, true, false},
		{"low", "0\n", false, false, false},
		{"active low high", "1\n", true, false, false},
		{"active low low", "0", true, true, false},
		{"garbage", "x\n", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "value")
			writeValue(t, path, tt.raw)

			got, err := NewPin(path, tt.activeLow).Read()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Read() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Read() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPin_WriteThenRead(t *testing.T) {
	for _, activeLow := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "value")
		writeValue(t, path, "0")
		p := NewPin(path, activeLow)

		for _, want := range []bool{true, false, true} {
			if err := p.Write(want); err != nil {
				t.Fatalf("Write(%v) error = %v", want, err)
			}
			got, err := p.Read()
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got != want {
				t.Errorf("activeLow=%v: Read() = %v after Write(%v)", activeLow, got, want)
			}
		}
	}
}

func TestPin_WriteActiveLowPhysical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	p := NewPin(path, true)
	if err := p.Write(true); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "0" {
		t.Errorf("physical value = %q, want 0", b)
	}
}

func TestPin_Asserted(t *testing.T) {
	if NewPin(filepath.Join(t.TempDir(), "missing"), false).Asserted() {
		t.Error("missing pin reported asserted")
	}
}

func TestLatch(t *testing.T) {
	var l Latch
	if on, _ := l.Read(); on {
		t.Error("zero Latch reads on")
	}
	_ = l.Write(true)
	if on, _ := l.Read(); !on {
		t.Error("Latch did not hold written level")
	}
}

func TestADC_Read(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in_voltage0_raw")
	writeValue(t, path, "3072\n")

	got, err := NewADC(path, 1.0/1024).Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if math.Abs(got-3.0) > 1e-9 {
		t.Errorf("Read() = %v, want 3.0", got)
	}

	writeValue(t, path, "n/a")
	if _, err := NewADC(path, 1).Read(); err == nil {
		t.Error("Read() of garbage error = nil")
	}
}
