package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("mqtt:\n  broker: mqtt://broker:1883\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: debug\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  broker: mqtt://10.0.0.5:1883\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.MQTT.Broker != "mqtt://10.0.0.5:1883" {
		t.Errorf("Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.TopicPreamble != "MyIoT/" {
		t.Errorf("TopicPreamble = %q, want MyIoT/", cfg.MQTT.TopicPreamble)
	}
	if cfg.MQTT.KeepAlive != 15*time.Second {
		t.Errorf("KeepAlive = %v, want 15s", cfg.MQTT.KeepAlive)
	}
	if cfg.Intervals.Status != 30*time.Second {
		t.Errorf("Intervals.Status = %v, want 30s", cfg.Intervals.Status)
	}
	if cfg.Node.HostPrefix != "ESP_" {
		t.Errorf("HostPrefix = %q, want ESP_", cfg.Node.HostPrefix)
	}
	if cfg.Sensors.W1Dir != "/sys/bus/w1/devices" {
		t.Errorf("Sensors.W1Dir = %q, want the w1 sysfs bus", cfg.Sensors.W1Dir)
	}
	if !cfg.MQTT.IsCleanStart() {
		t.Error("IsCleanStart() = false, want true by default")
	}
	if !cfg.Sleep.IsAlwaysAwake() {
		t.Error("IsAlwaysAwake() = false, want true by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestLoad_Durations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "intervals:\n  sample: 2s\n  status: 1m\nsleep:\n  duration: 90s\n  always_awake: false\nmqtt:\n  clean_start: false\n"
	os.WriteFile(path, []byte(yaml), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Intervals.Sample != 2*time.Second {
		t.Errorf("Sample = %v, want 2s", cfg.Intervals.Sample)
	}
	if cfg.Intervals.Status != time.Minute {
		t.Errorf("Status = %v, want 1m", cfg.Intervals.Status)
	}
	if cfg.Sleep.Duration != 90*time.Second {
		t.Errorf("Sleep.Duration = %v, want 90s", cfg.Sleep.Duration)
	}
	if cfg.Sleep.IsAlwaysAwake() {
		t.Error("IsAlwaysAwake() = true, want false")
	}
	if cfg.MQTT.IsCleanStart() {
		t.Error("IsCleanStart() = true, want false")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  password: ${THERMONODE_TEST_PW}\n"), 0600)
	t.Setenv("THERMONODE_TEST_PW", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.MQTT.Password, "secret123")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"v3 protocol", func(c *Config) { c.MQTT.Protocol = "3.1.1" }, ""},
		{"bad protocol", func(c *Config) { c.MQTT.Protocol = "4" }, "mqtt.protocol"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"broker without scheme", func(c *Config) { c.MQTT.Broker = "localhost:1883" }, "scheme"},
		{"interface probe without interface", func(c *Config) { c.Network.Probe = "interface" }, "node.interface"},
		{"bad probe", func(c *Config) { c.Network.Probe = "ping" }, "network.probe"},
		{"bad sleep method", func(c *Config) { c.Sleep.Method = "hibernate" }, "sleep.method"},
		{"status shorter than tick", func(c *Config) {
			c.Intervals.Status = time.Millisecond
			c.Intervals.Tick = time.Second
		}, "intervals.status"},
		{"topic fits exactly", func(c *Config) { c.MQTT.TopicPreamble = strings.Repeat("p", 40-len("ESP_A1B2C3/status")) }, ""},
		{"preamble overflows topic", func(c *Config) { c.MQTT.TopicPreamble = "home/sensors/basement/thermostats/" }, "max_topic_len"},
		{"host prefix overflows topic", func(c *Config) {
			c.MQTT.MaxTopicLen = 20
			c.Node.HostPrefix = "NODE_"
		}, "max_topic_len"},
		{"too many sensors", func(c *Config) { c.Sensors.MaxDevices = 64 }, "max_devices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{" trace ", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "wire")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected level=TRACE in output, got: %s", buf.String())
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")
	logger.Info("hello", "k", "v")

	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected JSON output, got: %s", buf.String())
	}
}
