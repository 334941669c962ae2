// Package config handles thermonode configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nugget/thermonode/internal/sensor"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/thermonode/config.yaml, /etc/thermonode/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "thermonode", "config.yaml"))
	}

	paths = append(paths, "/etc/thermonode/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all thermonode configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Network   NetworkConfig   `yaml:"network"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Intervals IntervalsConfig `yaml:"intervals"`
	Sleep     SleepConfig     `yaml:"sleep"`
	Scratch   ScratchConfig   `yaml:"scratch"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Supply    SupplyConfig    `yaml:"supply"`
	OTA       OTAConfig       `yaml:"ota"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text (default) or json
}

// NodeConfig controls how the device names itself.
type NodeConfig struct {
	// HostPrefix is prepended to the hardware address suffix to form
	// the device identity (default "ESP_").
	HostPrefix string `yaml:"host_prefix"`
	// Interface is the network interface whose MAC address supplies
	// the identity suffix and whose link is probed during attachment.
	// Empty selects the first non-loopback interface.
	Interface string `yaml:"interface"`
	// DataDir holds the fallback instance ID used when no hardware
	// address is available.
	DataDir string `yaml:"data_dir"`
}

// NetworkConfig controls the boot-time network attachment wait.
type NetworkConfig struct {
	// Probe selects how attachment is detected: "interface" (the
	// interface has a routable IPv4 address) or "dial" (the broker
	// accepts a TCP connection).
	Probe         string        `yaml:"probe"`
	AttachTimeout time.Duration `yaml:"attach_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// MQTTConfig defines the messaging session.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Protocol is "5" (paho.golang) or "3.1.1" (paho.mqtt.golang).
	Protocol       string        `yaml:"protocol"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	TopicPreamble  string        `yaml:"topic_preamble"`
	CleanStart     *bool         `yaml:"clean_start"`
	MaxTopicLen    int           `yaml:"max_topic_len"`
	MaxPayloadLen  int           `yaml:"max_payload_len"`
}

// IsCleanStart reports the effective clean-start flag (default true).
func (m MQTTConfig) IsCleanStart() bool {
	return m.CleanStart == nil || *m.CleanStart
}

// IntervalsConfig defines the supervisor cadences.
type IntervalsConfig struct {
	Sample time.Duration `yaml:"sample"`
	Status time.Duration `yaml:"status"`
	// Tick is the yield between supervisor iterations.
	Tick time.Duration `yaml:"tick"`
}

// SleepConfig defines the low-power suspend policy.
type SleepConfig struct {
	// InhibitPin is the sysfs GPIO value file of the remain-awake
	// input. When empty, AlwaysAwake decides.
	InhibitPin       string `yaml:"inhibit_pin"`
	InhibitActiveLow bool   `yaml:"inhibit_active_low"`
	// AlwaysAwake is used only when no inhibit pin is configured.
	AlwaysAwake *bool         `yaml:"always_awake"`
	Duration    time.Duration `yaml:"duration"`
	// Method is "sleep" (idle in-process) or "rtcwake" (system suspend).
	Method string `yaml:"method"`
}

// IsAlwaysAwake reports the effective always-awake flag (default true).
func (s SleepConfig) IsAlwaysAwake() bool {
	return s.AlwaysAwake == nil || *s.AlwaysAwake
}

// ScratchConfig locates the scratch region. It should live on a
// filesystem that is cleared on power loss (tmpfs) so that a fresh
// region identifies a cold power-on.
type ScratchConfig struct {
	Path string `yaml:"path"`
}

// SensorsConfig defines the 1-Wire temperature sensor set.
type SensorsConfig struct {
	W1Dir      string `yaml:"w1_dir"`
	MaxDevices int    `yaml:"max_devices"`
}

// ActuatorConfig defines the actuator output.
type ActuatorConfig struct {
	Pin       string `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`
}

// SupplyConfig defines the analog supply-voltage input.
type SupplyConfig struct {
	ADCPath string  `yaml:"adc_path"`
	Scale   float64 `yaml:"scale"` // volts per raw count
}

// OTAConfig defines the local firmware update service.
type OTAConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Target is the file replaced by an uploaded image. Empty means
	// the running executable.
	Target   string `yaml:"target"`
	Username string `yaml:"username"`
	// PasswordHash is a bcrypt hash. Empty disables authentication.
	PasswordHash string `yaml:"password_hash"`
	MaxConns     int    `yaml:"max_conns"`
}

// Load reads configuration from a YAML file, expanding environment
// variables and applying defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Every node topic is <preamble><host_prefix><6 hex digits><suffix>;
// "/status" is the longest suffix.
const (
	identityHexLen     = 6
	longestTopicSuffix = "/status"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Node.HostPrefix == "" {
		c.Node.HostPrefix = "ESP_"
	}
	if c.Node.DataDir == "" {
		c.Node.DataDir = "/var/lib/thermonode"
	}
	if c.Network.Probe == "" {
		c.Network.Probe = "dial"
	}
	if c.Network.AttachTimeout <= 0 {
		c.Network.AttachTimeout = 20 * time.Second
	}
	if c.Network.PollInterval <= 0 {
		c.Network.PollInterval = 500 * time.Millisecond
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "mqtt://localhost:1883"
	}
	if c.MQTT.Protocol == "" {
		c.MQTT.Protocol = "5"
	}
	if c.MQTT.KeepAlive <= 0 {
		c.MQTT.KeepAlive = 15 * time.Second
	}
	if c.MQTT.ConnectTimeout <= 0 {
		c.MQTT.ConnectTimeout = 15 * time.Second
	}
	if c.MQTT.PublishTimeout <= 0 {
		c.MQTT.PublishTimeout = 5 * time.Second
	}
	if c.MQTT.TopicPreamble == "" {
		c.MQTT.TopicPreamble = "MyIoT/"
	}
	if c.MQTT.MaxTopicLen <= 0 {
		c.MQTT.MaxTopicLen = 40
	}
	if c.MQTT.MaxPayloadLen <= 0 {
		c.MQTT.MaxPayloadLen = 256
	}
	if c.Intervals.Sample <= 0 {
		c.Intervals.Sample = 10 * time.Second
	}
	if c.Intervals.Status <= 0 {
		c.Intervals.Status = 30 * time.Second
	}
	if c.Intervals.Tick <= 0 {
		c.Intervals.Tick = 10 * time.Millisecond
	}
	if c.Sleep.Duration <= 0 {
		c.Sleep.Duration = 5 * time.Minute
	}
	if c.Sleep.Method == "" {
		c.Sleep.Method = "sleep"
	}
	if c.Scratch.Path == "" {
		c.Scratch.Path = "/run/thermonode/scratch.db"
	}
	if c.Sensors.W1Dir == "" {
		c.Sensors.W1Dir = sensor.DefaultW1Dir
	}
	if c.Sensors.MaxDevices <= 0 {
		c.Sensors.MaxDevices = 4
	}
	if c.Supply.Scale == 0 {
		c.Supply.Scale = 1.0 / 1024.0
	}
	if c.OTA.Listen == "" {
		c.OTA.Listen = ":80"
	}
	if c.OTA.MaxConns <= 0 {
		c.OTA.MaxConns = 4
	}
}

// Validate checks the configuration for values the supervisor cannot
// run with. It is called after Load so defaults are already applied.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	switch c.Network.Probe {
	case "dial":
	case "interface":
		if c.Node.Interface == "" {
			return fmt.Errorf("network.probe %q requires node.interface", c.Network.Probe)
		}
	default:
		return fmt.Errorf("unknown network.probe %q (valid: dial, interface)", c.Network.Probe)
	}
	switch c.MQTT.Protocol {
	case "5", "3.1.1":
	default:
		return fmt.Errorf("unknown mqtt.protocol %q (valid: 5, 3.1.1)", c.MQTT.Protocol)
	}
	if !strings.Contains(c.MQTT.Broker, "://") {
		return fmt.Errorf("mqtt.broker %q must include a scheme (mqtt://, mqtts://, tcp://, ssl://)", c.MQTT.Broker)
	}
	if c.Intervals.Status < c.Intervals.Tick {
		return fmt.Errorf("intervals.status (%s) must not be shorter than intervals.tick (%s)",
			c.Intervals.Status, c.Intervals.Tick)
	}
	switch c.Sleep.Method {
	case "sleep", "rtcwake":
	default:
		return fmt.Errorf("unknown sleep.method %q (valid: sleep, rtcwake)", c.Sleep.Method)
	}
	if n := len(c.MQTT.TopicPreamble) + len(c.Node.HostPrefix) + identityHexLen + len(longestTopicSuffix); n > c.MQTT.MaxTopicLen {
		return fmt.Errorf("mqtt.topic_preamble %q with node.host_prefix %q needs %d bytes per topic, exceeds mqtt.max_topic_len %d",
			c.MQTT.TopicPreamble, c.Node.HostPrefix, n, c.MQTT.MaxTopicLen)
	}
	if c.Sensors.MaxDevices > 32 {
		return fmt.Errorf("sensors.max_devices %d exceeds 32", c.Sensors.MaxDevices)
	}
	return nil
}
