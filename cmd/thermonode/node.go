package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/thermonode/internal/buildinfo"
	"github.com/nugget/thermonode/internal/command"
	"github.com/nugget/thermonode/internal/config"
	"github.com/nugget/thermonode/internal/connwatch"
	"github.com/nugget/thermonode/internal/gpio"
	"github.com/nugget/thermonode/internal/mqtt"
	"github.com/nugget/thermonode/internal/ota"
	"github.com/nugget/thermonode/internal/platform"
	"github.com/nugget/thermonode/internal/scratch"
	"github.com/nugget/thermonode/internal/sensor"
	"github.com/nugget/thermonode/internal/session"
	"github.com/nugget/thermonode/internal/supervisor"
	"github.com/nugget/thermonode/internal/telemetry"
)

// rebootRequest is returned by runNode when the supervisor ends the
// process instance with a restart or a suspend. main performs it.
type rebootRequest struct {
	outcome supervisor.Outcome
	suspend time.Duration
	method  string
}

func (r *rebootRequest) Error() string {
	return "supervisor requested " + r.outcome.String()
}

// node is everything built for one process instance.
type node struct {
	sup    *supervisor.Supervisor
	region scratch.Region
	update *ota.Service
}

func (n *node) close(logger *slog.Logger) {
	if n.update != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := n.update.Shutdown(ctx); err != nil {
			logger.Debug("update service shutdown", "error", err)
		}
	}
	if err := n.region.Close(); err != nil {
		logger.Error("scratch region close failed", "error", err)
	}
}

// runNode handles "thermonode run": build the node, supervise it, and
// translate the final outcome.
func runNode(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting thermonode",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel) // checked by Validate
	logger = config.NewLogger(stdout, level, cfg.LogFormat)
	logger.Info("config loaded", "path", cfgPath, "broker", cfg.MQTT.Broker, "protocol", cfg.MQTT.Protocol)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	n, err := buildNode(cfg, logger)
	if err != nil {
		return err
	}
	defer n.close(logger)

	out := n.sup.Run(ctx)
	switch out {
	case supervisor.OutcomeRestart:
		return &rebootRequest{outcome: out}
	case supervisor.OutcomeSuspend:
		return &rebootRequest{outcome: out, suspend: cfg.Sleep.Duration, method: cfg.Sleep.Method}
	default:
		return nil
	}
}

// buildNode constructs every component from cfg. Nothing here blocks
// on the network; the supervisor's boot does that.
func buildNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	identity, err := platform.Identity(cfg.Node.HostPrefix, cfg.Node.Interface, cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("device identity: %w", err)
	}
	logger = logger.With("host", identity)

	topics, err := session.NewTopics(cfg.MQTT.TopicPreamble, identity, cfg.MQTT.MaxTopicLen)
	if err != nil {
		return nil, fmt.Errorf("node topics: %w", err)
	}

	region, fresh, err := scratch.OpenRegion(cfg.Scratch.Path)
	if err != nil {
		return nil, fmt.Errorf("open scratch region: %w", err)
	}
	n := &node{region: region}

	transport, err := mqtt.NewTransport(cfg.MQTT.Protocol, cfg.MQTT.Broker, logger)
	if err != nil {
		region.Close()
		return nil, err
	}

	probe, probeName, err := attachProbe(cfg)
	if err != nil {
		region.Close()
		return nil, err
	}

	var sess *session.Session
	health := func() string {
		if sess == nil {
			return mqtt.HealthOffline
		}
		return sess.Health()
	}

	var tap func(string, []byte)
	if cfg.OTA.Enabled {
		n.update, err = startUpdateService(cfg, identity, health, logger)
		if err != nil {
			region.Close()
			return nil, err
		}
		tap = func(_ string, payload []byte) { n.update.Broadcast(payload) }
	}

	sess = session.New(session.Config{
		Identity:       identity,
		Topics:         topics,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		KeepAlive:      cfg.MQTT.KeepAlive,
		CleanStart:     cfg.MQTT.IsCleanStart(),
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		PublishTimeout: cfg.MQTT.PublishTimeout,
		MaxPayloadLen:  cfg.MQTT.MaxPayloadLen,
		Attach: connwatch.AttachConfig{
			Name:         probeName,
			Probe:        probe,
			Timeout:      cfg.Network.AttachTimeout,
			PollInterval: cfg.Network.PollInterval,
		},
		Tap: tap,
	}, transport, logger)

	var actuator command.Actuator = &gpio.Latch{}
	if cfg.Actuator.Pin != "" {
		actuator = gpio.NewPin(cfg.Actuator.Pin, cfg.Actuator.ActiveLow)
	}

	var sensors []telemetry.Sensor
	devs, err := sensor.Discover(cfg.Sensors.W1Dir)
	if err != nil {
		logger.Warn("no sensor bus", "error", err)
	}
	for _, d := range devs {
		sensors = append(sensors, d)
	}
	logger.Info("sensors discovered", "count", len(devs))

	var supply telemetry.Gauge
	if cfg.Supply.ADCPath != "" {
		supply = gpio.NewADC(cfg.Supply.ADCPath, cfg.Supply.Scale)
	}

	awake := func() bool { return cfg.Sleep.IsAlwaysAwake() }
	if cfg.Sleep.InhibitPin != "" {
		awake = gpio.NewPin(cfg.Sleep.InhibitPin, cfg.Sleep.InhibitActiveLow).Asserted
	}

	var update supervisor.UpdateService
	if n.update != nil {
		update = n.update
	}

	n.sup = supervisor.New(supervisor.Deps{
		Identity:       identity,
		Version:        buildinfo.Version,
		Fresh:          fresh,
		BootTime:       buildinfo.BootTime(),
		Store:          scratch.NewStore(region, logger),
		Session:        sess,
		Mailbox:        &command.Mailbox{},
		Router:         command.NewRouter(topics.Command, actuator, logger),
		Sampler:        telemetry.NewSampler(sensors, supply, cfg.Intervals.Sample, cfg.Sensors.MaxDevices, logger),
		Update:         update,
		Awake:          awake,
		Signal:         func() int { return platform.SignalQuality(cfg.Node.Interface) },
		StatusInterval: cfg.Intervals.Status,
		TickInterval:   cfg.Intervals.Tick,
		Logger:         logger,
	})
	return n, nil
}

// attachProbe returns the network attachment probe selected by config.
func attachProbe(cfg *config.Config) (connwatch.ProbeFunc, string, error) {
	switch cfg.Network.Probe {
	case "interface":
		return connwatch.InterfaceProbe(cfg.Node.Interface), cfg.Node.Interface, nil
	default:
		u, err := url.Parse(cfg.MQTT.Broker)
		if err != nil {
			return nil, "", fmt.Errorf("parse mqtt broker URL: %w", err)
		}
		addr := mqtt.BrokerAddr(u)
		return connwatch.DialProbe(addr), addr, nil
	}
}

func startUpdateService(cfg *config.Config, identity string, health func() string, logger *slog.Logger) (*ota.Service, error) {
	target := cfg.OTA.Target
	if target == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve update target: %w", err)
		}
		target = exe
	}

	svc := ota.New(ota.Config{
		Listen:       cfg.OTA.Listen,
		Target:       target,
		Username:     cfg.OTA.Username,
		PasswordHash: cfg.OTA.PasswordHash,
		MaxConns:     cfg.OTA.MaxConns,
		Host:         identity,
		Version:      buildinfo.Version,
		Started:      buildinfo.BootTime(),
		Build:        buildinfo.BuildInfo(),
		Health:       health,
	}, logger)
	if err := svc.Start(); err != nil {
		return nil, fmt.Errorf("start update service: %w", err)
	}
	return svc, nil
}
