// Thermonode is a connectivity and telemetry supervisor for a sensor
// node. It samples temperature sensors, publishes status over MQTT,
// drives an actuator from remote commands, and alternates between
// running and low-power suspend.
//
// Usage:
//
//	thermonode run            Boot and supervise until restart, suspend or signal
//	thermonode init [dir]     Write an example config.yaml
//	thermonode scratch        Show the scratch region and the next reset cause
//	thermonode version        Print version and build information
//	thermonode -o json version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nugget/thermonode/internal/buildinfo"
	"github.com/nugget/thermonode/internal/config"
	"github.com/nugget/thermonode/internal/platform"
)

// main constructs the OS-level environment and delegates to [run]. A
// restart or suspend requested by the supervisor comes back as a
// [*rebootRequest] and is carried out here, after every deferred
// cleanup in run has completed.
func main() {
	ctx := context.Background()

	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])

	var rb *rebootRequest
	if errors.As(err, &rb) {
		os.Exit(reboot(ctx, os.Stderr, rb))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. args is os.Args[1:]. Arguments are
// parsed by hand so that run has no package-level flag state and can
// be driven from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "run":
		return runNode(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "scratch":
		return runScratch(stdout, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Thermonode - sensor node connectivity and telemetry supervisor")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: thermonode [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run          Boot and supervise the node")
	fmt.Fprintln(w, "  init [dir]   Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  scratch      Show the scratch region and next reset cause")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/thermonode/config.yaml, /etc/thermonode/config.yaml")
	return nil
}

// loadConfig locates, parses and validates the configuration.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// reboot carries out a restart or suspend and returns the exit status
// to use if the process could not be replaced.
func reboot(ctx context.Context, stderr io.Writer, rb *rebootRequest) int {
	logger := config.NewLogger(stderr, slog.LevelInfo, "text")

	if rb.suspend > 0 {
		ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s, err := platform.NewSuspender(rb.method, logger)
		if err != nil {
			logger.Error("suspend unavailable", "error", err)
			return platform.ExitRestart
		}
		if err := s.Suspend(ctx, rb.suspend); err != nil {
			if ctx.Err() != nil {
				logger.Info("suspend interrupted, exiting")
				return 0
			}
			logger.Error("suspend failed", "error", err)
		}
	}

	if err := platform.Reexec(); err != nil {
		logger.Error("re-exec failed, exiting for service restart", "error", err, "status", platform.ExitRestart)
	}
	return platform.ExitRestart
}
