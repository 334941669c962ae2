package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/thermonode/internal/supervisor"
)

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var stdout, stderr bytes.Buffer
		if err := run(t.Context(), &stdout, &stderr, args); err != nil {
			t.Fatalf("run(%v) error = %v", args, err)
		}
		if !strings.Contains(stdout.String(), "Usage: thermonode") {
			t.Errorf("run(%v) output missing usage", args)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"unknown flag", []string{"-x"}, "unknown flag"},
		{"bad output", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "run"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(t.Context(), &stdout, &stderr, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) error = %v, want containing %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "version:") {
		t.Errorf("text version output = %q", stdout.String())
	}

	stdout.Reset()
	if err := run(t.Context(), &stdout, &stderr, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		t.Fatalf("json version output: %v", err)
	}
	if info["version"] == "" {
		t.Error("json version missing version key")
	}
}

func TestRunInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "node")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		t.Errorf("config.yaml permissions = %o, want owner-only", info.Mode().Perm())
	}

	if err := os.WriteFile(path, []byte("custom: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("second runInit() error = %v", err)
	}
	if b, _ := os.ReadFile(path); string(b) != "custom: true\n" {
		t.Error("runInit overwrote an existing config")
	}
	if !strings.Contains(buf.String(), "left unchanged") {
		t.Errorf("output = %q", buf.String())
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunScratch_AbsentRegion(t *testing.T) {
	region := filepath.Join(t.TempDir(), "scratch.db")
	cfg := writeConfig(t, "scratch:\n  path: "+region+"\n")

	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"-config", cfg, "-o", "json", "scratch"}); err != nil {
		t.Fatalf("scratch error = %v", err)
	}
	var rep scratchReport
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Present || rep.NextBoot != "cold_power_on" {
		t.Errorf("report = %+v, want absent, cold power-on", rep)
	}
	if _, err := os.Stat(region); !errors.Is(err, os.ErrNotExist) {
		t.Error("scratch command created the region")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "mqtt:\n  protocol: \"4\"\n")
	var stdout, stderr bytes.Buffer
	err := run(t.Context(), &stdout, &stderr, []string{"-config", cfg, "run"})
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("run error = %v, want invalid config", err)
	}
}

func TestRebootRequest(t *testing.T) {
	var err error = &rebootRequest{outcome: supervisor.OutcomeSuspend}
	var rb *rebootRequest
	if !errors.As(err, &rb) {
		t.Fatal("errors.As failed")
	}
	if err.Error() != "supervisor requested suspend" {
		t.Errorf("Error() = %q", err.Error())
	}
}
