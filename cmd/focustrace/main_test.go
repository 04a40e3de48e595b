package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vincentbai/focustrace/internal/config"
	"github.com/vincentbai/focustrace/internal/models"
)

const quickPlan = `
preset: baseline
plan:
  observation: 20ms
  stages:
    - {name: a, duration: 30ms, profile: {strategy: snake, base_gap_micros: 2000, delay: {kind: fixed}}}
    - {name: b, duration: 30ms, profile: {strategy: random, base_gap_micros: 2000, delay: {kind: fixed}}}
    - {name: c, duration: 30ms, profile: {strategy: cross, base_gap_micros: 2000, delay: {kind: fixed}}}
    - {name: d, duration: 30ms, profile: {strategy: thrash, base_gap_micros: 2000, delay: {kind: fixed}}}
monitors: {heartbeat: 10ms, frame: 16ms, focus: 10ms, drain: 5ms}
`

func setupRunFiles(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	configPath = filepath.Join(dir, "quick.yaml")
	if err := os.WriteFile(configPath, []byte(quickPlan), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, configPath
}

func TestRunEndToEnd(t *testing.T) {
	dir, configPath := setupRunFiles(t)
	dbPath := filepath.Join(dir, "runs.db")
	dumpPath := filepath.Join(dir, "run.cbor.zst")
	reportPath := filepath.Join(dir, "report.json")

	var stdout bytes.Buffer
	err := run([]string{
		"run",
		"--config", configPath,
		"--listen", "",
		"--db", dbPath,
		"--dump", dumpPath,
		"--report-json", reportPath,
		"--seed", "7",
		"--log-level", "error",
	}, &stdout)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "completed") {
		t.Errorf("summary = %q", stdout.String())
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if !report.Completed || report.TotalCommands == 0 {
		t.Errorf("report = %+v", report)
	}

	stdout.Reset()
	if err := run([]string{"report", "--db", dbPath, report.RunID}, &stdout); err != nil {
		t.Fatalf("report command error = %v", err)
	}
	if !strings.Contains(stdout.String(), report.RunID) {
		t.Errorf("report output = %q", stdout.String())
	}

	stdout.Reset()
	if err := run([]string{"inspect", dumpPath}, &stdout); err != nil {
		t.Fatalf("inspect command error = %v", err)
	}
	if !strings.Contains(stdout.String(), string(models.KindInput)) {
		t.Errorf("inspect output = %q", stdout.String())
	}

	stdout.Reset()
	if err := run([]string{"reproductions", "--db", dbPath}, &stdout); err != nil {
		t.Fatalf("reproductions command error = %v", err)
	}
}

func TestPresetsCommand(t *testing.T) {
	var stdout bytes.Buffer
	if err := run([]string{"presets"}, &stdout); err != nil {
		t.Fatal(err)
	}
	for _, name := range config.Presets() {
		if !strings.Contains(stdout.String(), name) {
			t.Errorf("presets output missing %s:\n%s", name, stdout.String())
		}
	}
	if !strings.Contains(stdout.String(), "* "+config.DefaultPreset) {
		t.Errorf("default preset not marked:\n%s", stdout.String())
	}
}

func TestRunRejects(t *testing.T) {
	_, configPath := setupRunFiles(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"replay"}},
		{"unknown preset", []string{"--preset", "gentle", "--db", "none", "--listen", ""}},
		{"bad log level", []string{"--config", configPath, "--log-level", "loud", "--db", "none"}},
		{"stray argument", []string{"run", "extra"}},
		{"pushed focus without server", []string{"--config", configPath, "--push-focus", "--listen", "", "--db", "none"}},
		{"inspect without path", []string{"inspect"}},
		{"report without database", []string{"report", "--db", "none", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(tt.args, &bytes.Buffer{}); err == nil {
				t.Errorf("run(%v) succeeded", tt.args)
			}
		})
	}
}
