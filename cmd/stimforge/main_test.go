package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/stimforge/internal/pipeline"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so large outputs cannot fill the pipe buffers.
	stdoutCh := make(chan []byte, 1)
	stderrCh := make(chan []byte, 1)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); stderrCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-stdoutCh
	stderrBytes := <-stderrCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

// writeProject lays out a config with a ledger and an output directory, and a
// source of n alternating strokes.
func writeProject(t *testing.T, n int) (configPath, source string) {
	t.Helper()
	dir := t.TempDir()

	var parts []string
	for i := 0; i < n; i++ {
		pos := 10
		if i%2 == 1 {
			pos = 90
		}
		parts = append(parts, fmt.Sprintf(`{"at":%d,"pos":%d}`, i*500, pos))
	}
	source = filepath.Join(dir, "clip.funscript")
	body := `{"version":"1.0","actions":[` + strings.Join(parts, ",") + `]}`
	if err := os.WriteFile(source, []byte(body), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	configPath = filepath.Join(dir, "stimforge.yaml")
	cfg := fmt.Sprintf("log:\n  level: error\nstate:\n  path: %s\noutput:\n  dir: out\n", filepath.Join(dir, "state", "ledger.db"))
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath, source
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef0123", "2026-01-02T03:04:05+02:00")

	code, stdout, stderr := runCaptured(t, "version", "--json")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if info.Version != "1.2.3" || info.Commit != "0123456789ab" || info.BuildTime != "2026-01-02T01:04:05Z" {
		t.Fatalf("unexpected version info: %+v", info)
	}
}

func TestRunVersionRejectsArgs(t *testing.T) {
	code, _, stderr := runCaptured(t, "version", "extra")
	if code != 1 || !strings.Contains(stderr, "Usage: stimforge version") {
		t.Fatalf("code = %d, stderr = %q", code, stderr)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, stdout, stderr := runCaptured(t, "bogus")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "Unknown command: bogus") || !strings.Contains(stdout, "Usage:") {
		t.Fatalf("stdout = %q, stderr = %q", stdout, stderr)
	}
}

func TestConfigCheckAndLock(t *testing.T) {
	configPath, _ := writeProject(t, 4)

	code, stdout, stderr := runCaptured(t, "config", "check", "--config", configPath)
	if code != 0 {
		t.Fatalf("config check failed: %s", stderr)
	}
	if !strings.Contains(stdout, "Configuration valid: ") || !strings.Contains(stdout, "fingerprint: blake3:") {
		t.Fatalf("unexpected check output: %q", stdout)
	}

	code, stdout, stderr = runCaptured(t, "config", "lock", "--config", configPath)
	if code != 0 || !strings.Contains(stdout, "Locked ") {
		t.Fatalf("config lock: code = %d, stdout = %q, stderr = %q", code, stdout, stderr)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(configPath), ".checksums")); err != nil {
		t.Fatalf("expected .checksums: %v", err)
	}

	f, err := os.OpenFile(configPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open config: %v", err)
	}
	_, _ = f.WriteString("# edited\n")
	_ = f.Close()

	code, _, stderr = runCaptured(t, "config", "check", "--config", configPath)
	if code != 1 || !strings.Contains(stderr, "hash mismatch") {
		t.Fatalf("expected hash mismatch, code = %d, stderr = %q", code, stderr)
	}
}

func TestConfigCheckRejectsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stimforge.yaml")
	if err := os.WriteFile(path, []byte("general:\n  rest_level: 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	code, _, stderr := runCaptured(t, "config", "check", "--config", path)
	if code != 1 || !strings.Contains(stderr, "rest_level") {
		t.Fatalf("code = %d, stderr = %q", code, stderr)
	}

	code, _, stderr = runCaptured(t, "config", "lock", "--config", path)
	if code != 1 || !strings.Contains(stderr, "Refusing to lock") {
		t.Fatalf("code = %d, stderr = %q", code, stderr)
	}
}

func TestGraphJSON(t *testing.T) {
	configPath, _ := writeProject(t, 4)

	code, stdout, stderr := runCaptured(t, "graph", "--config", configPath, "--json")
	if code != 0 {
		t.Fatalf("graph failed: %s", stderr)
	}
	var out graphOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !strings.HasPrefix(out.Fingerprint, "blake3:") {
		t.Fatalf("unexpected fingerprint %q", out.Fingerprint)
	}
	seen := map[string]int{}
	for i, node := range out.Nodes {
		seen[node.Role] = i
	}
	for _, role := range []string{"speed", "ramp", "volume", "pulse_width", "alpha", "beta"} {
		if _, ok := seen[role]; !ok {
			t.Fatalf("graph is missing %s", role)
		}
	}
	if seen["speed"] > seen["volume"] || seen["ramp"] > seen["volume"] {
		t.Fatalf("producers must precede consumers: %v", seen)
	}
}

func TestGraphText(t *testing.T) {
	configPath, _ := writeProject(t, 4)

	code, stdout, stderr := runCaptured(t, "graph", "--config", configPath)
	if code != 0 {
		t.Fatalf("graph failed: %s", stderr)
	}
	if !strings.Contains(stdout, "FEEDS") || !strings.Contains(stdout, "fingerprint: blake3:") {
		t.Fatalf("unexpected graph output:\n%s", stdout)
	}
}

func TestProcessInspectAndEvents(t *testing.T) {
	configPath, source := writeProject(t, 21)
	outDir := filepath.Join(filepath.Dir(source), "out")

	code, stdout, stderr := runCaptured(t, "process", "--config", configPath, "--json", source)
	if code != 0 {
		t.Fatalf("process failed: %s", stderr)
	}
	var res processOutput
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if res.Status != pipeline.StatusSucceeded || res.RunID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	volume := filepath.Join(outDir, "clip.volume.funscript")
	if _, err := os.Stat(volume); err != nil {
		t.Fatalf("expected volume channel: %v", err)
	}

	code, stdout, stderr = runCaptured(t, "inspect", "--config", configPath, res.RunID)
	if code != 0 {
		t.Fatalf("inspect failed: %s", stderr)
	}
	if !strings.Contains(stdout, "Run ID      : "+res.RunID) || !strings.Contains(stdout, "volume (final) generated") {
		t.Fatalf("unexpected report:\n%s", stdout)
	}

	code, stdout, stderr = runCaptured(t, "inspect", "--config", configPath, "--json", "--file", volume)
	if code != 0 || !strings.Contains(stdout, `"target": "volume"`) {
		t.Fatalf("inspect --file: code = %d, stdout = %q, stderr = %q", code, stdout, stderr)
	}

	code, stdout, _ = runCaptured(t, "runs", "list", "--config", configPath)
	if code != 0 || !strings.Contains(stdout, res.RunID) {
		t.Fatalf("runs list: code = %d, stdout = %q", code, stdout)
	}

	defs := filepath.Join(filepath.Dir(source), "defs.yml")
	timeline := filepath.Join(outDir, "clip.events.yml")
	if err := os.WriteFile(defs, []byte(`
definitions:
  boost:
    default_params: {level: 0.1}
    steps:
      - operation: linear_change
        axis: volume
        params: {duration_ms: 1000, start_value: $level}
`), 0o644); err != nil {
		t.Fatalf("write definitions: %v", err)
	}
	if err := os.WriteFile(timeline, []byte("events:\n  - time: 1000\n    name: boost\n"), 0o644); err != nil {
		t.Fatalf("write timeline: %v", err)
	}

	code, stdout, _ = runCaptured(t, "events", "--config", configPath, "--definitions", defs, "--list")
	if code != 0 || stdout != "boost\n" {
		t.Fatalf("events --list: code = %d, stdout = %q", code, stdout)
	}

	code, stdout, stderr = runCaptured(t, "events", "--config", configPath, "--definitions", defs, "--no-backup", "--json", timeline)
	if code != 0 {
		t.Fatalf("events failed: %s", stderr)
	}
	var report struct {
		Base     string   `json:"base"`
		Applied  int      `json:"applied"`
		Modified []string `json:"modified"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if report.Base != "clip" || report.Applied < 1 || !contains(report.Modified, "volume") {
		t.Fatalf("unexpected events report: %+v", report)
	}
}

func TestProcessReportsFailingChannel(t *testing.T) {
	configPath, source := writeProject(t, 3)

	code, _, stderr := runCaptured(t, "process", "--config", configPath, source)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "channel ramp (") || !strings.Contains(stderr, "failed:") {
		t.Fatalf("expected failing channel in stderr, got %q", stderr)
	}
}

func TestProcessUsage(t *testing.T) {
	code, _, stderr := runCaptured(t, "process")
	if code != 1 || !strings.Contains(stderr, "Usage: stimforge process") {
		t.Fatalf("code = %d, stderr = %q", code, stderr)
	}
}

func TestInspectRequiresLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stimforge.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	code, _, stderr := runCaptured(t, "inspect", "--config", path, "some-run")
	if code != 1 || !strings.Contains(stderr, "Run ledger disabled") {
		t.Fatalf("code = %d, stderr = %q", code, stderr)
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
