package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
	"github.com/torosent/pagerunner/internal/config"
	"github.com/torosent/pagerunner/internal/engine"
	"github.com/torosent/pagerunner/internal/feeder"
	"github.com/torosent/pagerunner/internal/har"
	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/network"
	"github.com/torosent/pagerunner/internal/runner"
	"github.com/torosent/pagerunner/internal/script"
)

const checkoutScript = `settings:
  name: Checkout
  loopCount: 3
  responseTimeMeasurement: page
steps:
  - name: Home
    actions:
      - visit: https://shop.test/
  - name: Search
    skip: true
    actions:
      - click: "#search"
    conditions:
      - visible: "#results"
`

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompileScript(t *testing.T) {
	path := writeScript(t, checkoutScript)
	compiler := script.NewYAMLCompiler(t.TempDir())

	s, settings, err := compileScript(compiler, path, nil, map[string]interface{}{"loopCount": "unbounded"})
	if err != nil {
		t.Fatalf("compileScript() error = %v", err)
	}
	if len(s.Steps) != 2 {
		t.Errorf("len(Steps) = %d, want 2", len(s.Steps))
	}
	if settings.Name != "Checkout" {
		t.Errorf("Name = %q, want Checkout", settings.Name)
	}
	if !settings.LoopsUnbounded() {
		t.Errorf("override should make loops unbounded, got %d", settings.LoopCount)
	}
	if settings.ResponseTimeMeasurement != config.GranularityPage {
		t.Errorf("ResponseTimeMeasurement = %q, want page", settings.ResponseTimeMeasurement)
	}
}

func TestCompileScriptErrors(t *testing.T) {
	compiler := script.NewYAMLCompiler(t.TempDir())

	tests := []struct {
		name      string
		content   string
		overrides map[string]interface{}
		check     func(error) bool
	}{
		{
			name:    "no steps",
			content: "settings:\n  name: Empty\nsteps: []\n",
			check: func(err error) bool {
				var se *engine.ScriptError
				return errors.As(err, &se)
			},
		},
		{
			name:    "bad setting",
			content: "settings:\n  loopCount: many\nsteps:\n  - name: Home\n",
			check: func(err error) bool {
				var se *engine.ScriptError
				return errors.As(err, &se) && strings.Contains(se.Reason, "settings")
			},
		},
		{
			name:      "bad override",
			content:   checkoutScript,
			overrides: map[string]interface{}{"responseTimeMeasurement": "frame"},
			check: func(err error) bool {
				var se *engine.ScriptError
				return errors.As(err, &se) && strings.Contains(se.Reason, "overrides")
			},
		},
		{
			name:    "syntax",
			content: "steps:\n  - name: Home\n    actions:\n      - fly: away\n",
			check: func(err error) bool {
				var ce *script.CompileError
				return errors.As(err, &ce)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := compileScript(compiler, writeScript(t, tt.content), nil, tt.overrides)
			if err == nil || !tt.check(err) {
				t.Errorf("compileScript() error = %v", err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	path := writeScript(t, checkoutScript)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", "--artifacts-dir", t.TempDir(), path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Checkout: 2 steps",
		"loops=3",
		"measurement=page",
		"1. Home",
		"2. Search (1 conditions) [skip]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("validate output missing %q:\n%s", want, got)
		}
	}
}

const loginScript = `settings:
  name: Login
steps:
  - name: "Login as {{user}}"
    actions:
      - visit: "https://shop.test/login?u={{user}}"
`

func writeData(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSessionCompilerFeedsRecords(t *testing.T) {
	path := writeScript(t, loginScript)
	feed, err := feeder.Open(writeData(t, "user\nalice\nbob\n"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	compile := sessionCompiler(script.NewYAMLCompiler(t.TempDir()), path, feed)

	for _, want := range []string{"Login as alice", "Login as bob", "Login as alice"} {
		s, err := compile()
		if err != nil {
			t.Fatalf("compile() error = %v", err)
		}
		if s.Steps[0].Name != want {
			t.Errorf("step name = %q, want %q", s.Steps[0].Name, want)
		}
	}
}

func TestSessionCompilerUniqueData(t *testing.T) {
	path := writeScript(t, loginScript)
	feed, err := feeder.Open(writeData(t, "user\nalice\n"), feeder.Unique())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	compile := sessionCompiler(script.NewYAMLCompiler(t.TempDir()), path, feed)

	if _, err := compile(); err != nil {
		t.Fatalf("compile() error = %v", err)
	}
	_, err = compile()
	if !errors.Is(err, feeder.ErrExhausted) {
		t.Fatalf("compile() error = %v, want ErrExhausted", err)
	}
	if shouldRestart(err) {
		t.Errorf("exhausted data must not restart the session")
	}
	if !shouldRestart(errors.New("browser crashed")) {
		t.Errorf("browser failures should restart")
	}
}

func TestSessionCompilerWithoutData(t *testing.T) {
	compile := sessionCompiler(script.NewYAMLCompiler(t.TempDir()), writeScript(t, checkoutScript), nil)
	s, err := compile()
	if err != nil {
		t.Fatalf("compile() error = %v", err)
	}
	if len(s.Steps) != 2 {
		t.Errorf("len(Steps) = %d, want 2", len(s.Steps))
	}
}

func TestValidateCommandWithData(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", "--artifacts-dir", t.TempDir(), "--data", writeData(t, "user\ncarol\n"), writeScript(t, loginScript)})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "1. Login as carol") {
		t.Errorf("validate output = %q", out.String())
	}
}

func TestDevicesCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"devices"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "Chrome Desktop Large") {
		t.Errorf("devices output = %q", out.String())
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	err := run(context.Background(), &config.Config{}, &bytes.Buffer{})
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("run() error = %v, want ValidationError", err)
	}
}

func TestRunRejectsBadThreshold(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{
		"--threshold", "rps:count < 1",
		"--log-level", "error",
		writeScript(t, checkoutScript),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := run(context.Background(), cfg, &bytes.Buffer{}); err == nil || !strings.Contains(err.Error(), "rps") {
		t.Fatalf("run() error = %v, want threshold parse error", err)
	}
}

func TestWriteHAR(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := func(rec *network.Recorder, id string) {
		rec.Record(browser.Event{Kind: browser.EventRequest, Time: start, Network: &browser.NetworkEvent{
			RequestID: id, Method: "GET", URL: "https://shop.test/", ResourceType: "Document",
		}})
		rec.Record(browser.Event{Kind: browser.EventResponse, Time: start.Add(40 * time.Millisecond), Network: &browser.NetworkEvent{
			RequestID: id, Status: 200, StatusText: "OK", MimeType: "text/html",
		}})
		rec.Record(browser.Event{Kind: browser.EventRequestFinished, Time: start.Add(90 * time.Millisecond), Network: &browser.NetworkEvent{
			RequestID: id, BodySize: 512,
		}})
	}
	first, second := network.NewRecorder(network.RetainHAR()), network.NewRecorder(network.RetainHAR())
	record(first, "1")
	record(second, "1")

	path := filepath.Join(t.TempDir(), "out", "run.har")
	sessions := []runner.Session{
		{VU: "a", Recorder: first},
		{VU: "b"},
		{VU: "c", Recorder: second},
	}
	if err := writeHAR(path, sessions); err != nil {
		t.Fatalf("writeHAR() error = %v", err)
	}

	doc, err := har.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if doc.Log.Creator.Name != "pagerunner" {
		t.Errorf("creator = %q", doc.Log.Creator.Name)
	}
	if len(doc.Log.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(doc.Log.Entries))
	}
	seen := map[string]bool{}
	for _, p := range doc.Log.Pages {
		if seen[p.ID] {
			t.Errorf("duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestHARCommand(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := network.NewRecorder(network.RetainHAR())
	rec.Record(browser.Event{Kind: browser.EventRequest, Time: start, Network: &browser.NetworkEvent{
		RequestID: "1", Method: "GET", URL: "https://shop.test/", ResourceType: "Document",
	}})
	rec.Record(browser.Event{Kind: browser.EventResponse, Time: start.Add(40 * time.Millisecond), Network: &browser.NetworkEvent{
		RequestID: "1", Status: 200, StatusText: "OK", MimeType: "text/html",
	}})
	rec.Record(browser.Event{Kind: browser.EventRequestFinished, Time: start.Add(90 * time.Millisecond), Network: &browser.NetworkEvent{
		RequestID: "1", BodySize: 512,
	}})
	path := filepath.Join(t.TempDir(), "run.har")
	if err := writeHAR(path, []runner.Session{{VU: "a", Recorder: rec}}); err != nil {
		t.Fatalf("writeHAR() error = %v", err)
	}

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"har", "--top", "3", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"1 requests, 0 failed, 512 bytes",
		"status 200: 1",
		"Slowest requests:",
		"90.0ms GET https://shop.test/",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("har output missing %q:\n%s", want, got)
		}
	}
}

func TestHARCommandRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.har")
	if err := os.WriteFile(path, []byte(`{"other": 1}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"har", path})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "missing log") {
		t.Fatalf("Execute() error = %v, want missing log", err)
	}
}

func TestWriteHTMLReport(t *testing.T) {
	cfg := &config.Config{
		ScriptPath: "checkout.yaml",
		Users:      2,
		HTMLOutput: filepath.Join(t.TempDir(), "reports", "run.html"),
	}
	settings := config.DefaultSettings()
	settings.Name = "Checkout"

	stats := metrics.Stats{Iterations: 4, Passed: 4}
	if err := writeHTMLReport(cfg, settings, stats, nil, nil); err != nil {
		t.Fatalf("writeHTMLReport() error = %v", err)
	}
	data, err := os.ReadFile(cfg.HTMLOutput)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Checkout") {
		t.Errorf("report does not name the script")
	}
}

func TestSnapshotEvery(t *testing.T) {
	collector := metrics.NewCollector()
	stop := snapshotEvery(collector, 10*time.Millisecond)
	time.Sleep(55 * time.Millisecond)
	stop()
	stop()

	n := len(collector.History())
	if n < 2 {
		t.Errorf("history has %d snapshots, want several", n)
	}
	time.Sleep(30 * time.Millisecond)
	if len(collector.History()) != n {
		t.Errorf("snapshots continued after stop")
	}
}

func TestRunConfig(t *testing.T) {
	cfg := &config.Config{ScriptPath: "a.yaml", Users: 4, RampRate: 1.5, Restarts: 2, ConfigFile: "run.yml"}
	settings := config.DefaultSettings()
	settings.Name = "A"
	settings.LoopCount = config.Unbounded

	got := runConfig(cfg, settings)
	if got.Script != "a.yaml" || got.Name != "A" || got.Users != 4 || got.RampRate != 1.5 {
		t.Errorf("runConfig() = %+v", got)
	}
	if got.LoopCount != -1 || got.Restarts != 2 || got.ConfigFile != "run.yml" || got.Granularity != "step" {
		t.Errorf("runConfig() = %+v", got)
	}
}
