package script_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/pagerunner/internal/browser/browsertest"
	"github.com/torosent/pagerunner/internal/condition"
	"github.com/torosent/pagerunner/internal/script"
)

const sample = `settings:
  name: Example Test
  actionDelay: 5
  loopCount: unbounded
steps:
  - name: Home
    timeout: 10s
    actions:
      - visit: https://example.com
      - click: a.more
    conditions:
      - dialog: {}
      - navigation: { url: "/more$", timeout: 5 }
  - name: Check
    actions:
      - assertText: { selector: h1, equals: foobarlink }
  - name: Later
    skip: true
`

func compile(t *testing.T, src string) *script.Script {
	t.Helper()
	s, err := script.NewYAMLCompiler(t.TempDir()).Compile("test.yaml", []byte(src))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return s
}

func TestCompileSettingsAndSteps(t *testing.T) {
	s := compile(t, sample)

	if got := s.Settings["name"]; got != "Example Test" {
		t.Errorf("settings name = %v", got)
	}
	if got := s.Settings["actionDelay"]; got != 5 {
		t.Errorf("settings actionDelay = %v (%T)", got, got)
	}
	if len(s.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(s.Steps))
	}
	names := []string{s.Steps[0].Name, s.Steps[1].Name, s.Steps[2].Name}
	if strings.Join(names, ",") != "Home,Check,Later" {
		t.Errorf("step names = %v", names)
	}
	if s.Steps[0].Timeout != 10*time.Second {
		t.Errorf("step timeout = %v", s.Steps[0].Timeout)
	}
	if !s.Steps[2].Skip {
		t.Errorf("expected third step to be skipped")
	}
	if s.Steps[2].Action != nil {
		t.Errorf("step without actions should have nil action")
	}

	conds := s.Steps[0].Conditions
	if len(conds) != 2 {
		t.Fatalf("conditions = %d, want 2", len(conds))
	}
	if conds[0].Role() != condition.Interrupt {
		t.Errorf("dialog role = %v", conds[0].Role())
	}
	if conds[1].Role() != condition.Postcondition || conds[1].Timeout() != 5*time.Second {
		t.Errorf("navigation role/timeout = %v/%v", conds[1].Role(), conds[1].Timeout())
	}
}

func TestCompileReturnsFreshConditions(t *testing.T) {
	c := script.NewYAMLCompiler("")
	a, err := c.Compile("a.yaml", []byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Compile("a.yaml", []byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if a.Steps[0].Conditions[1] == b.Steps[0].Conditions[1] {
		t.Fatal("compilations must not share condition instances")
	}
}

func TestAssertionStackIdentifiesScriptLine(t *testing.T) {
	s := compile(t, sample)
	client := browsertest.NewClient()
	client.SetText("h1", "show bar")

	err := s.Steps[1].Action(context.Background(), client)
	var ae *script.AssertionError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AssertionError, got %v", err)
	}
	if ae.Name != "AssertionError" {
		t.Errorf("name = %q", ae.Name)
	}
	if ae.Message != `"show bar" == "foobarlink"` {
		t.Errorf("message = %q", ae.Message)
	}
	if len(ae.Stack) != 1 {
		t.Fatalf("stack = %v", ae.Stack)
	}
	if want := `step "Check" (test.yaml:16:9)`; ae.Stack[0] != want {
		t.Errorf("frame = %q, want %q", ae.Stack[0], want)
	}
}

func TestActionsDriveClient(t *testing.T) {
	dir := t.TempDir()
	src := `steps:
  - name: All
    actions:
      - visit: https://example.com/
      - click: "#go"
      - type: { selector: "#q", text: hello }
      - press: Enter
      - wait: 1ms
      - acceptDialog: yes please
      - dismissDialog: ""
      - screenshot: shots/home.png
      - assertURL: { matches: "example\\.com" }
      - assertTitle: { contains: Example }
      - assertVisible: "#q"
      - assertJSON: { expression: window.app, path: user.name, equals: bob }
`
	s, err := script.NewYAMLCompiler(dir).Compile("all.yaml", []byte(src))
	if err != nil {
		t.Fatal(err)
	}

	client := browsertest.NewClient()
	client.SetTitle("Example Domain")
	client.SetVisible("#q", true)
	client.EvaluateFunc = func(ctx context.Context, expr string, out interface{}) error {
		if expr != "JSON.stringify(window.app)" {
			t.Errorf("expression = %q", expr)
		}
		*(out.(*string)) = `{"user":{"name":"bob"}}`
		return nil
	}

	if err := s.Steps[0].Action(context.Background(), client); err != nil {
		t.Fatalf("action error = %v", err)
	}
	if got := client.Visits(); len(got) != 1 || got[0] != "https://example.com/" {
		t.Errorf("visits = %v", got)
	}
	if got := client.Clicks(); len(got) != 1 || got[0] != "#go" {
		t.Errorf("clicks = %v", got)
	}
	dialogs := client.Dialogs()
	if len(dialogs) != 2 || !dialogs[0].Accept || dialogs[0].PromptText != "yes please" || dialogs[1].Accept {
		t.Errorf("dialogs = %+v", dialogs)
	}
	if _, err := os.Stat(filepath.Join(dir, "shots", "home.png")); err != nil {
		t.Errorf("screenshot not written: %v", err)
	}
}

func TestAssertJSONFailure(t *testing.T) {
	src := `steps:
  - name: JSON
    actions:
      - assertJSON: { expression: data, path: items.#, equals: "3" }
`
	s := compile(t, src)
	client := browsertest.NewClient()
	client.EvaluateFunc = func(ctx context.Context, expr string, out interface{}) error {
		*(out.(*string)) = `{"items":[1,2]}`
		return nil
	}
	err := s.Steps[0].Action(context.Background(), client)
	var ae *script.AssertionError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AssertionError, got %v", err)
	}
	if ae.Message != `"2" == "3"` {
		t.Errorf("message = %q", ae.Message)
	}
}

func TestAssertJSONSerializesOnce(t *testing.T) {
	for _, expr := range []string{"window.app", "JSON.stringify(window.app)", " JSON.stringify(window.app) "} {
		t.Run(expr, func(t *testing.T) {
			src := "steps:\n  - actions:\n      - assertJSON: { expression: \"" + expr + "\", path: user.name, equals: bob }\n"
			s := compile(t, src)
			client := browsertest.NewClient()
			client.EvaluateFunc = func(ctx context.Context, got string, out interface{}) error {
				if got != "JSON.stringify(window.app)" {
					t.Errorf("expression = %q", got)
				}
				*(out.(*string)) = `{"user":{"name":"bob"}}`
				return nil
			}
			if err := s.Steps[0].Action(context.Background(), client); err != nil {
				t.Fatalf("action error = %v", err)
			}
		})
	}
}

func TestInfrastructureErrorsAreNotAssertions(t *testing.T) {
	s := compile(t, "steps:\n  - actions:\n      - click: '#missing'\n")
	client := browsertest.NewClient()
	boom := errors.New("target closed")
	client.ClickFunc = func(context.Context, string) error { return boom }

	err := s.Steps[0].Action(context.Background(), client)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
	var ae *script.AssertionError
	if errors.As(err, &ae) {
		t.Fatal("driver errors must not be reported as assertions")
	}
	if s.Steps[0].Name != "Step 1" {
		t.Errorf("default name = %q", s.Steps[0].Name)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"empty", "", 0, "empty"},
		{"not mapping", "- a\n", 1, "mapping"},
		{"unknown top key", "stepz: []\n", 1, "unknown top-level key"},
		{"unknown action", "steps:\n  - actions:\n      - hover: a\n", 3, "unknown action"},
		{"unknown condition", "steps:\n  - conditions:\n      - sunrise: {}\n", 3, "unknown condition"},
		{"bad role", "steps:\n  - conditions:\n      - dialog: { role: sideways }\n", 3, "role"},
		{"bad regexp", "steps:\n  - conditions:\n      - urlMatches: \"(\"\n", 3, "url pattern"},
		{"bad wait", "steps:\n  - actions:\n      - wait: soon\n", 3, "wait"},
		{"textContains needs selector", "steps:\n  - conditions:\n      - textContains: { text: hi }\n", 3, "selector"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := script.NewYAMLCompiler("").Compile("bad.yaml", []byte(tt.src))
			var ce *script.CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CompileError, got %v", err)
			}
			if ce.Line != tt.line {
				t.Errorf("line = %d, want %d (%v)", ce.Line, tt.line, err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q does not mention %q", err, tt.msg)
			}
		})
	}
}

func TestCompileFileMissing(t *testing.T) {
	_, err := script.CompileFile(script.NewYAMLCompiler(""), filepath.Join(t.TempDir(), "nope.yaml"))
	var ce *script.CompileError
	if !errors.As(err, &ce) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected CompileError wrapping ErrNotExist, got %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"2", 2 * time.Second, false},
		{"0.25", 250 * time.Millisecond, false},
		{"150ms", 150 * time.Millisecond, false},
		{"-1", 0, true},
		{"later", 0, true},
	}
	for _, tt := range tests {
		got, err := script.ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFailfCapturesCaller(t *testing.T) {
	err := script.Failf("expected %d items", 3)
	if err.Message != "expected 3 items" {
		t.Errorf("message = %q", err.Message)
	}
	if len(err.Stack) == 0 || !strings.Contains(err.Stack[0], "TestFailfCapturesCaller") {
		t.Fatalf("first frame should be the caller, got %v", err.Stack)
	}
	if !strings.Contains(err.Stack[0], "yaml_test.go") {
		t.Errorf("frame lacks file: %q", err.Stack[0])
	}
}
