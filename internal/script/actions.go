package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/torosent/pagerunner/internal/browser"
)

type compiledAction struct {
	kind   string
	line   int
	column int
	run    Action
}

// sequence runs actions in order. An assertion failure stops the step and is
// re-anchored on the script position of the failing action.
func sequence(step, path string, actions []compiledAction) Action {
	return func(ctx context.Context, client browser.Client) error {
		for _, a := range actions {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := a.run(ctx, client)
			if err == nil {
				continue
			}
			var ae *AssertionError
			if errors.As(err, &ae) {
				ae.Stack = []string{Frame(step, path, a.line, a.column)}
				return ae
			}
			return fmt.Errorf("%s (%s:%d:%d): %w", a.kind, path, a.line, a.column, err)
		}
		return nil
	}
}

type selectorText struct {
	Selector string `yaml:"selector"`
	Text     string `yaml:"text"`
	Key      string `yaml:"key"`
}

type expectation struct {
	Selector   string `yaml:"selector"`
	Equals     string `yaml:"equals"`
	Contains   string `yaml:"contains"`
	Matches    string `yaml:"matches"`
	Expression string `yaml:"expression"`
	Path       string `yaml:"path"`
	Exists     *bool  `yaml:"exists"`
	hasEquals  bool
}

func decodeExpectation(node *yaml.Node) (expectation, error) {
	var e expectation
	if err := node.Decode(&e); err != nil {
		return e, err
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "equals" {
			e.hasEquals = true
		}
	}
	return e, nil
}

func (c *YAMLCompiler) compileAction(path string, node *yaml.Node) (compiledAction, error) {
	key, value, err := singleKey(path, node, "action")
	if err != nil {
		return compiledAction{}, err
	}
	ca := compiledAction{kind: key.Value, line: key.Line, column: key.Column}

	scalar := func() (string, error) {
		if value.Kind != yaml.ScalarNode {
			return "", errAt(path, value, "%s expects a single value", key.Value)
		}
		return value.Value, nil
	}
	mapping := func(out interface{}) error {
		if value.Kind != yaml.MappingNode {
			return errAt(path, value, "%s expects a mapping", key.Value)
		}
		if err := value.Decode(out); err != nil {
			return errAt(path, value, "%s: %v", key.Value, err)
		}
		return nil
	}

	switch key.Value {
	case "visit":
		url, err := scalar()
		if err != nil {
			return ca, err
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			return client.Navigate(ctx, url)
		}

	case "click":
		selector, err := scalar()
		if err != nil {
			return ca, err
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			return client.Click(ctx, selector)
		}

	case "type":
		var st selectorText
		if err := mapping(&st); err != nil {
			return ca, err
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			return client.Type(ctx, st.Selector, st.Text)
		}

	case "press":
		var st selectorText
		if value.Kind == yaml.ScalarNode {
			st.Key = value.Value
		} else if err := mapping(&st); err != nil {
			return ca, err
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			return client.Press(ctx, st.Selector, st.Key)
		}

	case "wait":
		raw, err := scalar()
		if err != nil {
			return ca, err
		}
		d, err := ParseDuration(raw)
		if err != nil {
			return ca, errAt(path, value, "wait: %v", err)
		}
		ca.run = func(ctx context.Context, _ browser.Client) error {
			return sleep(ctx, d)
		}

	case "evaluate":
		expr, err := scalar()
		if err != nil {
			return ca, err
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			return client.Evaluate(ctx, expr, nil)
		}

	case "acceptDialog", "dismissDialog":
		prompt := ""
		if value.Kind == yaml.ScalarNode {
			prompt = value.Value
		}
		accept := key.Value == "acceptDialog"
		ca.run = func(ctx context.Context, client browser.Client) error {
			return client.HandleDialog(ctx, accept, prompt)
		}

	case "screenshot":
		name, err := scalar()
		if err != nil {
			return ca, err
		}
		target := name
		if !filepath.IsAbs(target) && c.ArtifactsDir != "" {
			target = filepath.Join(c.ArtifactsDir, name)
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			png, err := client.Screenshot(ctx)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return os.WriteFile(target, png, 0o644)
		}

	case "assertText":
		e, err := decodeExpectation(value)
		if err != nil || value.Kind != yaml.MappingNode || e.Selector == "" {
			return ca, errAt(path, value, "assertText expects a mapping with selector and equals or contains")
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			got, err := client.Text(ctx, e.Selector)
			if errors.Is(err, browser.ErrNoElement) {
				return &AssertionError{Name: AssertionName, Message: fmt.Sprintf("no element matches %q", e.Selector)}
			}
			if err != nil {
				return err
			}
			return e.check(got)
		}

	case "assertTitle":
		e, err := decodeExpectation(value)
		if err != nil || value.Kind != yaml.MappingNode {
			return ca, errAt(path, value, "assertTitle expects a mapping with equals or contains")
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			got, err := client.Title(ctx)
			if err != nil {
				return err
			}
			return e.check(got)
		}

	case "assertURL":
		e, err := decodeExpectation(value)
		if err != nil || value.Kind != yaml.MappingNode {
			return ca, errAt(path, value, "assertURL expects a mapping with equals, contains or matches")
		}
		if e.Matches != "" {
			if _, err := regexp.Compile(e.Matches); err != nil {
				return ca, errAt(path, value, "assertURL: %v", err)
			}
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			got, err := client.URL(ctx)
			if err != nil {
				return err
			}
			return e.check(got)
		}

	case "assertVisible":
		selector, err := scalar()
		if err != nil {
			return ca, err
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			visible, err := client.Visible(ctx, selector)
			if err != nil && !errors.Is(err, browser.ErrNoElement) {
				return err
			}
			if !visible {
				return &AssertionError{Name: AssertionName, Message: fmt.Sprintf("%q is not visible", selector)}
			}
			return nil
		}

	case "assertJSON":
		e, err := decodeExpectation(value)
		if err != nil || value.Kind != yaml.MappingNode || e.Expression == "" || e.Path == "" {
			return ca, errAt(path, value, "assertJSON expects a mapping with expression and path")
		}
		ca.run = func(ctx context.Context, client browser.Client) error {
			var doc string
			if err := client.Evaluate(ctx, jsonExpression(e.Expression), &doc); err != nil {
				return err
			}
			return e.checkJSON(doc)
		}

	default:
		return ca, errAt(path, key, "unknown action %q", key.Value)
	}
	return ca, nil
}

// jsonExpression wraps expr so the page returns JSON text, unless the
// script already serializes it.
func jsonExpression(expr string) string {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "JSON.stringify(") && strings.HasSuffix(expr, ")") {
		return expr
	}
	return "JSON.stringify(" + expr + ")"
}

func (e expectation) check(got string) error {
	switch {
	case e.hasEquals && got != e.Equals:
		return &AssertionError{Name: AssertionName, Message: fmt.Sprintf("%q == %q", got, e.Equals)}
	case e.Contains != "" && !strings.Contains(got, e.Contains):
		return &AssertionError{Name: AssertionName, Message: fmt.Sprintf("%q contains %q", got, e.Contains)}
	case e.Matches != "" && !regexp.MustCompile(e.Matches).MatchString(got):
		return &AssertionError{Name: AssertionName, Message: fmt.Sprintf("%q matches %q", got, e.Matches)}
	}
	return nil
}

func (e expectation) checkJSON(doc string) error {
	if !gjson.Valid(doc) {
		return &AssertionError{Name: AssertionName, Message: fmt.Sprintf("%s did not produce JSON", e.Expression)}
	}
	res := gjson.Get(doc, e.Path)
	if e.Exists != nil {
		if res.Exists() != *e.Exists {
			return &AssertionError{Name: AssertionName, Message: fmt.Sprintf("path %q exists == %t", e.Path, *e.Exists)}
		}
		return nil
	}
	if !res.Exists() {
		return &AssertionError{Name: AssertionName, Message: fmt.Sprintf("path %q not found", e.Path)}
	}
	return e.check(res.String())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
