package script

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/pagerunner/internal/condition"
)

// YAMLCompiler compiles the YAML script format.
type YAMLCompiler struct {
	// ArtifactsDir receives files written by screenshot actions.
	ArtifactsDir string
}

var _ Compiler = (*YAMLCompiler)(nil)

func NewYAMLCompiler(artifactsDir string) *YAMLCompiler {
	return &YAMLCompiler{ArtifactsDir: artifactsDir}
}

// CompileFile reads path and compiles it with c.
func CompileFile(c Compiler, path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &CompileError{Path: path, Err: err}
	}
	return c.Compile(path, src)
}

func (c *YAMLCompiler) Compile(path string, src []byte) (*Script, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, &CompileError{Path: path, Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &CompileError{Path: path, Err: errors.New("script is empty")}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errAt(path, root, "script must be a mapping with settings and steps")
	}

	s := &Script{Path: path, Settings: map[string]interface{}{}}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "settings":
			if err := value.Decode(&s.Settings); err != nil {
				return nil, errAt(path, value, "settings: %v", err)
			}
		case "steps":
			if value.Kind != yaml.SequenceNode {
				return nil, errAt(path, value, "steps must be a list")
			}
			for idx, node := range value.Content {
				step, err := c.compileStep(path, idx, node)
				if err != nil {
					return nil, err
				}
				s.Steps = append(s.Steps, step)
			}
		default:
			return nil, errAt(path, key, "unknown top-level key %q", key.Value)
		}
	}
	return s, nil
}

func (c *YAMLCompiler) compileStep(path string, idx int, node *yaml.Node) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return Step{}, errAt(path, node, "step %d must be a mapping", idx+1)
	}
	step := Step{Name: fmt.Sprintf("Step %d", idx+1)}
	var actions, conditions *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "name":
			step.Name = value.Value
		case "timeout":
			d, err := ParseDuration(value.Value)
			if err != nil {
				return Step{}, errAt(path, value, "step timeout: %v", err)
			}
			step.Timeout = d
		case "skip":
			if err := value.Decode(&step.Skip); err != nil {
				return Step{}, errAt(path, value, "skip: %v", err)
			}
		case "actions":
			actions = value
		case "conditions":
			conditions = value
		default:
			return Step{}, errAt(path, key, "unknown step key %q", key.Value)
		}
	}

	if actions != nil {
		if actions.Kind != yaml.SequenceNode {
			return Step{}, errAt(path, actions, "actions must be a list")
		}
		compiled := make([]compiledAction, 0, len(actions.Content))
		for _, a := range actions.Content {
			ca, err := c.compileAction(path, a)
			if err != nil {
				return Step{}, err
			}
			compiled = append(compiled, ca)
		}
		step.Action = sequence(step.Name, path, compiled)
	}

	if conditions != nil {
		if conditions.Kind != yaml.SequenceNode {
			return Step{}, errAt(path, conditions, "conditions must be a list")
		}
		for _, cn := range conditions.Content {
			cond, err := compileCondition(path, cn)
			if err != nil {
				return Step{}, err
			}
			step.Conditions = append(step.Conditions, cond)
		}
	}
	return step, nil
}

// singleKey unpacks the `- kind: value` shape used by actions and conditions.
func singleKey(path string, node *yaml.Node, what string) (*yaml.Node, *yaml.Node, error) {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return nil, nil, errAt(path, node, "%s must be a mapping with exactly one key", what)
	}
	return node.Content[0], node.Content[1], nil
}

type conditionSpec struct {
	Role     string    `yaml:"role"`
	Timeout  rawScalar `yaml:"timeout"`
	Name     string    `yaml:"name"`
	URL      string    `yaml:"url"`
	Selector string    `yaml:"selector"`
	Text     string    `yaml:"text"`
	Contains string    `yaml:"contains"`
	Quiet    rawScalar `yaml:"quiet"`
}

// rawScalar keeps the literal text of a scalar so numbers and duration
// strings share one parser.
type rawScalar string

func (r *rawScalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	*r = rawScalar(node.Value)
	return nil
}

func compileCondition(path string, node *yaml.Node) (condition.Condition, error) {
	key, value, err := singleKey(path, node, "condition")
	if err != nil {
		return nil, err
	}

	var spec conditionSpec
	switch value.Kind {
	case yaml.ScalarNode:
		switch key.Value {
		case "dialog":
			spec.Contains = value.Value
		case "navigation", "urlMatches":
			spec.URL = value.Value
		case "visible", "notVisible":
			spec.Selector = value.Value
		case "titleContains":
			spec.Text = value.Value
		case "networkIdle":
			spec.Quiet = rawScalar(value.Value)
		}
	case yaml.MappingNode:
		if err := value.Decode(&spec); err != nil {
			return nil, errAt(path, value, "%s: %v", key.Value, err)
		}
	default:
		return nil, errAt(path, value, "%s: expected a value or a mapping", key.Value)
	}

	var opts []condition.Option
	if spec.Role != "" {
		role, err := condition.ParseRole(spec.Role)
		if err != nil {
			return nil, errAt(path, value, "%v", err)
		}
		opts = append(opts, condition.WithRole(role))
	}
	if spec.Timeout != "" {
		d, err := ParseDuration(string(spec.Timeout))
		if err != nil {
			return nil, errAt(path, value, "timeout: %v", err)
		}
		opts = append(opts, condition.WithTimeout(d))
	}
	if spec.Name != "" {
		opts = append(opts, condition.WithName(spec.Name))
	}

	var cond condition.Condition
	switch key.Value {
	case "dialog":
		cond = condition.NewDialog(spec.Contains, opts...)
	case "navigation":
		cond, err = condition.NewNavigation(spec.URL, opts...)
	case "visible", "notVisible":
		if spec.Selector == "" {
			return nil, errAt(path, value, "%s requires a selector", key.Value)
		}
		if key.Value == "visible" {
			cond = condition.NewVisible(spec.Selector, opts...)
		} else {
			cond = condition.NewNotVisible(spec.Selector, opts...)
		}
	case "textContains":
		if spec.Selector == "" {
			return nil, errAt(path, value, "textContains requires a selector")
		}
		cond = condition.NewTextContains(spec.Selector, spec.Text, opts...)
	case "titleContains":
		cond = condition.NewTitleContains(spec.Text, opts...)
	case "urlMatches":
		cond, err = condition.NewURLMatches(spec.URL, opts...)
	case "networkIdle":
		var quiet time.Duration
		if spec.Quiet != "" {
			if quiet, err = ParseDuration(string(spec.Quiet)); err != nil {
				return nil, errAt(path, value, "quiet: %v", err)
			}
		}
		cond = condition.NewNetworkIdle(quiet, opts...)
	default:
		return nil, errAt(path, key, "unknown condition %q", key.Value)
	}
	if err != nil {
		return nil, errAt(path, value, "%v", err)
	}
	return cond, nil
}

// ParseDuration accepts Go duration strings and bare numbers of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func errAt(path string, node *yaml.Node, format string, args ...interface{}) *CompileError {
	return &CompileError{
		Path:   path,
		Line:   node.Line,
		Column: node.Column,
		Err:    fmt.Errorf(format, args...),
	}
}
