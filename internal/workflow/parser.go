package workflow

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrScenarioNotFound is returned when a document has no scenario with the requested name.
	ErrScenarioNotFound = errors.New("scenario not found")
	// ErrEmptyScenario is returned for a scenario without steps.
	ErrEmptyScenario = errors.New("scenario has no steps")
)

// LoadDocument reads and parses a workflows file. Malformed steps do not
// fail the load; they become StepInvalid entries carrying a Defect.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	doc.Path = path
	for i := range doc.Scenarios {
		doc.Scenarios[i].Path = path
	}
	return doc, nil
}

// LoadScenario loads the named scenario from path and rejects it when it
// is missing or has no steps. Errors name both the scenario and the path.
func LoadScenario(path, name string) (*Scenario, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", name, err)
	}
	sc, ok := doc.Find(name)
	if !ok {
		return nil, fmt.Errorf("scenario %q in %s: %w", name, path, ErrScenarioNotFound)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q in %s: %w", name, path, ErrEmptyScenario)
	}
	return sc, nil
}

// ParseDocument parses workflows YAML of the form
//
//	scenarios:
//	  - name: daily
//	    description: ...
//	    steps:
//	      - click: [100, 200]
func ParseDocument(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, fmt.Errorf("no scenarios found")
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping with a scenarios key", top.Line)
	}

	list := mappingValue(top, "scenarios")
	if list == nil {
		return nil, fmt.Errorf("no scenarios found")
	}
	if list.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: scenarios must be a list", list.Line)
	}

	doc := &Document{}
	for _, node := range list.Content {
		sc, err := parseScenario(node)
		if err != nil {
			return nil, err
		}
		doc.Scenarios = append(doc.Scenarios, sc)
	}
	if len(doc.Scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios found")
	}
	return doc, nil
}

func parseScenario(node *yaml.Node) (Scenario, error) {
	if node.Kind != yaml.MappingNode {
		return Scenario{}, fmt.Errorf("line %d: scenario must be a mapping", node.Line)
	}
	sc := Scenario{Line: node.Line}
	if n := mappingValue(node, "name"); n != nil {
		sc.Name = n.Value
	}
	if n := mappingValue(node, "description"); n != nil {
		sc.Description = n.Value
	}
	if n := mappingValue(node, "steps"); n != nil && !isNull(n) {
		if n.Kind != yaml.SequenceNode {
			return Scenario{}, fmt.Errorf("line %d: steps of scenario %q must be a list", n.Line, sc.Name)
		}
		sc.Steps = parseSteps(n)
	}
	return sc, nil
}

func parseSteps(seq *yaml.Node) []Step {
	steps := make([]Step, 0, len(seq.Content))
	for _, n := range seq.Content {
		steps = append(steps, parseStep(n))
	}
	return steps
}

func invalid(node *yaml.Node, command, format string, args ...any) Step {
	return Step{Kind: StepInvalid, Command: command, Line: node.Line, Defect: fmt.Sprintf(format, args...)}
}

func parseStep(node *yaml.Node) Step {
	if node.Kind != yaml.MappingNode {
		return invalid(node, "", "step must be a single-key mapping such as 'click: [x, y]', got %q", nodeText(node))
	}
	if len(node.Content) != 2 {
		return invalid(node, "", "step must have exactly one command, got %d", len(node.Content)/2)
	}

	command := node.Content[0].Value
	value := node.Content[1]
	if isNull(value) {
		return invalid(node, command, "command %q has no value", command)
	}

	if action, ok := actionAliases[command]; ok {
		var params any
		if err := value.Decode(&params); err != nil {
			return invalid(node, command, "cannot decode parameters of %q: %v", command, err)
		}
		return Step{Kind: StepAction, Command: command, Line: node.Line, Action: action, Params: params}
	}

	switch command {
	case "set":
		return parseAssign(node, value)
	case "increment":
		if value.Kind != yaml.ScalarNode || strings.TrimSpace(value.Value) == "" {
			return invalid(node, command, "increment needs a variable name")
		}
		if strings.Contains(value.Value, "{{") {
			return invalid(node, command, "increment takes a plain variable name, not a template: %q", value.Value)
		}
		return Step{Kind: StepIncrement, Command: command, Line: node.Line, Variable: strings.TrimSpace(value.Value)}
	case "if":
		return parseConditional(node, value)
	case "while":
		return parseLoop(node, value)
	default:
		return invalid(node, command, "unknown command %q", command)
	}
}

func parseAssign(node, value *yaml.Node) Step {
	if value.Kind != yaml.MappingNode {
		return invalid(node, "set", "set expects a mapping of variable names to values")
	}
	st := Step{Kind: StepAssign, Command: "set", Line: node.Line}
	for i := 0; i+1 < len(value.Content); i += 2 {
		var v any
		if err := value.Content[i+1].Decode(&v); err != nil {
			return invalid(node, "set", "cannot decode value of %q: %v", value.Content[i].Value, err)
		}
		st.Bindings = append(st.Bindings, Binding{Name: value.Content[i].Value, Value: v})
	}
	return st
}

func parseCondition(node, value *yaml.Node, command string) (string, *Step) {
	if value.Kind != yaml.MappingNode {
		s := invalid(node, command, "%s expects a mapping with a condition", command)
		return "", &s
	}
	cond := mappingValue(value, "condition")
	if cond == nil || cond.Kind != yaml.ScalarNode || strings.TrimSpace(cond.Value) == "" {
		s := invalid(node, command, "%s is missing its condition", command)
		return "", &s
	}
	return cond.Value, nil
}

func parseBlock(node, value *yaml.Node, command, key string) ([]Step, *Step) {
	n := mappingValue(value, key)
	if n == nil || isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		s := invalid(node, command, "%s.%s must be a list of steps", command, key)
		return nil, &s
	}
	return parseSteps(n), nil
}

func parseConditional(node, value *yaml.Node) Step {
	cond, bad := parseCondition(node, value, "if")
	if bad != nil {
		return *bad
	}
	then, bad := parseBlock(node, value, "if", "then")
	if bad != nil {
		return *bad
	}
	els, bad := parseBlock(node, value, "if", "else")
	if bad != nil {
		return *bad
	}
	return Step{Kind: StepConditional, Command: "if", Line: node.Line, Condition: cond, Then: then, Else: els}
}

func parseLoop(node, value *yaml.Node) Step {
	cond, bad := parseCondition(node, value, "while")
	if bad != nil {
		return *bad
	}
	body, bad := parseBlock(node, value, "while", "do")
	if bad != nil {
		return *bad
	}
	return Step{Kind: StepLoop, Command: "while", Line: node.Line, Condition: cond, Body: body}
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

func nodeText(node *yaml.Node) string {
	if node.Kind == yaml.ScalarNode {
		return node.Value
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return "?"
	}
	return strings.TrimSpace(string(out))
}
