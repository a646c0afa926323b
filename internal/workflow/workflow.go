package workflow

import "path/filepath"

// Document is the parsed content of one workflows.yaml file.
type Document struct {
	Path      string
	Scenarios []Scenario
}

// Scenario is a named, ordered list of steps.
type Scenario struct {
	Name        string
	Description string
	Steps       []Step
	Path        string
	Line        int
}

// StepKind discriminates the Step variants.
type StepKind int

const (
	StepInvalid StepKind = iota
	StepAction
	StepAssign
	StepIncrement
	StepConditional
	StepLoop
)

func (k StepKind) String() string {
	switch k {
	case StepAction:
		return "action"
	case StepAssign:
		return "assign"
	case StepIncrement:
		return "increment"
	case StepConditional:
		return "conditional"
	case StepLoop:
		return "loop"
	default:
		return "invalid"
	}
}

// ActionKind names a device or control action.
type ActionKind string

const (
	ActionTap    ActionKind = "tap"
	ActionSwipe  ActionKind = "swipe"
	ActionWait   ActionKind = "wait"
	ActionLog    ActionKind = "log"
	ActionNotify ActionKind = "notify"
	ActionAbort  ActionKind = "abort"
)

// actionAliases maps every accepted command spelling to its action.
var actionAliases = map[string]ActionKind{
	"tap":            ActionTap,
	"click":          ActionTap,
	"swipe":          ActionSwipe,
	"scroll":         ActionSwipe,
	"wait":           ActionWait,
	"delay":          ActionWait,
	"log":            ActionLog,
	"notify":         ActionNotify,
	"send_email":     ActionNotify,
	"abort":          ActionAbort,
	"emergency_exit": ActionAbort,
}

// Binding is one name/value pair of an Assign step, kept in source order.
type Binding struct {
	Name  string
	Value any
}

// Step is one node of a scenario's step tree. Which fields are set depends
// on Kind. Params and binding values hold the raw YAML tree (string, int,
// float64, bool, nil, []any or map[string]any) before template resolution.
type Step struct {
	Kind    StepKind
	Command string
	Line    int

	Action ActionKind
	Params any

	Bindings []Binding

	Variable string

	Condition string
	Then      []Step
	Else      []Step
	Body      []Step

	// Defect describes why an invalid step cannot run.
	Defect string
}

// ScenarioPath returns the workflows file for a language below resourcesDir.
func ScenarioPath(resourcesDir, language string) string {
	return filepath.Join(resourcesDir, language, "workflows.yaml")
}

// Find returns the scenario with the given name.
func (d *Document) Find(name string) (*Scenario, bool) {
	for i := range d.Scenarios {
		if d.Scenarios[i].Name == name {
			return &d.Scenarios[i], true
		}
	}
	return nil, false
}

// Names lists the scenario names in file order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Scenarios))
	for _, sc := range d.Scenarios {
		names = append(names, sc.Name)
	}
	return names
}
