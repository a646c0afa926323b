package workflow

import "fmt"

// Diagnostic describes one problem found in a workflows file.
type Diagnostic struct {
	Scenario string
	Path     string
	Line     int
	Message  string
}

func (d Diagnostic) String() string {
	if d.Path == "" {
		return fmt.Sprintf("scenario %q (line %d): %s", d.Scenario, d.Line, d.Message)
	}
	return fmt.Sprintf("scenario %q %s (line %d): %s", d.Scenario, d.Path, d.Line, d.Message)
}

// Validate lists every defect in the scenario. A scenario with defects can
// still run; invalid steps are skipped.
func (sc *Scenario) Validate() []Diagnostic {
	var diags []Diagnostic
	if sc.Name == "" {
		diags = append(diags, Diagnostic{Line: sc.Line, Message: "scenario name is required"})
	}
	if len(sc.Steps) == 0 {
		diags = append(diags, Diagnostic{Scenario: sc.Name, Line: sc.Line, Message: "scenario must have at least one step"})
	}
	walkSteps(sc.Steps, "steps", func(st Step, path string) {
		if st.Kind == StepInvalid {
			diags = append(diags, Diagnostic{Scenario: sc.Name, Path: path, Line: st.Line, Message: st.Defect})
		}
	})
	return diags
}

// Validate checks every scenario in the document plus name uniqueness.
func (d *Document) Validate() []Diagnostic {
	var diags []Diagnostic
	seen := make(map[string]bool)
	for i := range d.Scenarios {
		sc := &d.Scenarios[i]
		if sc.Name != "" && seen[sc.Name] {
			diags = append(diags, Diagnostic{Scenario: sc.Name, Line: sc.Line, Message: "duplicate scenario name"})
		}
		seen[sc.Name] = true
		diags = append(diags, sc.Validate()...)
	}
	return diags
}

// StepPath formats the location of a child step, e.g. steps[2].then[0].
func StepPath(parent string, index int) string {
	return fmt.Sprintf("%s[%d]", parent, index)
}

func walkSteps(steps []Step, path string, visit func(Step, string)) {
	for i, st := range steps {
		p := StepPath(path, i)
		visit(st, p)
		switch st.Kind {
		case StepConditional:
			walkSteps(st.Then, p+".then", visit)
			walkSteps(st.Else, p+".else", visit)
		case StepLoop:
			walkSteps(st.Body, p+".do", visit)
		}
	}
}
