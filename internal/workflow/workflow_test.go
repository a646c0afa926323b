package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func getFixturePath(name string) string {
	// Find repo root
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return filepath.Join(dir, "testdata", "fixtures", name+".yaml")
}

func TestLoadDocumentBasic(t *testing.T) {
	doc, err := LoadDocument(getFixturePath("basic"))
	if err != nil {
		t.Fatalf("failed to parse workflows: %v", err)
	}

	if got := doc.Names(); len(got) != 2 || got[0] != "daily" || got[1] != "shutdown" {
		t.Fatalf("unexpected scenario names: %v", got)
	}

	sc, ok := doc.Find("daily")
	if !ok {
		t.Fatal("scenario daily not found")
	}
	if sc.Description != "Collect the daily reward" {
		t.Errorf("unexpected description %q", sc.Description)
	}
	if len(sc.Steps) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(sc.Steps))
	}
	if diags := sc.Validate(); len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %v", diags)
	}

	set := sc.Steps[0]
	if set.Kind != StepAssign || len(set.Bindings) != 2 {
		t.Fatalf("expected assign with 2 bindings, got %+v", set)
	}
	if set.Bindings[0].Name != "attempts" || set.Bindings[0].Value != 0 {
		t.Errorf("unexpected first binding %+v", set.Bindings[0])
	}
	if set.Bindings[1].Value != "{{ 'gold' }}" {
		t.Errorf("template binding should stay raw, got %v", set.Bindings[1].Value)
	}

	click := sc.Steps[1]
	if click.Kind != StepAction || click.Action != ActionTap || click.Command != "click" {
		t.Errorf("click should parse as tap action, got %+v", click)
	}
	params, ok := click.Params.([]any)
	if !ok || len(params) != 2 || params[0] != 540 || params[1] != 1200 {
		t.Errorf("unexpected click params %#v", click.Params)
	}

	if sc.Steps[2].Action != ActionWait {
		t.Errorf("delay should parse as wait, got %q", sc.Steps[2].Action)
	}

	cond := sc.Steps[3]
	if cond.Kind != StepConditional {
		t.Fatalf("expected conditional, got %v", cond.Kind)
	}
	if !strings.HasPrefix(cond.Condition, "compare_with_image(") {
		t.Errorf("unexpected condition %q", cond.Condition)
	}
	if len(cond.Then) != 2 || len(cond.Else) != 1 {
		t.Errorf("expected 2 then and 1 else steps, got %d/%d", len(cond.Then), len(cond.Else))
	}
	if cond.Else[0].Action != ActionSwipe {
		t.Errorf("scroll should parse as swipe, got %q", cond.Else[0].Action)
	}

	loop := sc.Steps[4]
	if loop.Kind != StepLoop || loop.Condition != "attempts < 3" || len(loop.Body) != 1 {
		t.Fatalf("unexpected loop %+v", loop)
	}
	if loop.Body[0].Kind != StepIncrement || loop.Body[0].Variable != "attempts" {
		t.Errorf("unexpected loop body %+v", loop.Body[0])
	}

	if sc.Steps[5].Action != ActionNotify {
		t.Errorf("send_email should parse as notify, got %q", sc.Steps[5].Action)
	}

	shutdown, _ := doc.Find("shutdown")
	if shutdown.Steps[0].Action != ActionAbort {
		t.Errorf("emergency_exit should parse as abort, got %q", shutdown.Steps[0].Action)
	}
}

func TestMalformedStepsAreKept(t *testing.T) {
	doc, err := LoadDocument(getFixturePath("defects"))
	if err != nil {
		t.Fatalf("malformed steps must not fail the load: %v", err)
	}
	sc, _ := doc.Find("broken")

	tests := []struct {
		index  int
		kind   StepKind
		defect string
	}{
		{0, StepAssign, ""},
		{1, StepInvalid, "single-key mapping"},
		{2, StepAction, ""},
		{3, StepInvalid, "unknown command"},
		{4, StepInvalid, "not a template"},
		{5, StepInvalid, "has no value"},
		{6, StepInvalid, "exactly one command"},
		{7, StepInvalid, "missing its condition"},
		{8, StepLoop, ""},
	}

	if len(sc.Steps) != len(tests) {
		t.Fatalf("expected %d steps, got %d", len(tests), len(sc.Steps))
	}
	for _, tt := range tests {
		st := sc.Steps[tt.index]
		if st.Kind != tt.kind {
			t.Errorf("step %d: expected kind %v, got %v", tt.index, tt.kind, st.Kind)
		}
		if !strings.Contains(st.Defect, tt.defect) {
			t.Errorf("step %d: defect %q does not mention %q", tt.index, st.Defect, tt.defect)
		}
	}
}

func TestValidateDocument(t *testing.T) {
	doc, err := LoadDocument(getFixturePath("defects"))
	if err != nil {
		t.Fatalf("failed to parse workflows: %v", err)
	}

	diags := doc.Validate()
	// six invalid top-level steps, one nested, one empty scenario
	if len(diags) != 8 {
		t.Fatalf("expected 8 diagnostics, got %d: %v", len(diags), diags)
	}

	var nested bool
	for _, d := range diags {
		if d.Path == "steps[8].do[0]" {
			nested = true
		}
	}
	if !nested {
		t.Errorf("expected a diagnostic for the nested loop step, got %v", diags)
	}
}

func TestLoadScenarioErrors(t *testing.T) {
	path := getFixturePath("defects")

	_, err := LoadScenario(path, "nope")
	if !errors.Is(err, ErrScenarioNotFound) {
		t.Errorf("expected ErrScenarioNotFound, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "nope") || !strings.Contains(err.Error(), path) {
		t.Errorf("error should name scenario and path, got %v", err)
	}

	_, err = LoadScenario(path, "empty")
	if !errors.Is(err, ErrEmptyScenario) {
		t.Errorf("expected ErrEmptyScenario, got %v", err)
	}

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"), "daily")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}

	sc, err := LoadScenario(path, "broken")
	if err != nil {
		t.Fatalf("broken scenario should still load: %v", err)
	}
	if sc.Path != path {
		t.Errorf("expected path %q, got %q", path, sc.Path)
	}
}

func TestParseDocumentRejectsBadShape(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"no scenarios key", "name: x\n"},
		{"scenarios not a list", "scenarios: {a: 1}\n"},
		{"scenario not a mapping", "scenarios:\n  - just a string\n"},
		{"steps not a list", "scenarios:\n  - name: a\n    steps: {click: [1, 2]}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDocument([]byte(tt.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestScenarioPath(t *testing.T) {
	got := ScenarioPath("resources", "en")
	want := filepath.Join("resources", "en", "workflows.yaml")
	if got != want {
		t.Errorf("ScenarioPath() = %q, want %q", got, want)
	}
}
