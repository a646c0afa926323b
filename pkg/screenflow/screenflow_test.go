package screenflow_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LiboWorks/screenflow/pkg/screenflow"
)

func fixture(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name+".yaml")
}

func TestLoadScenarios(t *testing.T) {
	scenarios, err := screenflow.LoadScenarios(fixture("basic"))
	if err != nil {
		t.Fatalf("LoadScenarios failed: %v", err)
	}
	if len(scenarios) != 2 {
		t.Fatalf("expected 2 scenarios, got %d", len(scenarios))
	}
	if scenarios[0].Name != "daily" || scenarios[1].Name != "shutdown" {
		t.Errorf("unexpected scenario names %q, %q", scenarios[0].Name, scenarios[1].Name)
	}
	if scenarios[0].Description != "Collect the daily reward" {
		t.Errorf("unexpected description %q", scenarios[0].Description)
	}
	for _, sc := range scenarios {
		if len(sc.Defects) != 0 {
			t.Errorf("scenario %s: unexpected defects %v", sc.Name, sc.Defects)
		}
	}
}

func TestValidate(t *testing.T) {
	defects, err := screenflow.Validate(fixture("defects"))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(defects) != 8 {
		t.Fatalf("expected 8 defects, got %d: %v", len(defects), defects)
	}

	clean, err := screenflow.Validate(fixture("basic"))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if clean != nil {
		t.Errorf("expected no defects, got %v", clean)
	}

	if _, err := screenflow.Validate(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

const runnerWorkflows = `
scenarios:
  - name: greet
    steps:
      - set:
          name: World
          n: 0
      - while:
          condition: n < 3
          do:
            - increment: n
      - bogus: 1
      - log: "Hello {{ name }} {{ n }}"
  - name: bail
    steps:
      - abort: "nothing left to do"
      - log: unreachable
`

func newRunner(t *testing.T, opts ...screenflow.Option) *screenflow.Runner {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "en"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "en", "workflows.yaml"), []byte(runnerWorkflows), 0o644); err != nil {
		t.Fatal(err)
	}

	base := []screenflow.Option{
		screenflow.WithResources(dir),
		screenflow.WithRecords("sqlite", ":memory:"),
		screenflow.WithInstance(screenflow.Instance{
			Name: "main", Serial: "emulator-5554", Language: "en",
			Scenarios: []string{"greet", "bail"},
		}),
	}
	runner, err := screenflow.NewRunner(context.Background(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	t.Cleanup(func() { runner.Close() })
	return runner
}

func TestRunnerRunsScenarios(t *testing.T) {
	ctx := context.Background()
	runner := newRunner(t)

	report, err := runner.Run(ctx, "", "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}

	greet := report.Results[0]
	if greet.Status != "completed" {
		t.Errorf("expected greet to complete, got %s (%v)", greet.Status, greet.Err)
	}
	if len(greet.Logs) != 1 || greet.Logs[0] != "Hello World 3" {
		t.Errorf("unexpected logs %v", greet.Logs)
	}
	if len(greet.Warnings) != 1 || !strings.Contains(greet.Warnings[0], "steps[2]") {
		t.Errorf("expected one warning at steps[2], got %v", greet.Warnings)
	}

	bail := report.Results[1]
	if bail.Status != "aborted" {
		t.Errorf("expected bail to abort, got %s", bail.Status)
	}
	if len(bail.Logs) != 0 {
		t.Errorf("expected no logs after abort, got %v", bail.Logs)
	}

	records, err := runner.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	ids := map[string]bool{records[0].ID: true, records[1].ID: true}
	if !ids[greet.RunID] || !ids[bail.RunID] {
		t.Errorf("records %v do not match run ids %s, %s", records, greet.RunID, bail.RunID)
	}
}

func TestRunnerSingleScenario(t *testing.T) {
	runner := newRunner(t)

	report, err := runner.Run(context.Background(), "main", "greet")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Scenario != "greet" {
		t.Errorf("expected only greet to run, got %+v", report.Results)
	}

	if _, err := runner.Run(context.Background(), "ghost", ""); err == nil {
		t.Error("expected an error for an unknown instance")
	}
}

func TestRunnerStop(t *testing.T) {
	runner := newRunner(t)
	runner.Stop("maintenance")

	report, err := runner.Run(context.Background(), "", "")
	if err == nil || !strings.Contains(err.Error(), "maintenance") {
		t.Errorf("expected a stop error naming the reason, got %v", err)
	}
	if report == nil || len(report.Results) != 0 {
		t.Errorf("expected no results after stop, got %+v", report)
	}
}

func TestNewRunnerRejectsInvalidConfiguration(t *testing.T) {
	_, err := screenflow.NewRunner(context.Background(), screenflow.WithAbortPolicy("sometimes"))
	if err == nil {
		t.Fatal("expected an error for an unknown abort policy")
	}

	_, err = screenflow.NewRunner(context.Background(), screenflow.WithInstance(screenflow.Instance{Name: "main"}))
	if err == nil {
		t.Fatal("expected an error for an instance without a serial")
	}
}

func TestRecentWithoutRecords(t *testing.T) {
	runner, err := screenflow.NewRunner(context.Background(), screenflow.WithResources(t.TempDir()))
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	defer runner.Close()

	if _, err := runner.Recent(context.Background(), 5); err != screenflow.ErrNoRecords {
		t.Errorf("expected ErrNoRecords, got %v", err)
	}
}
