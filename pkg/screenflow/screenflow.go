// Package screenflow provides a public API for loading and running screen
// automation scenarios.
//
// Inspecting a workflows file:
//
//	scenarios, err := screenflow.LoadScenarios("resources/en/workflows.yaml")
//	for _, sc := range scenarios {
//	    fmt.Printf("%s: %d steps\n", sc.Name, sc.Steps)
//	}
//
// Running scenarios against a device:
//
//	runner, err := screenflow.NewRunner(ctx,
//	    screenflow.WithResources("./resources"),
//	    screenflow.WithInstance(screenflow.Instance{
//	        Name: "main", Serial: "emulator-5554", Language: "en",
//	        Scenarios: []string{"daily"},
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer runner.Close()
//	report, err := runner.Run(ctx, "", "")
package screenflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/config"
	"github.com/LiboWorks/screenflow/internal/host"
	"github.com/LiboWorks/screenflow/internal/interpreter"
	"github.com/LiboWorks/screenflow/internal/record"
	"github.com/LiboWorks/screenflow/internal/workflow"
)

// ErrNoRecords is returned by Runner.Recent when no record database is
// configured.
var ErrNoRecords = errors.New("screenflow: run records are not configured")

// Scenario summarizes one scenario of a workflows file.
type Scenario struct {
	Name        string
	Description string

	// Steps counts the top-level steps.
	Steps int

	// Defects lists problems found by validation. Defective steps are
	// skipped at run time.
	Defects []string
}

// LoadScenarios parses a workflows file without running it.
func LoadScenarios(path string) ([]*Scenario, error) {
	doc, err := workflow.LoadDocument(path)
	if err != nil {
		return nil, err
	}
	result := make([]*Scenario, len(doc.Scenarios))
	for i := range doc.Scenarios {
		sc := &doc.Scenarios[i]
		out := &Scenario{Name: sc.Name, Description: sc.Description, Steps: len(sc.Steps)}
		for _, d := range sc.Validate() {
			out.Defects = append(out.Defects, d.String())
		}
		result[i] = out
	}
	return result, nil
}

// Validate lists every defect in a workflows file, including duplicate
// scenario names. A nil slice means the file is clean.
func Validate(path string) ([]string, error) {
	doc, err := workflow.LoadDocument(path)
	if err != nil {
		return nil, err
	}
	var defects []string
	for _, d := range doc.Validate() {
		defects = append(defects, d.String())
	}
	return defects, nil
}

// Result is the outcome of one scenario run.
type Result struct {
	RunID    string
	Scenario string
	Target   string

	// Status is one of "completed", "aborted" or "failed".
	Status string

	Warnings []string
	Logs     []string
	Err      error

	StartedAt time.Time
	Duration  time.Duration
}

// Report collects the results of one Runner.Run call.
type Report struct {
	Results []Result

	// Skipped maps instance names that could not be prepared to the cause.
	Skipped map[string]error
}

// Record is a stored run.
type Record struct {
	ID        string
	Instance  string
	Scenario  string
	Status    string
	Warnings  int
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Runner runs scenarios on the configured instances. Its methods other
// than Run may be called from any goroutine.
type Runner struct {
	cfg     *config.Config
	host    *host.Host
	records record.Sink
	ctl     *interpreter.Control
}

// NewRunner builds a runner. Options are applied on top of ConfigFile when
// one is given, else on top of the built-in defaults.
func NewRunner(ctx context.Context, opts ...Option) (*Runner, error) {
	o := ApplyOptions(opts...)
	cfg, err := buildConfig(o)
	if err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h, c, err := host.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, host: h, records: c.Records, ctl: interpreter.NewControl()}, nil
}

func buildConfig(o *Options) (*config.Config, error) {
	cfg := config.NewConfig()
	if o.ConfigFile != "" {
		loaded, err := config.Load(o.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.WithResources(o.ResourcesDir).WithADB(o.ADBPath, o.SettleDelay)
	if o.DebugDir != "" {
		cfg.Device.DebugDir = o.DebugDir
	}
	switch {
	case len(o.WorkerCommand) > 0:
		cfg.WithOCRWorker(o.WorkerCommand...)
	case o.OpenAIKey != "":
		cfg.WithOpenAI(o.OpenAIKey, o.OpenAIBaseURL, o.OpenAIModel)
	}
	if o.AbortPolicy != "" {
		cfg.WithAbortPolicy(o.AbortPolicy)
	}
	if o.RecordsDSN != "" {
		cfg.WithRecords(o.RecordsDriver, o.RecordsDSN)
	}
	for _, inst := range o.Instances {
		cfg.WithInstance(config.InstanceConfig{
			Name:          inst.Name,
			Serial:        inst.Serial,
			Language:      inst.Language,
			Scenarios:     inst.Scenarios,
			LaunchCommand: inst.LaunchCommand,
			Connect:       inst.Connect,
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Run executes every instance, or only the named one, in order. A non-empty
// scenario replaces each instance's scenario list. The error is non-nil when
// the run was stopped, cancelled or aborted under AbortPolicyProcess.
func (r *Runner) Run(ctx context.Context, instance, scenario string) (*Report, error) {
	instances := r.cfg.Instances
	if instance != "" {
		inst, ok := r.cfg.Instance(instance)
		if !ok {
			return nil, fmt.Errorf("unknown instance %q", instance)
		}
		instances = []config.InstanceConfig{inst}
	}

	report, err := r.host.Run(ctx, r.ctl, instances, scenario)
	return fromHostReport(report), err
}

// Pause parks the current run at the next step boundary.
func (r *Runner) Pause() { r.ctl.Pause() }

// Resume continues a paused run.
func (r *Runner) Resume() { r.ctl.Resume() }

// Stop ends the current run at the next step boundary. A stopped runner
// does not run again.
func (r *Runner) Stop(reason string) { r.ctl.Stop(reason) }

// Recent returns up to limit stored runs, newest first.
func (r *Runner) Recent(ctx context.Context, limit int) ([]Record, error) {
	sink, ok := r.records.(*record.SQLSink)
	if !ok {
		return nil, ErrNoRecords
	}
	runs, err := sink.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(runs))
	for i, run := range runs {
		out[i] = Record{
			ID:        run.ID,
			Instance:  run.Instance,
			Scenario:  run.Scenario,
			Status:    run.Status,
			Warnings:  run.Warnings,
			Error:     run.Error,
			StartedAt: run.StartedAt,
			Duration:  run.Duration,
		}
	}
	return out, nil
}

// Close releases recognizers and the record database.
func (r *Runner) Close() error {
	return r.host.Close()
}

func fromHostReport(report *host.Report) *Report {
	if report == nil {
		return nil
	}
	out := &Report{Skipped: report.Skipped}
	for _, res := range report.Results {
		out.Results = append(out.Results, fromInternalResult(res))
	}
	return out
}

func fromInternalResult(res *interpreter.Result) Result {
	out := Result{
		RunID:     res.RunID,
		Scenario:  res.Scenario,
		Target:    res.Target,
		Status:    string(res.Status),
		Logs:      res.Logs,
		Err:       res.Err,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}
	return out
}
