// Package host runs the configured instances: it prepares each target,
// loads and runs its scenarios in order, records the outcome and applies the
// abort policy.
package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/backend"
	"github.com/LiboWorks/screenflow/internal/config"
	"github.com/LiboWorks/screenflow/internal/device"
	"github.com/LiboWorks/screenflow/internal/interpreter"
	"github.com/LiboWorks/screenflow/internal/record"
	"github.com/LiboWorks/screenflow/internal/workflow"
)

// TranscriptName is the artifact every run summary is appended to.
const TranscriptName = "runs.log"

// ScenarioRunner runs one scenario. *interpreter.Interpreter implements it.
type ScenarioRunner interface {
	Run(ctx context.Context, target device.Target, sc *workflow.Scenario, ctl *interpreter.Control) (*interpreter.Result, error)
}

// Connector attaches network devices. *device.ADB implements it.
type Connector interface {
	Connect(ctx context.Context, target device.Target) error
}

// Transcript receives human-readable run summaries.
type Transcript interface {
	AppendFile(name, content string) error
}

// Host sequences instances and scenarios. Instances run one after another.
type Host struct {
	cfg        *config.Config
	runner     ScenarioRunner
	shell      backend.ShellBackend
	connector  Connector
	records    record.Sink
	transcript Transcript
	exit       func(code int)
	closers    []func() error
	logger     *zap.Logger
}

// Option customizes a Host.
type Option func(*Host)

// WithRecords stores a record per run in sink.
func WithRecords(sink record.Sink) Option {
	return func(h *Host) { h.records = sink }
}

// WithTranscript appends run summaries to t.
func WithTranscript(t Transcript) Option {
	return func(h *Host) { h.transcript = t }
}

// WithExit replaces os.Exit for the process abort policy.
func WithExit(exit func(code int)) Option {
	return func(h *Host) { h.exit = exit }
}

// WithCloser registers a cleanup run by Close.
func WithCloser(fn func() error) Option {
	return func(h *Host) { h.closers = append(h.closers, fn) }
}

// NewHost assembles a host from already built parts. Use New to build one
// from configuration.
func NewHost(cfg *config.Config, runner ScenarioRunner, shell backend.ShellBackend, connector Connector, logger *zap.Logger, opts ...Option) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Host{
		cfg:       cfg,
		runner:    runner,
		shell:     shell,
		connector: connector,
		records:   record.NopSink{},
		exit:      os.Exit,
		logger:    logger.Named("host"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Report collects the results of one Run call.
type Report struct {
	Results []*interpreter.Result
	// Skipped lists instances that could not be prepared.
	Skipped map[string]error
}

// Run executes every scenario of every instance in order. With a non-empty
// scenario only that scenario runs. A stop ends the whole run; an abort
// step ends it too when the abort policy is "process".
func (h *Host) Run(ctx context.Context, ctl *interpreter.Control, instances []config.InstanceConfig, scenario string) (*Report, error) {
	if ctl == nil {
		ctl = interpreter.NewControl()
	}
	report := &Report{Skipped: make(map[string]error)}

	for _, inst := range instances {
		if err := ctl.Checkpoint(ctx); err != nil {
			return report, err
		}
		target := device.Target{Name: inst.Name, Serial: inst.Serial, Language: inst.Language}
		logger := h.logger.With(zap.String("instance", inst.Name), zap.String("serial", inst.Serial))

		if err := h.prepare(ctx, inst, target, logger); err != nil {
			logger.Error("Failed to prepare instance, skipping", zap.Error(err))
			report.Skipped[inst.Name] = err
			continue
		}

		names := inst.Scenarios
		if scenario != "" {
			names = []string{scenario}
		}
		if len(names) == 0 {
			logger.Warn("Instance has no scenarios configured")
		}

		for _, name := range names {
			if err := ctl.Checkpoint(ctx); err != nil {
				return report, err
			}
			res, err := h.runScenario(ctx, ctl, inst, target, name)
			report.Results = append(report.Results, res)
			if err == nil {
				continue
			}

			var ae *interpreter.AbortError
			switch {
			case errors.As(err, &ae) && ae.Stopped:
				return report, err
			case errors.As(err, &ae) && h.cfg.AbortPolicy == config.AbortPolicyProcess:
				logger.Error("Abort policy is process, exiting", zap.String("reason", ae.Reason))
				_ = h.Close()
				_ = h.logger.Sync()
				h.exit(1)
				return report, err
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return report, err
			}
		}
	}
	return report, nil
}

func (h *Host) prepare(ctx context.Context, inst config.InstanceConfig, target device.Target, logger *zap.Logger) error {
	if inst.LaunchCommand != "" {
		logger.Info("Launching instance", zap.String("command", inst.LaunchCommand))
		env := map[string]string{
			"SCREENFLOW_INSTANCE": inst.Name,
			"SCREENFLOW_SERIAL":   inst.Serial,
		}
		out, err := h.shell.RunWithEnv(ctx, inst.LaunchCommand, env)
		if err != nil {
			return fmt.Errorf("launch command: %w", err)
		}
		if out != "" {
			logger.Debug("Launch command output", zap.String("output", out))
		}
	}
	if inst.Connect {
		if err := h.connector.Connect(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) runScenario(ctx context.Context, ctl *interpreter.Control, inst config.InstanceConfig, target device.Target, name string) (*interpreter.Result, error) {
	sc, err := interpreter.LoadScenario(h.cfg.ResourcesDir, target, name)
	var res *interpreter.Result
	if err != nil {
		h.logger.Error("Cannot run scenario", zap.String("instance", inst.Name), zap.String("scenario", name), zap.Error(err))
		res = &interpreter.Result{
			Scenario:  name,
			Target:    target.String(),
			Status:    interpreter.StatusFailed,
			Err:       err,
			StartedAt: time.Now(),
		}
	} else {
		res, err = h.runner.Run(ctx, target, sc, ctl)
	}

	h.keep(ctx, inst, res)
	return res, err
}

// keep writes the result to the record sink and the transcript. Failures
// are logged only.
func (h *Host) keep(ctx context.Context, inst config.InstanceConfig, res *interpreter.Result) {
	run := record.Run{
		ID:        res.RunID,
		Instance:  inst.Name,
		Target:    res.Target,
		Scenario:  res.Scenario,
		Status:    string(res.Status),
		Warnings:  len(res.Warnings),
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
	if run.ID == "" {
		run.ID = fmt.Sprintf("%s-%s-%d", inst.Name, res.Scenario, res.StartedAt.UnixNano())
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	// Records are written even when the run was cancelled.
	if err := h.records.Record(context.WithoutCancel(ctx), run); err != nil {
		h.logger.Warn("Failed to store run record", zap.String("run_id", run.ID), zap.Error(err))
	}
	if h.transcript != nil {
		if err := h.transcript.AppendFile(TranscriptName, res.Summary()); err != nil {
			h.logger.Warn("Failed to write transcript", zap.Error(err))
		}
	}
}

// Close releases everything the host owns.
func (h *Host) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	if err := h.records.Close(); err != nil {
		errs = append(errs, err)
	}
	h.records = record.NopSink{}
	return errors.Join(errs...)
}
