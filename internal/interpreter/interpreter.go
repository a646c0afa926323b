// Package interpreter walks a scenario's step tree against one target,
// dispatching device actions and evaluating conditions whose callables run
// the perception primitives.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/device"
	"github.com/LiboWorks/screenflow/internal/notify"
	"github.com/LiboWorks/screenflow/internal/runtime"
	"github.com/LiboWorks/screenflow/internal/workflow"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Default notification subjects.
const (
	NotifySubject = "screenflow notification"
	AbortSubject  = "screenflow: run aborted"
)

// Warning records a step that was skipped.
type Warning struct {
	Path    string
	Command string
	Message string
}

func (w Warning) String() string {
	if w.Command == "" {
		return fmt.Sprintf("%s: %s", w.Path, w.Message)
	}
	return fmt.Sprintf("%s (%s): %s", w.Path, w.Command, w.Message)
}

// Result summarizes one run.
type Result struct {
	RunID     string
	Scenario  string
	Target    string
	Status    Status
	Warnings  []Warning
	Logs      []string
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Interpreter runs scenarios. It keeps no state between runs.
type Interpreter struct {
	perc     Perception
	input    device.Input
	notifier notify.Notifier
	logger   *zap.Logger
}

// New creates an interpreter. A nil notifier drops notifications.
func New(perc Perception, input device.Input, notifier notify.Notifier, logger *zap.Logger) *Interpreter {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		perc:     perc,
		input:    input,
		notifier: notifier,
		logger:   logger.Named("interpreter"),
	}
}

// LoadScenario loads the named scenario for target from
// <resourcesDir>/<language>/workflows.yaml. Every failure is a
// *ConfigurationError.
func LoadScenario(resourcesDir string, target device.Target, name string) (*workflow.Scenario, error) {
	path := workflow.ScenarioPath(resourcesDir, target.Language)
	sc, err := workflow.LoadScenario(path, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("workflows file not found for language %q: %w", target.Language, err)
		}
		return nil, &ConfigurationError{Scenario: name, Path: path, Err: err}
	}
	return sc, nil
}

// Run executes sc against target. A nil ctl runs without external control.
//
// The returned error is a *ConfigurationError when the scenario cannot run,
// an *AbortError when an abort step or a stop ended it, or the context
// error. Result is never nil.
func (in *Interpreter) Run(ctx context.Context, target device.Target, sc *workflow.Scenario, ctl *Control) (*Result, error) {
	if ctl == nil {
		ctl = NewControl()
	}
	res := &Result{
		RunID:     uuid.NewString(),
		Target:    target.String(),
		Status:    StatusIdle,
		StartedAt: time.Now(),
	}
	logger := in.logger.With(zap.String("run_id", res.RunID), zap.String("target", res.Target))

	if sc == nil {
		return in.finish(res, logger, &ConfigurationError{Err: workflow.ErrScenarioNotFound})
	}
	res.Scenario = sc.Name
	logger = logger.With(zap.String("scenario", sc.Name))
	if len(sc.Steps) == 0 {
		return in.finish(res, logger, &ConfigurationError{Scenario: sc.Name, Path: sc.Path, Err: workflow.ErrEmptyScenario})
	}

	r := &run{
		in:       in,
		ctx:      ctx,
		ctl:      ctl,
		target:   target,
		rc:       runtime.NewRuntimeContext(target.String()),
		resolver: runtime.NewResolver(),
		res:      res,
		logger:   logger,
	}
	(&callables{ctx: ctx, target: target, perc: in.perc, logger: logger}).register(r.resolver)

	res.Status = StatusRunning
	logger.Info("Executing scenario", zap.String("description", sc.Description), zap.Int("steps", len(sc.Steps)))
	return in.finish(res, logger, r.steps(sc.Steps, "steps"))
}

func (in *Interpreter) finish(res *Result, logger *zap.Logger, err error) (*Result, error) {
	res.Duration = time.Since(res.StartedAt)
	res.Err = err
	switch {
	case err == nil:
		res.Status = StatusCompleted
		logger.Info("Finished scenario", zap.Duration("duration", res.Duration), zap.Int("warnings", len(res.Warnings)))
	case IsAbort(err), errors.Is(err, context.Canceled):
		res.Status = StatusAborted
		logger.Warn("Scenario aborted", zap.Error(err), zap.Duration("duration", res.Duration))
	default:
		res.Status = StatusFailed
		logger.Error("Scenario failed", zap.Error(err))
	}
	return res, err
}

// run is the state of one Run call.
type run struct {
	in       *Interpreter
	ctx      context.Context
	ctl      *Control
	target   device.Target
	rc       *runtime.RuntimeContext
	resolver *runtime.Resolver
	res      *Result
	logger   *zap.Logger
}

func (r *run) steps(steps []workflow.Step, parent string) error {
	for i := range steps {
		if err := r.ctl.Checkpoint(r.ctx); err != nil {
			return err
		}
		if err := r.step(&steps[i], workflow.StepPath(parent, i)); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) step(st *workflow.Step, path string) error {
	switch st.Kind {
	case workflow.StepAction:
		return r.action(st, path)
	case workflow.StepAssign:
		for _, b := range st.Bindings {
			v := r.resolve(path, st.Command, b.Value)
			r.rc.Set(b.Name, v)
		}
		r.logger.Debug("Context updated", zap.String("step", path), zap.Strings("variables", r.rc.Names()))
	case workflow.StepIncrement:
		r.increment(st, path)
	case workflow.StepConditional:
		if r.condition(path, st.Condition) {
			return r.steps(st.Then, path+".then")
		}
		return r.steps(st.Else, path+".else")
	case workflow.StepLoop:
		for {
			if err := r.ctl.Checkpoint(r.ctx); err != nil {
				return err
			}
			if !r.condition(path, st.Condition) {
				return nil
			}
			if err := r.steps(st.Body, path+".do"); err != nil {
				return err
			}
		}
	default:
		r.warn(path, st.Command, st.Defect)
	}
	return nil
}

func (r *run) increment(st *workflow.Step, path string) {
	cur, ok := r.rc.Get(st.Variable)
	if !ok || cur.IsNull() {
		cur = runtime.Int(0)
	}
	switch cur.Kind() {
	case runtime.KindInt:
		n, _ := cur.Int()
		r.rc.Set(st.Variable, runtime.Int(n+1))
	case runtime.KindFloat:
		f, _ := cur.Float()
		r.rc.Set(st.Variable, runtime.Float(f+1))
	default:
		r.warn(path, st.Command, fmt.Sprintf("cannot increment %q holding %s", st.Variable, cur.Kind()))
		return
	}
	v, _ := r.rc.Get(st.Variable)
	r.logger.Debug("Incremented", zap.String("step", path), zap.String("variable", st.Variable), zap.Stringer("value", v))
}

// condition evaluates src raw. Faults count as false.
func (r *run) condition(path, src string) bool {
	ok, err := r.resolver.Condition(r.rc, src)
	if err != nil {
		r.logger.Error("Condition evaluation failed",
			zap.String("step", path), zap.String("condition", src), zap.Error(err))
		return false
	}
	r.logger.Debug("Condition evaluated", zap.String("step", path), zap.String("condition", src), zap.Bool("result", ok))
	return ok
}

// resolve renders and coerces a raw parameter tree. Template faults have
// rendered as empty text; they are logged here.
func (r *run) resolve(path, command string, raw any) runtime.Value {
	v, errs := r.resolver.Resolve(r.rc, raw)
	for _, err := range errs {
		r.logger.Warn("Template evaluation failed",
			zap.String("step", path), zap.String("command", command), zap.Error(err))
	}
	return v
}

func (r *run) warn(path, command, msg string) {
	w := Warning{Path: path, Command: command, Message: msg}
	r.res.Warnings = append(r.res.Warnings, w)
	r.logger.Warn("Skipping step", zap.String("step", path), zap.String("command", command), zap.String("reason", msg))
}

func (r *run) action(st *workflow.Step, path string) error {
	v := r.resolve(path, st.Command, st.Params)
	switch st.Action {
	case workflow.ActionTap:
		r.tap(st, path, v)
	case workflow.ActionSwipe:
		r.swipe(st, path, v)
	case workflow.ActionWait:
		return r.wait(st, path, v)
	case workflow.ActionLog:
		msg := v.String()
		r.res.Logs = append(r.res.Logs, msg)
		r.logger.Info("[WORKFLOW] "+msg, zap.String("step", path))
	case workflow.ActionNotify:
		subject, body := NotifySubject, v.String()
		if m := v.Map(); m != nil {
			if s, ok := m["subject"]; ok {
				subject = s.String()
			}
			if b, ok := m["body"]; ok {
				body = b.String()
			}
		}
		r.notify(path, subject, body)
	case workflow.ActionAbort:
		reason := v.String()
		r.logger.Error("Emergency abort", zap.String("step", path), zap.String("reason", reason))
		r.notify(path, AbortSubject, reason)
		return &AbortError{Reason: reason}
	default:
		r.warn(path, st.Command, fmt.Sprintf("unsupported action %q", st.Action))
	}
	return nil
}

func (r *run) tap(st *workflow.Step, path string, v runtime.Value) {
	if v.IsNull() {
		r.warn(path, st.Command, "tap target resolved to None")
		return
	}
	pt, ok := v.Point()
	if !ok {
		r.warn(path, st.Command, fmt.Sprintf("tap needs [x, y] or {x, y}, got %s", v))
		return
	}
	if err := r.in.input.Tap(r.ctx, r.target, pt.X, pt.Y); err != nil {
		r.logger.Warn("Tap failed", zap.String("step", path), zap.Int("x", pt.X), zap.Int("y", pt.Y), zap.Error(err))
		return
	}
	r.logger.Debug("Tapped", zap.String("step", path), zap.Int("x", pt.X), zap.Int("y", pt.Y))
}

// swipeArgs accepts [x, y, direction, distance] or a mapping with those keys.
func swipeArgs(v runtime.Value) (x, y int, dir device.Direction, distance int, err error) {
	var parts []runtime.Value
	switch v.Kind() {
	case runtime.KindList:
		parts = v.List()
	case runtime.KindMap:
		m := v.Map()
		parts = []runtime.Value{m["x"], m["y"], m["direction"], m["distance"]}
	}
	if len(parts) != 4 {
		return 0, 0, "", 0, fmt.Errorf("swipe needs [x, y, direction, distance], got %s", v)
	}
	xs, okx := parts[0].Int()
	ys, oky := parts[1].Int()
	ds, okd := parts[3].Int()
	if !okx || !oky || !okd {
		return 0, 0, "", 0, fmt.Errorf("swipe coordinates and distance must be integers, got %s", v)
	}
	name, _ := parts[2].Str()
	if dir, err = device.ParseDirection(name); err != nil {
		return 0, 0, "", 0, err
	}
	return int(xs), int(ys), dir, int(ds), nil
}

func (r *run) swipe(st *workflow.Step, path string, v runtime.Value) {
	x, y, dir, distance, err := swipeArgs(v)
	if err != nil {
		r.warn(path, st.Command, err.Error())
		return
	}
	if err := r.in.input.Swipe(r.ctx, r.target, x, y, dir, distance); err != nil {
		r.logger.Warn("Swipe failed", zap.String("step", path), zap.Error(err))
		return
	}
	r.logger.Debug("Swiped", zap.String("step", path), zap.Int("x", x), zap.Int("y", y),
		zap.String("direction", string(dir)), zap.Int("distance", distance))
}

// wait sleeps for the given number of seconds. A stop or cancellation
// interrupts it.
func (r *run) wait(st *workflow.Step, path string, v runtime.Value) error {
	secs, ok := v.Float()
	if !ok || secs < 0 {
		r.warn(path, st.Command, fmt.Sprintf("wait needs a non-negative number of seconds, got %s", v))
		return nil
	}
	d := time.Duration(secs * float64(time.Second))
	r.logger.Debug("Waiting", zap.String("step", path), zap.Duration("delay", d))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-r.ctl.Done():
		return r.ctl.stopError()
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// notify sends best effort; failures are logged and the run continues.
func (r *run) notify(path, subject, body string) {
	if err := r.in.notifier.Notify(r.ctx, subject, body); err != nil {
		r.logger.Warn("Notification failed", zap.String("step", path), zap.String("subject", subject), zap.Error(err))
	}
}

// Summary renders the result for transcripts.
func (res *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s scenario=%q target=%q status=%s duration=%s\n",
		res.RunID, res.Scenario, res.Target, res.Status, res.Duration.Round(time.Millisecond))
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "  warning %s\n", w)
	}
	for _, l := range res.Logs {
		fmt.Fprintf(&b, "  log %s\n", l)
	}
	if res.Err != nil {
		fmt.Fprintf(&b, "  error %v\n", res.Err)
	}
	return b.String()
}
