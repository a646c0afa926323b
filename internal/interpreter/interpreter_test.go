package interpreter_test

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LiboWorks/screenflow/internal/device"
	"github.com/LiboWorks/screenflow/internal/interpreter"
	"github.com/LiboWorks/screenflow/internal/perception"
	"github.com/LiboWorks/screenflow/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var target = device.Target{Name: "main", Serial: "emulator-5554", Language: "en"}

type swipe struct {
	X, Y     int
	Dir      device.Direction
	Distance int
}

type fakeInput struct {
	mu     sync.Mutex
	taps   []image.Point
	swipes []swipe
	err    error
}

func (f *fakeInput) Tap(ctx context.Context, t device.Target, x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taps = append(f.taps, image.Pt(x, y))
	return f.err
}

func (f *fakeInput) Swipe(ctx context.Context, t device.Target, x, y int, dir device.Direction, distance int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swipes = append(f.swipes, swipe{x, y, dir, distance})
	return f.err
}

func (f *fakeInput) tapped() []image.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]image.Point(nil), f.taps...)
}

type call struct {
	Primitive string
	Name      string
	Region    *perception.Region
	Threshold float64
}

type fakePerception struct {
	match  map[string]bool
	points map[string][]image.Point
	calls  []call
}

func (f *fakePerception) record(c call) { f.calls = append(f.calls, c) }

func (f *fakePerception) MatchTemplate(ctx context.Context, t device.Target, r *perception.Region, name string, threshold float64) (bool, error) {
	f.record(call{"MatchTemplate", name, r, threshold})
	return f.match[name], nil
}

func (f *fakePerception) MatchAnyTemplate(ctx context.Context, t device.Target, r *perception.Region, names []string, threshold float64) (bool, error) {
	for _, n := range names {
		f.record(call{"MatchAnyTemplate", n, r, threshold})
		if f.match[n] {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePerception) MatchFeatures(ctx context.Context, t device.Target, r *perception.Region, name string, minMatches int) (bool, error) {
	f.record(call{"MatchFeatures", name, r, float64(minMatches)})
	return f.match[name], nil
}

func (f *fakePerception) LocateTemplates(ctx context.Context, t device.Target, r *perception.Region, name string, threshold float64) ([]image.Point, error) {
	f.record(call{"LocateTemplates", name, r, threshold})
	return f.points[name], nil
}

func (f *fakePerception) LocateFeatures(ctx context.Context, t device.Target, r *perception.Region, name string) ([]image.Point, error) {
	f.record(call{"LocateFeatures", name, r, 0})
	return f.points[name], nil
}

func (f *fakePerception) MatchText(ctx context.Context, t device.Target, r *perception.Region, expected, backend string) (bool, error) {
	f.record(call{"MatchText:" + backend, expected, r, 0})
	return f.match[expected], nil
}

type message struct{ Subject, Body string }

type fakeNotifier struct {
	sent []message
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, subject, body string) error {
	f.sent = append(f.sent, message{subject, body})
	return f.err
}

func scenario(t *testing.T, src string) *workflow.Scenario {
	t.Helper()
	doc, err := workflow.ParseDocument([]byte(src))
	require.NoError(t, err)
	return &doc.Scenarios[0]
}

func newInterpreter(perc interpreter.Perception) (*interpreter.Interpreter, *fakeInput, *fakeNotifier) {
	if perc == nil {
		perc = &fakePerception{}
	}
	input, notifier := &fakeInput{}, &fakeNotifier{}
	return interpreter.New(perc, input, notifier, nil), input, notifier
}

func TestSkipAndContinue(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: broken
    steps:
      - set: {a: 1}
      - BAD_STEP
      - log: "{{a}}"
`)
	in, _, _ := newInterpreter(nil)

	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, interpreter.StatusCompleted, res.Status)
	assert.Equal(t, []string{"1"}, res.Logs)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "steps[1]", res.Warnings[0].Path)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "broken", res.Scenario)
}

func TestDefectFixtureSkipsEveryInvalidStep(t *testing.T) {
	doc, err := workflow.LoadDocument(filepath.Join("..", "..", "testdata", "fixtures", "defects.yaml"))
	require.NoError(t, err)
	sc, ok := doc.Find("broken")
	require.True(t, ok)

	in, input, _ := newInterpreter(nil)
	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.Logs)
	assert.Empty(t, input.tapped())

	paths := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		paths = append(paths, w.Path)
	}
	// The while condition references an unset variable, so its invalid
	// body never runs.
	assert.Equal(t, []string{"steps[1]", "steps[3]", "steps[4]", "steps[5]", "steps[6]", "steps[7]"}, paths)
}

func TestWhileWithUnsetVariableRunsZeroIterations(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: loop
    steps:
      - while:
          condition: n < 0
          do:
            - increment: n
            - tap: [1, 1]
      - log: done
`)
	in, input, _ := newInterpreter(nil)

	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Empty(t, input.tapped())
	assert.Equal(t, []string{"done"}, res.Logs)
	assert.Empty(t, res.Warnings)
}

func TestWhileReevaluatesEachIteration(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: loop
    steps:
      - set: {n: -2}
      - while:
          condition: n < 0
          do:
            - increment: n
            - tap: [10, 20]
      - log: "n={{ n }}"
`)
	in, input, _ := newInterpreter(nil)

	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, []image.Point{{10, 20}, {10, 20}}, input.tapped())
	assert.Equal(t, []string{"n=0"}, res.Logs)
}

func TestContextIsolationAcrossRuns(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: isolated
    steps:
      - if:
          condition: secret == 42
          then:
            - log: leaked
          else:
            - log: "clean {{ target }}"
      - set: {secret: 42}
`)
	in, _, _ := newInterpreter(nil)

	first, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	second, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"clean main"}, first.Logs)
	assert.Equal(t, []string{"clean main"}, second.Logs)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestAssignAndIncrement(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: vars
    steps:
      - set:
          count: "{{ 2 + 2 }}"
          name: World
          nothing: None
          ratio: 1.5
      - increment: count
      - increment: ratio
      - increment: name
      - log: "{{ count }} {{ ratio }} Hello {{ name }} {{ nothing == None }}"
`)
	in, _, _ := newInterpreter(nil)

	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"5 2.5 Hello World True"}, res.Logs)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "increment", res.Warnings[0].Command)
}

func TestTapAndSwipe(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: input
    steps:
      - set: {x: 100}
      - click: [540, 1200]
      - tap: {x: "{{ x }}", y: 240}
      - tap: "{{ [x, 7] }}"
      - scroll: [540, 1500, up, 600]
      - swipe: {x: 1, y: 2, direction: LEFT, distance: 3}
      - swipe: [1, 2]
      - tap: nowhere
`)
	in, input, _ := newInterpreter(nil)

	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, []image.Point{{540, 1200}, {100, 240}, {100, 7}}, input.tapped())
	assert.Equal(t, []swipe{{540, 1500, device.Up, 600}, {1, 2, device.Left, 3}}, input.swipes)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "steps[6]", res.Warnings[0].Path)
	assert.Equal(t, "steps[7]", res.Warnings[1].Path)
}

func TestInputFailuresDoNotStopTheRun(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: input
    steps:
      - tap: [1, 1]
      - log: after
`)
	in, input, _ := newInterpreter(nil)
	input.err = errors.New("device offline")

	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"after"}, res.Logs)
	assert.Empty(t, res.Warnings)
}

func TestPerceptionCallables(t *testing.T) {
	perc := &fakePerception{
		match: map[string]bool{"claim.png": true, "PLAY": true, "b.png": true},
		points: map[string][]image.Point{
			"coin.png": {{5, 6}, {30, 6}},
			"star.png": {{1, 2}, {3, 4}},
		},
	}
	sc := scenario(t, `
scenarios:
  - name: perceive
    steps:
      - if:
          condition: compare_with_image(100, 200, 300, 80, 'claim.png', 0.9)
          then:
            - tap: "{{ get_coords('coin.png') }}"
      - if:
          condition: compare_with_any_image(0, 0, 50, 50, ['a.png', 'b.png'])
          then:
            - log: any
      - if:
          condition: compare_with_text(0, 0, 10, 10, 'PLAY', 'learned') and not compare_with_features(0, 0, 10, 10, 'f.png', 12)
          then:
            - log: text
      - set:
          stars: "{{ locate_all_features('star.png') }}"
          coins: "{{ locate_all_images('coin.png', 0.95, 0, 0, 100, 100) }}"
      - tap: "{{ stars[1] }}"
      - log: "{{ coins }}"
      - tap: "{{ get_coords('missing.png') }}"
`)
	in, input, _ := newInterpreter(perc)

	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, []image.Point{{5, 6}, {3, 4}}, input.tapped())
	assert.Equal(t, []string{"any", "text", "[(5, 6), (30, 6)]"}, res.Logs)
	require.Len(t, res.Warnings, 1, "tapping None is skipped")

	first := perc.calls[0]
	assert.Equal(t, "MatchTemplate", first.Primitive)
	assert.Equal(t, &perception.Region{X: 100, Y: 200, W: 300, H: 80}, first.Region)
	assert.InDelta(t, 0.9, first.Threshold, 1e-9)

	var primitives []string
	for _, c := range perc.calls {
		primitives = append(primitives, c.Primitive)
	}
	assert.Contains(t, primitives, "MatchText:learned")
	assert.Contains(t, primitives, "MatchFeatures")
	assert.Contains(t, primitives, "LocateFeatures")
}

func TestConditionFaultsAreFalseAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	in := interpreter.New(&fakePerception{}, &fakeInput{}, nil, zap.New(core))
	sc := scenario(t, `
scenarios:
  - name: faults
    steps:
      - if:
          condition: compare_with_image('x')
          then:
            - log: then
          else:
            - log: else
      - if:
          condition: "undefined_var > 1"
          then:
            - log: then
`)

	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"else"}, res.Logs)
	assert.Empty(t, res.Warnings)

	faults := logs.FilterMessage("Condition evaluation failed").All()
	require.Len(t, faults, 2)
	assert.Equal(t, "steps[0]", faults[0].ContextMap()["step"])
	assert.Equal(t, "faults", faults[0].ContextMap()["scenario"])
}

type brokenCapturer struct{}

func (brokenCapturer) Capture(ctx context.Context, t device.Target) (image.Image, error) {
	return nil, errors.New("device offline")
}

type emptyStore struct{}

func (emptyStore) Load(language, name string) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 4, 4)), nil
}

func TestPerceptionFailsClosed(t *testing.T) {
	engine := perception.NewEngine(brokenCapturer{}, emptyStore{}, nil, perception.DefaultOptions(), nil)
	in, input, _ := newInterpreter(engine)
	sc := scenario(t, `
scenarios:
  - name: closed
    steps:
      - if:
          condition: compare_with_image(0, 0, 10, 10, 'a.png')
          then:
            - log: matched
          else:
            - log: missed
      - tap: "{{ get_coords('a.png') }}"
`)

	res, err := in.Run(context.Background(), target, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"missed"}, res.Logs)
	assert.Empty(t, input.tapped())
}

func TestAbortStep(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: shutdown
    steps:
      - send_email: "daily done"
      - emergency_exit: "stopping"
      - tap: [1, 1]
`)
	in, input, notifier := newInterpreter(nil)
	notifier.err = errors.New("smtp down")

	res, err := in.Run(context.Background(), target, sc, nil)
	var ae *interpreter.AbortError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "stopping", ae.Reason)
	assert.False(t, ae.Stopped)
	assert.Equal(t, interpreter.StatusAborted, res.Status)
	assert.Empty(t, input.tapped())
	assert.Equal(t, []message{
		{interpreter.NotifySubject, "daily done"},
		{interpreter.AbortSubject, "stopping"},
	}, notifier.sent)
}

func TestStopBeforeFirstStep(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: s
    steps:
      - tap: [1, 1]
`)
	in, input, _ := newInterpreter(nil)
	ctl := interpreter.NewControl()
	ctl.Stop("signal")

	res, err := in.Run(context.Background(), target, sc, ctl)
	var ae *interpreter.AbortError
	require.ErrorAs(t, err, &ae)
	assert.True(t, ae.Stopped)
	assert.Equal(t, "signal", ae.Reason)
	assert.Equal(t, interpreter.StatusAborted, res.Status)
	assert.Empty(t, input.tapped())
}

func TestStopInterruptsWait(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: s
    steps:
      - delay: 30
      - tap: [1, 1]
`)
	in, input, _ := newInterpreter(nil)
	ctl := interpreter.NewControl()
	go func() {
		time.Sleep(20 * time.Millisecond)
		ctl.Stop("hotkey")
	}()

	start := time.Now()
	res, err := in.Run(context.Background(), target, sc, ctl)
	assert.True(t, interpreter.IsAbort(err))
	assert.Equal(t, interpreter.StatusAborted, res.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, input.tapped())
}

func TestPauseParksAtStepBoundary(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: s
    steps:
      - tap: [1, 1]
      - tap: [2, 2]
`)
	in, input, _ := newInterpreter(nil)
	ctl := interpreter.NewControl()
	assert.True(t, ctl.Toggle())

	done := make(chan *interpreter.Result)
	go func() {
		res, _ := in.Run(context.Background(), target, sc, ctl)
		done <- res
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, input.tapped(), "a paused run must not execute steps")
	assert.False(t, ctl.Toggle())

	select {
	case res := <-done:
		assert.Equal(t, interpreter.StatusCompleted, res.Status)
		assert.Equal(t, []image.Point{{1, 1}, {2, 2}}, input.tapped())
	case <-time.After(5 * time.Second):
		t.Fatal("run did not resume")
	}
}

func TestCancelledContextAbortsPausedRun(t *testing.T) {
	sc := scenario(t, `
scenarios:
  - name: s
    steps:
      - tap: [1, 1]
`)
	in, _, _ := newInterpreter(nil)
	ctl := interpreter.NewControl()
	ctl.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := in.Run(ctx, target, sc, ctl)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, interpreter.StatusAborted, res.Status)
}

func TestConfigurationErrors(t *testing.T) {
	in, _, _ := newInterpreter(nil)

	res, err := in.Run(context.Background(), target, nil, nil)
	assert.True(t, interpreter.IsConfiguration(err))
	assert.Equal(t, interpreter.StatusFailed, res.Status)

	res, err = in.Run(context.Background(), target, &workflow.Scenario{Name: "empty", Path: "x.yaml"}, nil)
	assert.True(t, interpreter.IsConfiguration(err))
	assert.ErrorIs(t, err, workflow.ErrEmptyScenario)
	assert.Equal(t, interpreter.StatusFailed, res.Status)
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "en"), 0o755))
	require.NoError(t, os.WriteFile(workflow.ScenarioPath(dir, "en"), []byte(`
scenarios:
  - name: daily
    steps:
      - log: hi
  - name: empty
    steps: []
`), 0o644))

	sc, err := interpreter.LoadScenario(dir, target, "daily")
	require.NoError(t, err)
	assert.Equal(t, "daily", sc.Name)

	_, err = interpreter.LoadScenario(dir, target, "weekly")
	assert.True(t, interpreter.IsConfiguration(err))
	assert.ErrorIs(t, err, workflow.ErrScenarioNotFound)
	assert.Contains(t, err.Error(), "weekly")

	_, err = interpreter.LoadScenario(dir, target, "empty")
	assert.ErrorIs(t, err, workflow.ErrEmptyScenario)

	_, err = interpreter.LoadScenario(dir, device.Target{Language: "de"}, "daily")
	assert.True(t, interpreter.IsConfiguration(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
