package runtime_test

import (
	"errors"
	"testing"

	"github.com/LiboWorks/screenflow/internal/runtime"
)

func newContext(vars map[string]runtime.Value) *runtime.RuntimeContext {
	rc := runtime.NewRuntimeContext("emulator-1")
	for k, v := range vars {
		rc.Set(k, v)
	}
	return rc
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		vars     map[string]runtime.Value
		expected string
		wantErrs int
	}{
		{
			name:     "simple variable",
			input:    "Hello {{name}}",
			vars:     map[string]runtime.Value{"name": runtime.String("World")},
			expected: "Hello World",
		},
		{
			name:     "variable with spaces",
			input:    "Hello {{ name }}",
			vars:     map[string]runtime.Value{"name": runtime.String("World")},
			expected: "Hello World",
		},
		{
			name:  "multiple variables",
			input: "{{greeting}}, {{name}}!",
			vars: map[string]runtime.Value{
				"greeting": runtime.String("Hello"),
				"name":     runtime.String("Alice"),
			},
			expected: "Hello, Alice!",
		},
		{
			name:     "no segments",
			input:    "Plain text",
			expected: "Plain text",
		},
		{
			name:     "missing variable renders empty",
			input:    "Hello {{name}}",
			expected: "Hello ",
			wantErrs: 1,
		},
		{
			name:     "arithmetic",
			input:    "{{ count * 2 + 1 }}",
			vars:     map[string]runtime.Value{"count": runtime.Int(3)},
			expected: "7",
		},
		{
			name:     "float keeps a decimal point",
			input:    "{{ ratio * 2 }}",
			vars:     map[string]runtime.Value{"ratio": runtime.Float(1.5)},
			expected: "3.0",
		},
		{
			name:     "point renders as tuple",
			input:    "at {{ pos }}",
			vars:     map[string]runtime.Value{"pos": runtime.PointValue(runtime.Point{X: 3, Y: 4})},
			expected: "at (3, 4)",
		},
		{
			name:     "constants",
			input:    "{{ True }} {{ None }}",
			expected: "True None",
		},
		{
			name:     "target is seeded",
			input:    "{{ target }}",
			expected: "emulator-1",
		},
	}

	resolver := runtime.NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, errs := resolver.Render(newContext(tt.vars), tt.input)
			if len(errs) != tt.wantErrs {
				t.Errorf("Render() errors = %v, want %d", errs, tt.wantErrs)
			}
			if result != tt.expected {
				t.Errorf("Render() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	resolver := runtime.NewResolver()
	rc := newContext(map[string]runtime.Value{
		"name": runtime.String("World"),
		"x":    runtime.Int(10),
	})

	tests := []struct {
		name string
		raw  any
		want runtime.Value
	}{
		{"sum becomes integer", "{{ 2 + 2 }}", runtime.Int(4)},
		{"greeting stays string", "Hello {{ name }}", runtime.String("Hello World")},
		{"yaml int passes through", 5, runtime.Int(5)},
		{"plain numeric string is coerced", "42", runtime.Int(42)},
		{"list of two ints is a point", []any{"{{ x }}", 20}, runtime.PointValue(runtime.Point{X: 10, Y: 20})},
		{"rendered tuple is a point", "({{ x }}, 5)", runtime.PointValue(runtime.Point{X: 10, Y: 5})},
		{"null literal", "None", runtime.Null()},
		{
			name: "map resolves element-wise",
			raw:  map[string]any{"x": "{{ x + 1 }}", "label": "ok"},
			want: runtime.Map(map[string]runtime.Value{"x": runtime.Int(11), "label": runtime.String("ok")}),
		},
		{
			name: "list of points",
			raw:  "[(1, 2), (3, 4)]",
			want: runtime.Points([]runtime.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errs := resolver.Resolve(rc, tt.raw)
			if len(errs) != 0 {
				t.Fatalf("Resolve() errors = %v", errs)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Resolve() = %v (%v), want %v (%v)", got, got.Kind(), tt.want, tt.want.Kind())
			}
		})
	}
}

func TestResolveMapEvaluatesInKeyOrder(t *testing.T) {
	resolver := runtime.NewResolver()
	var calls []string
	resolver.Register("mark", func(args ...any) (any, error) {
		calls = append(calls, args[0].(string))
		return true, nil
	})
	raw := map[string]any{
		"delta":   "{{ mark('delta') }}",
		"alpha":   "{{ mark('alpha') }}",
		"charlie": "{{ mark('charlie') }}",
		"bravo":   "{{ mark('bravo') }}",
	}

	for i := 0; i < 20; i++ {
		calls = nil
		_, errs := resolver.Resolve(newContext(nil), raw)
		if len(errs) != 0 {
			t.Fatalf("Resolve() errors = %v", errs)
		}
		want := []string{"alpha", "bravo", "charlie", "delta"}
		if len(calls) != len(want) {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
		for j := range want {
			if calls[j] != want[j] {
				t.Fatalf("calls = %v, want %v", calls, want)
			}
		}
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		input string
		want  runtime.Value
	}{
		{"None", runtime.Null()},
		{"null", runtime.Null()},
		{"True", runtime.Bool(true)},
		{"false", runtime.Bool(false)},
		{"-12", runtime.Int(-12)},
		{"3.25", runtime.Float(3.25)},
		{"2.0", runtime.Float(2)},
		{"nan", runtime.String("nan")},
		{"[1, 2]", runtime.PointValue(runtime.Point{X: 1, Y: 2})},
		{"(1, 2, 3)", runtime.List([]runtime.Value{runtime.Int(1), runtime.Int(2), runtime.Int(3)})},
		{"['a', \"b\"]", runtime.List([]runtime.Value{runtime.String("a"), runtime.String("b")})},
		{"[]", runtime.List(nil)},
		{"[1, oops]", runtime.String("[1, oops]")},
		{"hello world", runtime.String("hello world")},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := runtime.Coerce(tt.input)
			if !got.Equal(tt.want) {
				t.Errorf("Coerce(%q) = %v (%v), want %v (%v)", tt.input, got, got.Kind(), tt.want, tt.want.Kind())
			}
		})
	}
}

func TestRenderCoerceRoundTrip(t *testing.T) {
	values := []runtime.Value{
		runtime.Null(),
		runtime.Bool(false),
		runtime.Int(7),
		runtime.Float(7),
		runtime.Float(0.125),
		runtime.PointValue(runtime.Point{X: 5, Y: 9}),
		runtime.Points([]runtime.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}),
	}
	for _, v := range values {
		if got := runtime.Coerce(v.String()); !got.Equal(v) {
			t.Errorf("Coerce(%q) = %v (%v), want %v", v.String(), got, got.Kind(), v.Kind())
		}
	}
}

func TestCondition(t *testing.T) {
	resolver := runtime.NewResolver()
	resolver.Register("always", func(args ...any) (any, error) { return true, nil })
	resolver.Register("broken", func(args ...any) (any, error) { return nil, errors.New("capture failed") })

	rc := newContext(map[string]runtime.Value{
		"n":      runtime.Int(2),
		"coords": runtime.PointValue(runtime.Point{X: 1, Y: 2}),
		"empty":  runtime.Null(),
	})

	tests := []struct {
		name    string
		expr    string
		want    bool
		wantErr bool
	}{
		{name: "comparison", expr: "n < 3", want: true},
		{name: "boolean operators", expr: "n > 1 and not (n == 5)", want: true},
		{name: "function call", expr: "always()", want: true},
		{name: "index into point", expr: "coords[1] == 2", want: true},
		{name: "none comparison", expr: "empty == None", want: true},
		{name: "truthiness of number", expr: "n", want: true},
		{name: "undefined variable", expr: "missing < 0", wantErr: true},
		{name: "syntax error", expr: "n <", wantErr: true},
		{name: "builtins are disabled", expr: "len([1, 2]) == 2", wantErr: true},
		{name: "function error", expr: "broken()", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Condition(rc, tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Condition(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err != nil {
				var evalErr *runtime.EvaluationError
				if !errors.As(err, &evalErr) {
					t.Errorf("expected EvaluationError, got %T", err)
				}
				if got {
					t.Error("a faulting condition must be false")
				}
				return
			}
			if got != tt.want {
				t.Errorf("Condition(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestContextIsolation(t *testing.T) {
	first := runtime.NewRuntimeContext("device")
	first.Set("counter", runtime.Int(3))

	second := runtime.NewRuntimeContext("device")
	if _, ok := second.Get("counter"); ok {
		t.Error("a fresh context must not see variables of another context")
	}
	if names := second.Names(); len(names) != 1 || names[0] != runtime.TargetVar {
		t.Errorf("fresh context should only hold the target, got %v", names)
	}
}

func TestFromNativeSequences(t *testing.T) {
	got := runtime.FromNative([]any{[]any{1, 2}, []any{3, 4}})
	pts, ok := got.Points()
	if !ok || len(pts) != 2 || pts[1] != (runtime.Point{X: 3, Y: 4}) {
		t.Errorf("expected point list, got %v (%v)", got, got.Kind())
	}

	mixed := runtime.FromNative([]any{1, "a"})
	if mixed.Kind() != runtime.KindList {
		t.Errorf("mixed sequence should stay a list, got %v", mixed.Kind())
	}
}
