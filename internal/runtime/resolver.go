package runtime

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
)

// Func is a callable exposed to conditions and templates.
type Func func(args ...any) (any, error)

// EvaluationError is a fault raised while compiling or running an expression.
type EvaluationError struct {
	Expr string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %q: %v", e.Expr, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

var segmentPattern = regexp.MustCompile(`(?s)\{\{(.*?)\}\}`)

// constants are the only names besides context variables and registered
// functions visible to expressions.
var constants = map[string]any{
	"True":  true,
	"False": false,
	"None":  nil,
}

// Resolver evaluates conditions and renders parameter templates in a closed
// environment: context variables, the True/False/None constants and the
// registered functions. Builtins are disabled.
type Resolver struct {
	funcs map[string]Func
}

// NewResolver returns a resolver with no functions registered.
func NewResolver() *Resolver {
	return &Resolver{funcs: make(map[string]Func)}
}

// Register exposes fn under name. A context variable with the same name is
// shadowed by the function.
func (r *Resolver) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Functions returns the registered names, sorted.
func (r *Resolver) Functions() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Resolver) env(rc *RuntimeContext) map[string]any {
	env := rc.Env()
	for k, v := range constants {
		env[k] = v
	}
	for name := range r.funcs {
		delete(env, name)
	}
	return env
}

// Eval evaluates a single expression.
func (r *Resolver) Eval(rc *RuntimeContext, src string) (Value, error) {
	env := r.env(rc)
	opts := []expr.Option{expr.Env(env), expr.DisableAllBuiltins()}
	for name, fn := range r.funcs {
		opts = append(opts, expr.Function(name, fn))
	}

	program, err := expr.Compile(src, opts...)
	if err != nil {
		return Null(), &EvaluationError{Expr: src, Err: err}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return Null(), &EvaluationError{Expr: src, Err: err}
	}
	return FromNative(out), nil
}

// Condition evaluates src and reports its truthiness. Any fault yields
// false together with the error.
func (r *Resolver) Condition(rc *RuntimeContext, src string) (bool, error) {
	v, err := r.Eval(rc, src)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// Render replaces every {{ expr }} segment of tmpl with the rendered result.
// A failing segment renders as empty text and its error is returned.
func (r *Resolver) Render(rc *RuntimeContext, tmpl string) (string, []error) {
	var errs []error
	out := segmentPattern.ReplaceAllStringFunc(tmpl, func(seg string) string {
		src := strings.TrimSpace(segmentPattern.FindStringSubmatch(seg)[1])
		v, err := r.Eval(rc, src)
		if err != nil {
			errs = append(errs, err)
			return ""
		}
		return v.String()
	})
	return out, errs
}

// Resolve turns a raw parameter tree into a Value. String leaves are
// rendered and then coerced; lists and maps resolve element-wise, maps in
// sorted key order.
func (r *Resolver) Resolve(rc *RuntimeContext, raw any) (Value, []error) {
	switch t := raw.(type) {
	case string:
		if !strings.Contains(t, "{{") {
			return Coerce(t), nil
		}
		rendered, errs := r.Render(rc, t)
		return Coerce(rendered), errs
	case []any:
		var errs []error
		vs := make([]Value, len(t))
		for i, e := range t {
			v, es := r.Resolve(rc, e)
			vs[i] = v
			errs = append(errs, es...)
		}
		return normalizeSequence(vs), errs
	case map[string]any:
		var errs []error
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		// Callables have side effects; evaluate entries in key order.
		sort.Strings(keys)
		m := make(map[string]Value, len(t))
		for _, k := range keys {
			v, es := r.Resolve(rc, t[k])
			m[k] = v
			errs = append(errs, es...)
		}
		return Map(m), errs
	default:
		return FromNative(raw), nil
	}
}
