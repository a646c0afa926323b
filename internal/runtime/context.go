package runtime

import "sort"

// TargetVar is the context variable seeded with the target's logical name.
const TargetVar = "target"

// RuntimeContext is the variable store of a single run.
type RuntimeContext struct {
	vars map[string]Value
}

// NewRuntimeContext returns a context holding only the target identity.
func NewRuntimeContext(target string) *RuntimeContext {
	return &RuntimeContext{
		vars: map[string]Value{TargetVar: String(target)},
	}
}

func (c *RuntimeContext) Set(name string, value Value) {
	c.vars[name] = value
}

// Get returns the variable and whether it is defined. A variable set to
// null is defined.
func (c *RuntimeContext) Get(name string) (Value, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Names returns the defined variable names, sorted.
func (c *RuntimeContext) Names() []string {
	names := make([]string, 0, len(c.vars))
	for k := range c.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Env returns the variables as plain Go values for expression evaluation.
func (c *RuntimeContext) Env() map[string]any {
	env := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		env[k] = v.Native()
	}
	return env
}
