package runtime

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindPoint
	KindPoints
	KindList
	KindMap
)

func (k Kind) String() string {
	return [...]string{"null", "int", "float", "bool", "string", "point", "points", "list", "map"}[k]
}

// Point is a screen coordinate pair.
type Point struct {
	X, Y int
}

// Value is a context variable or resolved parameter.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	pt   Point
	pts  []Point
	list []Value
	m    map[string]Value
}

// Null returns the absent value.
func Null() Value { return Value{} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String wraps text that did not coerce to anything else.
func String(s string) Value { return Value{kind: KindString, s: s} }

// PointValue wraps one coordinate pair.
func PointValue(p Point) Value { return Value{kind: KindPoint, pt: p} }

// Points wraps a list of coordinate pairs.
func Points(ps []Point) Value { return Value{kind: KindPoints, pts: ps} }

// List wraps vs without copying it.
func List(vs []Value) Value { return Value{kind: KindList, list: vs} }

// Map wraps m without copying it.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) List() []Value { return v.list }
func (v Value) Map() map[string]Value { return v.m }

// Int returns the integer content. Floats with no fractional part convert.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) {
			return int64(v.f), true
		}
	}
	return 0, false
}

// Float returns the numeric content, promoting integers.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

// Point returns the coordinate content. Two-element numeric lists and maps
// with x and y keys are accepted too.
func (v Value) Point() (Point, bool) {
	switch v.kind {
	case KindPoint:
		return v.pt, true
	case KindList:
		if len(v.list) == 2 {
			x, okx := v.list[0].Int()
			y, oky := v.list[1].Int()
			if okx && oky {
				return Point{X: int(x), Y: int(y)}, true
			}
		}
	case KindMap:
		x, okx := v.m["x"].Int()
		y, oky := v.m["y"].Int()
		if okx && oky {
			return Point{X: int(x), Y: int(y)}, true
		}
	}
	return Point{}, false
}

func (v Value) Points() ([]Point, bool) {
	return v.pts, v.kind == KindPoints
}

// Truthy reports the boolean interpretation used by conditions.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindBool:
		return v.b
	case KindString:
		return v.s != ""
	case KindPoint:
		return true
	case KindPoints:
		return len(v.pts) > 0
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return len(v.m) > 0
	}
	return false
}

// String renders the value as template text. Rendering then coercing a
// scalar, point or point list yields an equal value.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "None"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindString:
		return v.s
	case KindPoint:
		return fmt.Sprintf("(%d, %d)", v.pt.X, v.pt.Y)
	case KindPoints:
		parts := make([]string, len(v.pts))
		for i, p := range v.pts {
			parts[i] = PointValue(p).String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.literal()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = quote(k) + ": " + v.m[k].literal()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return ""
}

// literal renders v as an element of a list or map.
func (v Value) literal() string {
	if v.kind == KindString {
		return quote(v.s)
	}
	return v.String()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// Native converts v to the plain Go value handed to the expression engine.
func (v Value) Native() any {
	switch v.kind {
	case KindInt:
		return int(v.i)
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindPoint:
		return []any{v.pt.X, v.pt.Y}
	case KindPoints:
		out := make([]any, len(v.pts))
		for i, p := range v.pts {
			out[i] = []any{p.X, p.Y}
		}
		return out
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Native()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Native()
		}
		return out
	}
	return nil
}

// FromNative converts a decoded YAML node or an expression result into a
// Value. Two-integer sequences become points and sequences of points
// become point lists.
func FromNative(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case Point:
		return PointValue(t)
	case []Point:
		return Points(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromNative(e)
		}
		return normalizeSequence(vs)
	case []int:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = Int(int64(e))
		}
		return normalizeSequence(vs)
	case []string:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = String(e)
		}
		return List(vs)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromNative(e)
		}
		return Map(m)
	}
	return String(fmt.Sprint(x))
}

// normalizeSequence applies the coordinate rules to a decoded sequence.
func normalizeSequence(vs []Value) Value {
	if len(vs) == 2 && vs[0].kind == KindInt && vs[1].kind == KindInt {
		return PointValue(Point{X: int(vs[0].i), Y: int(vs[1].i)})
	}
	if len(vs) > 0 {
		pts := make([]Point, 0, len(vs))
		for _, e := range vs {
			if e.kind != KindPoint {
				return List(vs)
			}
			pts = append(pts, e.pt)
		}
		return Points(pts)
	}
	return List(vs)
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindPoint:
		return v.pt == o.pt
	case KindPoints:
		if len(v.pts) != len(o.pts) {
			return false
		}
		for i := range v.pts {
			if v.pts[i] != o.pts[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, e := range v.m {
			oe, ok := o.m[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	}
	return false
}
