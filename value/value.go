// Package value defines the runtime value representation shared by the
// analyzer, evaluator, runtime library, signature system and renderer.
//
// A DSL value is always one of: nil, bool, int64, float64, string,
// Keyword, *Vector, *Map, *Set, *Closure, *Var, or a host value returned
// opaquely by a tool (rare, normally tool results are re-normalized into
// the above).
package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Keyword is a DSL keyword literal, printed as ":name".
type Keyword string

func (k Keyword) String() string { return ":" + string(k) }

// Vector is an ordered, heterogeneous sequence.
type Vector struct {
	Items []any
}

// NewVector builds a Vector from a slice of values.
func NewVector(items ...any) *Vector {
	return &Vector{Items: items}
}

func (v *Vector) Len() int { return len(v.Items) }

// Map is an ordered key/value association. Keys may be any value
// (keywords, strings, numbers, even vectors/maps) and are compared by
// structural equality, not Go identity, so it cannot be a native Go map.
type Map struct {
	keys []any
	vals []any
}

// NewMap builds a Map from alternating key/value arguments.
func NewMap(kv ...any) *Map {
	m := &Map{}
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i], kv[i+1])
	}
	return m
}

func (m *Map) Len() int { return len(m.keys) }

// Get returns the value for key and whether it was present.
func (m *Map) Get(key any) (any, bool) {
	for i, k := range m.keys {
		if Equal(k, key) {
			return m.vals[i], true
		}
	}
	return nil, false
}

// Set inserts or replaces the value for key, returning the same Map
// mutated in place. Callers that need persistence should Clone first.
func (m *Map) Set(key, val any) *Map {
	for i, k := range m.keys {
		if Equal(k, key) {
			m.vals[i] = val
			return m
		}
	}
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, val)
	return m
}

// Without returns a new Map with key removed.
func (m *Map) Without(key any) *Map {
	out := &Map{}
	for i, k := range m.keys {
		if !Equal(k, key) {
			out.keys = append(out.keys, k)
			out.vals = append(out.vals, m.vals[i])
		}
	}
	return out
}

// Clone returns a shallow copy of the map.
func (m *Map) Clone() *Map {
	out := &Map{
		keys: append([]any(nil), m.keys...),
		vals: append([]any(nil), m.vals...),
	}
	return out
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []any { return append([]any(nil), m.keys...) }

// Vals returns the values in insertion order matching Keys.
func (m *Map) Vals() []any { return append([]any(nil), m.vals...) }

// Each calls fn for every key/value pair in insertion order.
func (m *Map) Each(fn func(k, v any)) {
	for i, k := range m.keys {
		fn(k, m.vals[i])
	}
}

// Merge returns a new Map containing m's entries overlaid by other's.
func (m *Map) Merge(other *Map) *Map {
	out := m.Clone()
	if other == nil {
		return out
	}
	other.Each(func(k, v any) { out.Set(k, v) })
	return out
}

// Set (the collection) is a deduplicated, unordered-on-read collection
// that stores elements by structural equality.
type Set struct {
	items []any
}

// NewSet builds a Set, silently discarding structural duplicates.
func NewSet(items ...any) *Set {
	s := &Set{}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts v if no structurally-equal element is already present.
func (s *Set) Add(v any) {
	for _, it := range s.items {
		if Equal(it, v) {
			return
		}
	}
	s.items = append(s.items, v)
}

func (s *Set) Len() int { return len(s.items) }

// Contains reports whether v (or a structural equal) is a member.
func (s *Set) Contains(v any) bool {
	for _, it := range s.items {
		if Equal(it, v) {
			return true
		}
	}
	return false
}

// Items_ returns the set's members in insertion order (stable for a
// given evaluation, not part of the language's semantics).
func (s *Set) Items_() []any { return append([]any(nil), s.items...) }

// Closure is a user-defined function: fn/defn produce one of these.
type Closure struct {
	Name     string
	Params   []string
	Rest     string // name bound to trailing varargs, "" if none
	Body     any    // core.Node, typed as any to avoid an import cycle
	Env      any    // eval.Env captured at definition time, typed as any
	Doc      string
	Turns    any // snapshot of turn history at closure-creation time
}

func (c *Closure) Arity() int { return len(c.Params) }

// Var is the handle returned by (def name value); it is distinct from
// the bound value itself so that `(def x 1)` evaluates to a var, not 1.
type Var struct {
	Name  string
	Value any
}

// TypeLabel renders the compact type vocabulary used by the renderer and
// composer: list[N] | map[N] | set[N] | string | integer |
// float | boolean | keyword | nil | #fn[...] | unknown.
func TypeLabel(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case int64, int:
		return "integer"
	case float64:
		return "float"
	case string:
		return "string"
	case Keyword:
		return "keyword"
	case *Vector:
		return fmt.Sprintf("list[%d]", t.Len())
	case *Map:
		return fmt.Sprintf("map[%d]", t.Len())
	case *Set:
		return fmt.Sprintf("set[%d]", t.Len())
	case *Closure:
		if t.Rest != "" {
			return fmt.Sprintf("#fn[%d+]", t.Arity())
		}
		return fmt.Sprintf("#fn[%d]", t.Arity())
	case *Var:
		return TypeLabel(t.Value)
	default:
		return "unknown"
	}
}

// Equal implements structural (not reference) equality, required for
// set membership, map keys, and the `=` builtin.
func Equal(a, b any) bool {
	a = deref(a)
	b = deref(b)
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case int64:
		switch bv := b.(type) {
		case int64:
			return av == bv
		case float64:
			return float64(av) == bv
		}
		return false
	case float64:
		switch bv := b.(type) {
		case int64:
			return av == float64(bv)
		case float64:
			return av == bv
		}
		return false
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case Keyword:
		bv, ok := b.(Keyword)
		return ok && av == bv
	case *Vector:
		bv, ok := b.(*Vector)
		if !ok || len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !Equal(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case *Map:
		bv, ok := b.(*Map)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		match := true
		av.Each(func(k, v any) {
			if other, ok := bv.Get(k); !ok || !Equal(v, other) {
				match = false
			}
		})
		return match
	case *Set:
		bv, ok := b.(*Set)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, it := range av.items {
			if !bv.Contains(it) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func deref(v any) any {
	if vr, ok := v.(*Var); ok {
		return vr.Value
	}
	return v
}

// Truthy implements the DSL's truthiness: everything is truthy except
// nil and false (Clojure-style, not zero/empty-string falsy).
func Truthy(v any) bool {
	v = deref(v)
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// Print renders a value back to DSL source syntax (used by the renderer
// for full-value printing and by tests that check round-trips).
func Print(v any) string {
	var sb strings.Builder
	print(&sb, v)
	return sb.String()
}

func print(sb *strings.Builder, v any) {
	v = deref(v)
	switch t := v.(type) {
	case nil:
		sb.WriteString("nil")
	case bool:
		sb.WriteString(strconv.FormatBool(t))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case float64:
		sb.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case string:
		sb.WriteString(strconv.Quote(t))
	case Keyword:
		sb.WriteString(t.String())
	case *Vector:
		sb.WriteByte('[')
		for i, it := range t.Items {
			if i > 0 {
				sb.WriteByte(' ')
			}
			print(sb, it)
		}
		sb.WriteByte(']')
	case *Map:
		sb.WriteByte('{')
		first := true
		t.Each(func(k, val any) {
			if !first {
				sb.WriteByte(' ')
			}
			first = false
			print(sb, k)
			sb.WriteByte(' ')
			print(sb, val)
		})
		sb.WriteByte('}')
	case *Set:
		sb.WriteString("#{")
		for i, it := range t.items {
			if i > 0 {
				sb.WriteByte(' ')
			}
			print(sb, it)
		}
		sb.WriteByte('}')
	case *Closure:
		name := t.Name
		if name == "" {
			name = "anonymous"
		}
		fmt.Fprintf(sb, "#fn<%s/%d>", name, t.Arity())
	default:
		fmt.Fprintf(sb, "%v", t)
	}
}

// Sample renders a value truncated to maxChars/maxElems, the compact
// summary used in composed prompts.
func Sample(v any, maxChars, maxElems int) string {
	v = deref(v)
	switch t := v.(type) {
	case *Vector:
		if t.Len() > maxElems {
			return fmt.Sprintf("List(%d)", t.Len())
		}
	case *Map:
		if t.Len() > maxElems {
			return fmt.Sprintf("Map(%d)", t.Len())
		}
	case *Set:
		if t.Len() > maxElems {
			return fmt.Sprintf("Set(%d)", t.Len())
		}
	case string:
		if len(t) > maxChars {
			return fmt.Sprintf("String(%d bytes)", len(t))
		}
	}
	s := Print(v)
	if len(s) > maxChars {
		return s[:maxChars] + "…"
	}
	return s
}

// StringifyKeysDeep recursively converts every map key to a string,
// the normalization tool-call boundaries require before JSON encoding.
func StringifyKeysDeep(v any) any {
	v = deref(v)
	switch t := v.(type) {
	case *Map:
		out := &Map{}
		t.Each(func(k, val any) {
			out.Set(keyToString(k), StringifyKeysDeep(val))
		})
		return out
	case *Vector:
		items := make([]any, len(t.Items))
		for i, it := range t.Items {
			items[i] = StringifyKeysDeep(it)
		}
		return &Vector{Items: items}
	case *Set:
		items := make([]any, len(t.items))
		for i, it := range t.items {
			items[i] = StringifyKeysDeep(it)
		}
		return NewSet(items...)
	default:
		return v
	}
}

func keyToString(k any) string {
	switch t := k.(type) {
	case string:
		return t
	case Keyword:
		return string(t)
	default:
		return Print(k)
	}
}

// SortKeysForCache produces a deterministic string for cache-keying a
// map of arguments, used by tool.Dispatch's call cache.
func SortKeysForCache(m *Map) string {
	keys := make([]string, 0, m.Len())
	lookup := map[string]any{}
	m.Each(func(k, v any) {
		ks := keyToString(k)
		keys = append(keys, ks)
		lookup[ks] = v
	})
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(Print(lookup[k]))
		sb.WriteByte(';')
	}
	return sb.String()
}
