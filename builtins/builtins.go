// Package builtins implements the DSL's fixed Runtime Library: pure
// functions and predicates available unqualified to every program. It
// has no knowledge of the evaluator's control
// flow (signals, environments) — only of value.Value.
package builtins

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/subagentrun/subagent/value"
)

// Fn is a builtin function's Go implementation.
type Fn func(args []any) (any, error)

// Entry pairs a builtin with the arity window it accepts, used for
// friendlier {arity_mismatch} errors and system-prompt documentation.
type Entry struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 = unbounded
	Fn      Fn
	Doc     string
}

var registry = map[string]Entry{}

func register(e Entry) { registry[e.Name] = e }

// Lookup returns the builtin entry for name, if any.
func Lookup(name string) (Entry, bool) {
	e, ok := registry[name]
	return e, ok
}

// IsBuiltinName reports whether name is a reserved runtime-library or
// special-form identifier; used by the analyzer to reject `def`
// shadowing.
func IsBuiltinName(name string) bool {
	if _, ok := registry[name]; ok {
		return true
	}
	return specialForms[name]
}

var specialForms = map[string]bool{
	"def": true, "defonce": true, "defn": true, "let": true, "if": true,
	"when": true, "cond": true, "do": true, "and": true, "or": true,
	"fn": true, "loop": true, "recur": true, "return": true, "fail": true,
	"task": true, "task-reset": true, "step-done": true, "pmap": true,
	"pcalls": true, "where": true, "all-of": true, "any-of": true,
	"none-of": true, "juxt": true, "if-let": true, "->": true, "->>": true,
}

// Names returns every registered builtin name, sorted, for the system
// prompt's language reference.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call invokes a builtin by name, checking its arity window first.
func Call(name string, args []any) (any, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unbound_var: %s", name)
	}
	if len(args) < e.MinArgs || (e.MaxArgs >= 0 && len(args) > e.MaxArgs) {
		return nil, fmt.Errorf("arity_mismatch: %s expects %d..%s args, got %d",
			name, e.MinArgs, maxLabel(e.MaxArgs), len(args))
	}
	return e.Fn(args)
}

func maxLabel(n int) string {
	if n < 0 {
		return "*"
	}
	return strconv.Itoa(n)
}

func init() {
	registerArithmetic()
	registerComparison()
	registerLogic()
	registerCollections()
	registerMaps()
	registerStrings()
	registerAggregates()
}

// ---------------------------------------------------------------- arithmetic

func asNumber(v any) (float64, bool, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case float64:
		return float64(n), false, nil
	default:
		return 0, false, fmt.Errorf("type_error: expected number, got %s", value.TypeLabel(v))
	}
}

func numericResult(f float64, allInt bool) any {
	if allInt && f == float64(int64(f)) {
		return int64(f)
	}
	return f
}

func registerArithmetic() {
	arith := func(name string, ident float64, op func(a, b float64) float64) Fn {
		return func(args []any) (any, error) {
			allInt := true
			acc := ident
			if len(args) == 0 {
				return numericResult(acc, allInt), nil
			}
			first, isInt, err := asNumber(args[0])
			if err != nil {
				return nil, err
			}
			acc = first
			allInt = isInt
			for _, a := range args[1:] {
				n, isInt, err := asNumber(a)
				if err != nil {
					return nil, err
				}
				acc = op(acc, n)
				allInt = allInt && isInt
			}
			return numericResult(acc, allInt), nil
		}
	}
	register(Entry{Name: "+", MinArgs: 0, MaxArgs: -1, Fn: arith("+", 0, func(a, b float64) float64 { return a + b })})
	register(Entry{Name: "*", MinArgs: 0, MaxArgs: -1, Fn: arith("*", 1, func(a, b float64) float64 { return a * b })})
	register(Entry{Name: "-", MinArgs: 1, MaxArgs: -1, Fn: func(args []any) (any, error) {
		first, isInt, err := asNumber(args[0])
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			return numericResult(-first, isInt), nil
		}
		acc := first
		allInt := isInt
		for _, a := range args[1:] {
			n, ni, err := asNumber(a)
			if err != nil {
				return nil, err
			}
			acc -= n
			allInt = allInt && ni
		}
		return numericResult(acc, allInt), nil
	}})
	register(Entry{Name: "/", MinArgs: 1, MaxArgs: -1, Fn: func(args []any) (any, error) {
		first, isInt, err := asNumber(args[0])
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			if first == 0 {
				return nil, fmt.Errorf("arithmetic_error: division by zero")
			}
			return numericResult(1/first, false), nil
		}
		acc := first
		allInt := isInt
		for _, a := range args[1:] {
			n, ni, err := asNumber(a)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, fmt.Errorf("arithmetic_error: division by zero")
			}
			acc /= n
			allInt = allInt && ni && isIntDivisionExact(acc)
		}
		return numericResult(acc, allInt), nil
	}})
}

func isIntDivisionExact(f float64) bool { return f == float64(int64(f)) }

// ---------------------------------------------------------------- comparison

func registerComparison() {
	cmp := func(name string, ok func(c int) bool) Fn {
		return func(args []any) (any, error) {
			for i := 0; i+1 < len(args); i++ {
				c, err := compare(args[i], args[i+1])
				if err != nil {
					return nil, err
				}
				if !ok(c) {
					return false, nil
				}
			}
			return true, nil
		}
	}
	register(Entry{Name: "=", MinArgs: 1, MaxArgs: -1, Fn: func(args []any) (any, error) {
		for i := 1; i < len(args); i++ {
			if !value.Equal(args[0], args[i]) {
				return false, nil
			}
		}
		return true, nil
	}})
	register(Entry{Name: "not=", MinArgs: 1, MaxArgs: -1, Fn: func(args []any) (any, error) {
		for i := 1; i < len(args); i++ {
			if value.Equal(args[0], args[i]) {
				return false, nil
			}
		}
		return true, nil
	}})
	register(Entry{Name: "<", MinArgs: 1, MaxArgs: -1, Fn: cmp("<", func(c int) bool { return c < 0 })})
	register(Entry{Name: "<=", MinArgs: 1, MaxArgs: -1, Fn: cmp("<=", func(c int) bool { return c <= 0 })})
	register(Entry{Name: ">", MinArgs: 1, MaxArgs: -1, Fn: cmp(">", func(c int) bool { return c > 0 })})
	register(Entry{Name: ">=", MinArgs: 1, MaxArgs: -1, Fn: cmp(">=", func(c int) bool { return c >= 0 })})
}

func compare(a, b any) (int, error) {
	af, _, err := asNumber(a)
	if err != nil {
		as, aok := a.(string)
		bs, bok := b.(string)
		if aok && bok {
			return strings.Compare(as, bs), nil
		}
		return 0, err
	}
	bf, _, err := asNumber(b)
	if err != nil {
		return 0, err
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	default:
		return 0, nil
	}
}

// ---------------------------------------------------------------- logic

func registerLogic() {
	register(Entry{Name: "not", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		return !value.Truthy(args[0]), nil
	}})
}

// ---------------------------------------------------------------- collections

func toSlice(v any) ([]any, error) {
	switch t := v.(type) {
	case *value.Vector:
		return t.Items, nil
	case *value.Set:
		return t.Items_(), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("type_error: expected a collection, got %s", value.TypeLabel(v))
	}
}

func registerCollections() {
	register(Entry{Name: "first", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		s, err := toSlice(args[0])
		if err != nil {
			return nil, err
		}
		if len(s) == 0 {
			return nil, nil
		}
		return s[0], nil
	}})
	register(Entry{Name: "last", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		s, err := toSlice(args[0])
		if err != nil {
			return nil, err
		}
		if len(s) == 0 {
			return nil, nil
		}
		return s[len(s)-1], nil
	}})
	register(Entry{Name: "nth", MinArgs: 2, MaxArgs: 3, Fn: func(args []any) (any, error) {
		s, err := toSlice(args[0])
		if err != nil {
			return nil, err
		}
		n, _, err := asNumber(args[1])
		if err != nil {
			return nil, err
		}
		idx := int(n)
		if idx < 0 || idx >= len(s) {
			if len(args) == 3 {
				return args[2], nil
			}
			return nil, nil
		}
		return s[idx], nil
	}})
	register(Entry{Name: "count", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		switch t := args[0].(type) {
		case *value.Map:
			return int64(t.Len()), nil
		case string:
			return int64(len(t)), nil
		case nil:
			return int64(0), nil
		default:
			s, err := toSlice(args[0])
			if err != nil {
				return nil, err
			}
			return int64(len(s)), nil
		}
	}})
	register(Entry{Name: "empty?", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		switch t := args[0].(type) {
		case *value.Map:
			return t.Len() == 0, nil
		case string:
			return len(t) == 0, nil
		case nil:
			return true, nil
		default:
			s, err := toSlice(args[0])
			if err != nil {
				return nil, err
			}
			return len(s) == 0, nil
		}
	}})
	register(Entry{Name: "concat", MinArgs: 0, MaxArgs: -1, Fn: func(args []any) (any, error) {
		var out []any
		for _, a := range args {
			s, err := toSlice(a)
			if err != nil {
				return nil, err
			}
			out = append(out, s...)
		}
		return &value.Vector{Items: out}, nil
	}})
	register(Entry{Name: "take", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		n, _, err := asNumber(args[0])
		if err != nil {
			return nil, err
		}
		s, err := toSlice(args[1])
		if err != nil {
			return nil, err
		}
		if int(n) > len(s) {
			n = float64(len(s))
		}
		if n < 0 {
			n = 0
		}
		return &value.Vector{Items: append([]any(nil), s[:int(n)]...)}, nil
	}})
	register(Entry{Name: "drop", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		n, _, err := asNumber(args[0])
		if err != nil {
			return nil, err
		}
		s, err := toSlice(args[1])
		if err != nil {
			return nil, err
		}
		idx := int(n)
		if idx > len(s) {
			idx = len(s)
		}
		if idx < 0 {
			idx = 0
		}
		return &value.Vector{Items: append([]any(nil), s[idx:]...)}, nil
	}})
	register(Entry{Name: "reverse", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		s, err := toSlice(args[0])
		if err != nil {
			return nil, err
		}
		out := make([]any, len(s))
		for i, v := range s {
			out[len(s)-1-i] = v
		}
		return &value.Vector{Items: out}, nil
	}})
	register(Entry{Name: "distinct", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		s, err := toSlice(args[0])
		if err != nil {
			return nil, err
		}
		var out []any
		for _, v := range s {
			dup := false
			for _, o := range out {
				if value.Equal(v, o) {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, v)
			}
		}
		return &value.Vector{Items: out}, nil
	}})
	register(Entry{Name: "flatten", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		var out []any
		var walk func(v any)
		walk = func(v any) {
			if vec, ok := v.(*value.Vector); ok {
				for _, it := range vec.Items {
					walk(it)
				}
				return
			}
			out = append(out, v)
		}
		walk(args[0])
		return &value.Vector{Items: out}, nil
	}})
	register(Entry{Name: "into", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		src, err := toSlice(args[1])
		if err != nil {
			return nil, err
		}
		switch args[0].(type) {
		case *value.Set:
			return value.NewSet(src...), nil
		default:
			return &value.Vector{Items: append([]any(nil), src...)}, nil
		}
	}})
	register(Entry{Name: "pairs", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		m, ok := args[0].(*value.Map)
		if !ok {
			return nil, fmt.Errorf("type_error: pairs expects a map, got %s", value.TypeLabel(args[0]))
		}
		var out []any
		m.Each(func(k, v any) {
			out = append(out, &value.Vector{Items: []any{k, v}})
		})
		return &value.Vector{Items: out}, nil
	}})
}

// ---------------------------------------------------------------- maps

func registerMaps() {
	register(Entry{Name: "get", MinArgs: 2, MaxArgs: 3, Fn: func(args []any) (any, error) {
		m, ok := args[0].(*value.Map)
		if !ok {
			if len(args) == 3 {
				return args[2], nil
			}
			return nil, nil
		}
		if v, ok := m.Get(args[1]); ok {
			return v, nil
		}
		if len(args) == 3 {
			return args[2], nil
		}
		return nil, nil
	}})
	register(Entry{Name: "get-in", MinArgs: 2, MaxArgs: 3, Fn: func(args []any) (any, error) {
		path, err := toSlice(args[1])
		if err != nil {
			return nil, err
		}
		cur := args[0]
		for _, k := range path {
			m, ok := cur.(*value.Map)
			if !ok {
				if len(args) == 3 {
					return args[2], nil
				}
				return nil, nil
			}
			v, ok := m.Get(k)
			if !ok {
				if len(args) == 3 {
					return args[2], nil
				}
				return nil, nil
			}
			cur = v
		}
		return cur, nil
	}})
	register(Entry{Name: "assoc", MinArgs: 3, MaxArgs: -1, Fn: func(args []any) (any, error) {
		m, _ := args[0].(*value.Map)
		if m == nil {
			m = value.NewMap()
		} else {
			m = m.Clone()
		}
		if (len(args)-1)%2 != 0 {
			return nil, fmt.Errorf("arity_mismatch: assoc expects key/value pairs")
		}
		for i := 1; i+1 < len(args); i += 2 {
			m.Set(args[i], args[i+1])
		}
		return m, nil
	}})
	register(Entry{Name: "dissoc", MinArgs: 2, MaxArgs: -1, Fn: func(args []any) (any, error) {
		m, _ := args[0].(*value.Map)
		if m == nil {
			return value.NewMap(), nil
		}
		out := m.Clone()
		for _, k := range args[1:] {
			out = out.Without(k)
		}
		return out, nil
	}})
	register(Entry{Name: "merge", MinArgs: 0, MaxArgs: -1, Fn: func(args []any) (any, error) {
		out := value.NewMap()
		for _, a := range args {
			m, ok := a.(*value.Map)
			if !ok {
				continue
			}
			out = out.Merge(m)
		}
		return out, nil
	}})
	register(Entry{Name: "keys", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		m, ok := args[0].(*value.Map)
		if !ok {
			return &value.Vector{}, nil
		}
		return &value.Vector{Items: m.Keys()}, nil
	}})
	register(Entry{Name: "vals", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		m, ok := args[0].(*value.Map)
		if !ok {
			return &value.Vector{}, nil
		}
		return &value.Vector{Items: m.Vals()}, nil
	}})
	register(Entry{Name: "update-in", MinArgs: 3, MaxArgs: 3, Fn: func(args []any) (any, error) {
		return nil, fmt.Errorf("not_callable: update-in requires a function argument and must be invoked through the evaluator")
	}})
	// The other higher-order functions also call back into user closures:
	// these entries reserve their names so they resolve as builtins, and
	// the evaluator's applyBuiltin runs them.
	for _, name := range []string{"map", "mapv", "filter", "remove", "reduce", "sort-by", "group-by",
		"take-while", "drop-while", "update", "update-vals", "sum-by", "avg-by", "min-by", "max-by"} {
		name := name
		register(Entry{Name: name, MinArgs: 1, MaxArgs: -1, Fn: func(args []any) (any, error) {
			return nil, fmt.Errorf("not_callable: %s requires a function argument and must be invoked through the evaluator", name)
		}})
	}
}

// ---------------------------------------------------------------- strings

func registerStrings() {
	asString := func(v any) (string, error) {
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("type_error: expected string, got %s", value.TypeLabel(v))
		}
		return s, nil
	}
	register(Entry{Name: "split", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		sep, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return &value.Vector{Items: out}, nil
	}})
	register(Entry{Name: "split-lines", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		lines := strings.Split(s, "\n")
		out := make([]any, len(lines))
		for i, l := range lines {
			out[i] = l
		}
		return &value.Vector{Items: out}, nil
	}})
	register(Entry{Name: "join", MinArgs: 1, MaxArgs: 2, Fn: func(args []any) (any, error) {
		sep := ""
		coll := args[0]
		if len(args) == 2 {
			sep, _ = asString(args[0])
			coll = args[1]
		}
		s, err := toSlice(coll)
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(s))
		for i, v := range s {
			if str, ok := v.(string); ok {
				parts[i] = str
			} else {
				parts[i] = value.Print(v)
			}
		}
		return strings.Join(parts, sep), nil
	}})
	register(Entry{Name: "subs", MinArgs: 2, MaxArgs: 3, Fn: func(args []any) (any, error) {
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		start, _, err := asNumber(args[1])
		if err != nil {
			return nil, err
		}
		end := len(s)
		if len(args) == 3 {
			f, _, err := asNumber(args[2])
			if err != nil {
				return nil, err
			}
			end = int(f)
		}
		if int(start) < 0 || end > len(s) || int(start) > end {
			return nil, fmt.Errorf("type_error: subs index out of range")
		}
		return s[int(start):end], nil
	}})
	register(Entry{Name: "includes?", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		sub, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		return strings.Contains(s, sub), nil
	}})
	register(Entry{Name: "starts-with?", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		s, _ := asString(args[0])
		p, _ := asString(args[1])
		return strings.HasPrefix(s, p), nil
	}})
	register(Entry{Name: "ends-with?", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		s, _ := asString(args[0])
		p, _ := asString(args[1])
		return strings.HasSuffix(s, p), nil
	}})
	register(Entry{Name: "grep", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		text, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		pattern, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("type_error: invalid regex %q: %v", pattern, err)
		}
		var out []any
		for _, line := range strings.Split(text, "\n") {
			if re.MatchString(line) {
				out = append(out, line)
			}
		}
		return &value.Vector{Items: out}, nil
	}})
	register(Entry{Name: "grep-n", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		text, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		pattern, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("type_error: invalid regex %q: %v", pattern, err)
		}
		var out []any
		for i, line := range strings.Split(text, "\n") {
			if re.MatchString(line) {
				out = append(out, &value.Vector{Items: []any{int64(i + 1), line}})
			}
		}
		return &value.Vector{Items: out}, nil
	}})
	register(Entry{Name: "re-find", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		pattern, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		text, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("type_error: invalid regex %q: %v", pattern, err)
		}
		m := re.FindString(text)
		if m == "" && !re.MatchString(text) {
			return nil, nil
		}
		return m, nil
	}})
	register(Entry{Name: "re-pattern", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		if _, err := regexp.Compile(s); err != nil {
			return nil, fmt.Errorf("type_error: invalid regex %q: %v", s, err)
		}
		return s, nil
	}})
	register(Entry{Name: "parse-long", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, nil
		}
		return n, nil
	}})
	register(Entry{Name: "parse-double", MinArgs: 1, MaxArgs: 1, Fn: func(args []any) (any, error) {
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, nil
		}
		return f, nil
	}})
}

// ---------------------------------------------------------------- aggregates

func registerAggregates() {
	register(Entry{Name: "pluck", MinArgs: 2, MaxArgs: 2, Fn: func(args []any) (any, error) {
		s, err := toSlice(args[0])
		if err != nil {
			return nil, err
		}
		kw, ok := args[1].(value.Keyword)
		if !ok {
			return nil, fmt.Errorf("type_error: pluck expects a keyword field")
		}
		out := make([]any, 0, len(s))
		for _, it := range s {
			m, ok := it.(*value.Map)
			if !ok {
				out = append(out, nil)
				continue
			}
			v, _ := m.Get(kw)
			out = append(out, v)
		}
		return &value.Vector{Items: out}, nil
	}})
}
