package eval

import (
	"fmt"
	"sort"

	"github.com/subagentrun/subagent/builtins"
	"github.com/subagentrun/subagent/core"
	"github.com/subagentrun/subagent/value"
)

// Apply invokes any callable runtime value with args: a closure, a
// builtinRef, a nativePredicate (where/all-of/any-of/none-of/juxt), a
// *value.Map (used as a lookup function of its keys), or a *value.Set
// (used as a membership predicate) — maps and sets are themselves
// callable values in this DSL.
func (ec *EvalContext) Apply(fn any, args []any) (any, error) {
	switch f := fn.(type) {
	case builtinRef:
		return ec.applyBuiltin(f.name, args)
	case *nativePredicate:
		if len(args) != 1 {
			return nil, rtErr("arity_mismatch", "%s expects exactly 1 argument, got %d", f.name, len(args))
		}
		return f.fn(args[0])
	case *value.Closure:
		return ec.applyClosure(f, args)
	case *value.Map:
		if len(args) < 1 || len(args) > 2 {
			return nil, rtErr("arity_mismatch", "a map used as a function expects 1 or 2 arguments")
		}
		if v, ok := f.Get(args[0]); ok {
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, nil
	case *value.Set:
		if len(args) != 1 {
			return nil, rtErr("arity_mismatch", "a set used as a function expects exactly 1 argument")
		}
		return f.Contains(args[0]), nil
	case nil:
		return nil, rtErr("not_callable", "nil is not callable")
	default:
		return nil, rtErr("not_callable", "value of type %s is not callable", value.TypeLabel(fn))
	}
}

// applyBuiltin dispatches a name resolved as a builtinRef. Arity-bearing
// pure builtins go straight to the builtins package; the higher-order
// functions that must call back into user closures are implemented
// here because builtins cannot depend on eval without an import cycle.
func (ec *EvalContext) applyBuiltin(name string, args []any) (any, error) {
	switch name {
	case "map":
		return ec.hoMap(args)
	case "mapv":
		return ec.hoMap(args)
	case "filter":
		return ec.hoFilter(args, true)
	case "remove":
		return ec.hoFilter(args, false)
	case "reduce":
		return ec.hoReduce(args)
	case "sort-by":
		return ec.hoSortBy(args)
	case "group-by":
		return ec.hoGroupBy(args)
	case "take-while":
		return ec.hoTakeWhile(args)
	case "drop-while":
		return ec.hoDropWhile(args)
	case "update":
		return ec.hoUpdate(args)
	case "update-in":
		return ec.hoUpdateIn(args)
	case "update-vals":
		return ec.hoUpdateVals(args)
	case "sum-by":
		return ec.hoSumBy(args)
	case "avg-by":
		return ec.hoAvgBy(args)
	case "min-by":
		return ec.hoMinMaxBy(args, true)
	case "max-by":
		return ec.hoMinMaxBy(args, false)
	default:
		v, err := builtins.Call(name, args)
		if err != nil {
			return nil, wrapBuiltinErr(err)
		}
		return v, nil
	}
}

// wrapBuiltinErr lifts the builtins package's plain "reason: message"
// errors into *RuntimeError so callers can inspect Reason uniformly.
func wrapBuiltinErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for i := 0; i < len(msg); i++ {
		if msg[i] == ':' {
			return &RuntimeError{Reason: msg[:i], Message: msg[i+2:]}
		}
	}
	return &RuntimeError{Reason: "failed", Message: msg}
}

func (ec *EvalContext) applyClosure(c *value.Closure, args []any) (any, error) {
	env, ok := c.Env.(*Env)
	if !ok {
		env = NewEnv()
	}
	for {
		names := c.Params
		if len(args) < len(names) || (c.Rest == "" && len(args) > len(names)) {
			return nil, rtErr("arity_mismatch", "%s expects %d argument(s), got %d", closureLabel(c), len(names), len(args))
		}
		child := env.Child(names, args[:len(names)])
		if c.Rest != "" {
			child.vars[c.Rest] = &value.Vector{Items: append([]any(nil), args[len(names):]...)}
		}
		var result any
		var err error
		var recur *RecurSignal
		result, err = ec.evalAny(c.Body, child)
		if err != nil {
			if rs, isRecur := err.(*RecurSignal); isRecur {
				recur = rs
			} else {
				return nil, err
			}
		}
		if recur == nil {
			return result, nil
		}
		if len(recur.Args) != len(names) {
			return nil, rtErr("arity_mismatch", "recur expected %d arguments, got %d", len(names), len(recur.Args))
		}
		args = recur.Args
	}
}

func closureLabel(c *value.Closure) string {
	if c.Name != "" {
		return c.Name
	}
	return "fn"
}

// evalAny unwraps a value.Closure.Body (typed any to keep package value
// free of a core dependency) back into a core.Node for evaluation.
func (ec *EvalContext) evalAny(n any, env *Env) (any, error) {
	node, ok := n.(core.Node)
	if !ok {
		return nil, rtErr("type_error", "closure body is not an evaluable node")
	}
	return ec.Eval(node, env)
}

// -------------------------------------------------------------- higher-order

func (ec *EvalContext) hoMap(args []any) (any, error) {
	if len(args) < 2 {
		return nil, rtErr("arity_mismatch", "map expects a function and at least one collection")
	}
	fn := args[0]
	colls := make([][]any, len(args)-1)
	minLen := -1
	for i, c := range args[1:] {
		s, err := toSliceLocal(c)
		if err != nil {
			return nil, err
		}
		colls[i] = s
		if minLen < 0 || len(s) < minLen {
			minLen = len(s)
		}
	}
	out := make([]any, 0, minLen)
	for i := 0; i < minLen; i++ {
		callArgs := make([]any, len(colls))
		for j := range colls {
			callArgs[j] = colls[j][i]
		}
		v, err := ec.Apply(fn, callArgs)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return &value.Vector{Items: out}, nil
}

func (ec *EvalContext) hoFilter(args []any, keep bool) (any, error) {
	if len(args) != 2 {
		return nil, rtErr("arity_mismatch", "%s expects a predicate and a collection", filterName(keep))
	}
	s, err := toSliceLocal(args[1])
	if err != nil {
		return nil, err
	}
	var out []any
	for _, item := range s {
		v, err := ec.Apply(args[0], []any{item})
		if err != nil {
			return nil, err
		}
		if value.Truthy(v) == keep {
			out = append(out, item)
		}
	}
	return &value.Vector{Items: out}, nil
}

func filterName(keep bool) string {
	if keep {
		return "filter"
	}
	return "remove"
}

func (ec *EvalContext) hoReduce(args []any) (any, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, rtErr("arity_mismatch", "reduce expects (fn coll) or (fn init coll)")
	}
	fn := args[0]
	var acc any
	var s []any
	var err error
	if len(args) == 2 {
		s, err = toSliceLocal(args[1])
		if err != nil {
			return nil, err
		}
		if len(s) == 0 {
			return nil, nil
		}
		acc = s[0]
		s = s[1:]
	} else {
		acc = args[1]
		s, err = toSliceLocal(args[2])
		if err != nil {
			return nil, err
		}
	}
	for _, item := range s {
		acc, err = ec.Apply(fn, []any{acc, item})
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (ec *EvalContext) hoSortBy(args []any) (any, error) {
	if len(args) != 2 {
		return nil, rtErr("arity_mismatch", "sort-by expects a key function and a collection")
	}
	s, err := toSliceLocal(args[1])
	if err != nil {
		return nil, err
	}
	keyed := make([]struct {
		item any
		key  any
	}, len(s))
	for i, item := range s {
		k, err := ec.Apply(args[0], []any{item})
		if err != nil {
			return nil, err
		}
		keyed[i] = struct {
			item any
			key  any
		}{item, k}
	}
	var sortErr error
	sort.SliceStable(keyed, func(i, j int) bool {
		c, err := compareAny(keyed[i].key, keyed[j].key)
		if err != nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	out := make([]any, len(keyed))
	for i, k := range keyed {
		out[i] = k.item
	}
	return &value.Vector{Items: out}, nil
}

func compareAny(a, b any) (int, error) {
	if as, ok := a.(string); ok {
		bs, ok2 := b.(string)
		if !ok2 {
			return 0, rtErr("type_error", "cannot compare mixed types")
		}
		switch {
		case as < bs:
			return -1, nil
		case as > bs:
			return 1, nil
		default:
			return 0, nil
		}
	}
	af, aok := numVal(a)
	bf, bok := numVal(b)
	if !aok || !bok {
		return 0, rtErr("type_error", "cannot compare non-numeric, non-string values")
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

func numVal(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func (ec *EvalContext) hoGroupBy(args []any) (any, error) {
	if len(args) != 2 {
		return nil, rtErr("arity_mismatch", "group-by expects a key function and a collection")
	}
	s, err := toSliceLocal(args[1])
	if err != nil {
		return nil, err
	}
	out := value.NewMap()
	for _, item := range s {
		k, err := ec.Apply(args[0], []any{item})
		if err != nil {
			return nil, err
		}
		existing, ok := out.Get(k)
		var vec *value.Vector
		if ok {
			vec = existing.(*value.Vector)
		} else {
			vec = &value.Vector{}
		}
		vec = &value.Vector{Items: append(append([]any(nil), vec.Items...), item)}
		out = out.Set(k, vec)
	}
	return out, nil
}

func (ec *EvalContext) hoTakeWhile(args []any) (any, error) {
	if len(args) != 2 {
		return nil, rtErr("arity_mismatch", "take-while expects a predicate and a collection")
	}
	s, err := toSliceLocal(args[1])
	if err != nil {
		return nil, err
	}
	var out []any
	for _, item := range s {
		v, err := ec.Apply(args[0], []any{item})
		if err != nil {
			return nil, err
		}
		if !value.Truthy(v) {
			break
		}
		out = append(out, item)
	}
	return &value.Vector{Items: out}, nil
}

func (ec *EvalContext) hoDropWhile(args []any) (any, error) {
	if len(args) != 2 {
		return nil, rtErr("arity_mismatch", "drop-while expects a predicate and a collection")
	}
	s, err := toSliceLocal(args[1])
	if err != nil {
		return nil, err
	}
	i := 0
	for ; i < len(s); i++ {
		v, err := ec.Apply(args[0], []any{s[i]})
		if err != nil {
			return nil, err
		}
		if !value.Truthy(v) {
			break
		}
	}
	return &value.Vector{Items: append([]any(nil), s[i:]...)}, nil
}

func (ec *EvalContext) hoUpdate(args []any) (any, error) {
	if len(args) < 3 {
		return nil, rtErr("arity_mismatch", "update expects (map key fn & extra-args)")
	}
	m, ok := args[0].(*value.Map)
	if !ok {
		return nil, rtErr("type_error", "update expects a map")
	}
	cur, _ := m.Get(args[1])
	callArgs := append([]any{cur}, args[3:]...)
	v, err := ec.Apply(args[2], callArgs)
	if err != nil {
		return nil, err
	}
	return m.Clone().Set(args[1], v), nil
}

func (ec *EvalContext) hoUpdateIn(args []any) (any, error) {
	if len(args) != 3 {
		return nil, rtErr("arity_mismatch", "update-in expects (map path fn)")
	}
	m, ok := args[0].(*value.Map)
	if !ok {
		return nil, rtErr("type_error", "update-in expects a map")
	}
	path, err := toSliceLocal(args[1])
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return m, nil
	}
	return updateInRec(ec, m, path, args[2])
}

func updateInRec(ec *EvalContext, m *value.Map, path []any, fn any) (any, error) {
	k := path[0]
	if len(path) == 1 {
		cur, _ := m.Get(k)
		v, err := ec.Apply(fn, []any{cur})
		if err != nil {
			return nil, err
		}
		return m.Clone().Set(k, v), nil
	}
	cur, ok := m.Get(k)
	child, _ := cur.(*value.Map)
	if !ok || child == nil {
		child = value.NewMap()
	}
	nested, err := updateInRec(ec, child, path[1:], fn)
	if err != nil {
		return nil, err
	}
	return m.Clone().Set(k, nested), nil
}

func (ec *EvalContext) hoUpdateVals(args []any) (any, error) {
	if len(args) != 2 {
		return nil, rtErr("arity_mismatch", "update-vals expects (map fn)")
	}
	m, ok := args[0].(*value.Map)
	if !ok {
		return nil, rtErr("type_error", "update-vals expects a map")
	}
	out := m.Clone()
	var applyErr error
	m.Each(func(k, v any) {
		if applyErr != nil {
			return
		}
		nv, err := ec.Apply(args[1], []any{v})
		if err != nil {
			applyErr = err
			return
		}
		out = out.Set(k, nv)
	})
	if applyErr != nil {
		return nil, applyErr
	}
	return out, nil
}

func (ec *EvalContext) hoSumBy(args []any) (any, error) {
	if len(args) != 2 {
		return nil, rtErr("arity_mismatch", "sum-by expects a key function and a collection")
	}
	s, err := toSliceLocal(args[1])
	if err != nil {
		return nil, err
	}
	var sum float64
	allInt := true
	for _, item := range s {
		v, err := ec.Apply(args[0], []any{item})
		if err != nil {
			return nil, err
		}
		f, ok := numVal(v)
		if !ok {
			return nil, rtErr("type_error", "sum-by requires numeric values")
		}
		if _, isInt := v.(int64); !isInt {
			allInt = false
		}
		sum += f
	}
	if allInt {
		return int64(sum), nil
	}
	return sum, nil
}

func (ec *EvalContext) hoAvgBy(args []any) (any, error) {
	if len(args) != 2 {
		return nil, rtErr("arity_mismatch", "avg-by expects a key function and a collection")
	}
	s, err := toSliceLocal(args[1])
	if err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, nil
	}
	var sum float64
	for _, item := range s {
		v, err := ec.Apply(args[0], []any{item})
		if err != nil {
			return nil, err
		}
		f, ok := numVal(v)
		if !ok {
			return nil, rtErr("type_error", "avg-by requires numeric values")
		}
		sum += f
	}
	return sum / float64(len(s)), nil
}

func (ec *EvalContext) hoMinMaxBy(args []any, wantMin bool) (any, error) {
	name := "max-by"
	if wantMin {
		name = "min-by"
	}
	if len(args) != 2 {
		return nil, rtErr("arity_mismatch", "%s expects a key function and a collection", name)
	}
	s, err := toSliceLocal(args[1])
	if err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, nil
	}
	best := s[0]
	bestKey, err := ec.Apply(args[0], []any{best})
	if err != nil {
		return nil, err
	}
	for _, item := range s[1:] {
		k, err := ec.Apply(args[0], []any{item})
		if err != nil {
			return nil, err
		}
		c, err := compareAny(k, bestKey)
		if err != nil {
			return nil, err
		}
		if (wantMin && c < 0) || (!wantMin && c > 0) {
			best = item
			bestKey = k
		}
	}
	return best, nil
}

func toSliceLocal(v any) ([]any, error) {
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
