// Package eval implements the Evaluator: Core AST in,
// value.Value out, threading a four-part environment (ctx/data, memory,
// lexical env, tool executor) plus the bookkeeping EvalContext tracks.
package eval

import (
	"fmt"
	"strings"
	"time"

	"github.com/subagentrun/subagent/builtins"
	"github.com/subagentrun/subagent/core"
	"github.com/subagentrun/subagent/value"
)

// Eval interprets a Core AST node, returning either a value or one of
// the signal/error types documented in signals.go. A `recur` form
// surfaces as a *RecurSignal, which the nearest enclosing loop or
// closure invocation catches and re-enters with the new arguments.
func (ec *EvalContext) Eval(node core.Node, env *Env) (any, error) {
	switch n := node.(type) {
	case core.Literal:
		return n.Value, nil

	case core.VectorLit:
		items := make([]any, len(n.Items))
		for i, it := range n.Items {
			v, err := ec.Eval(it, env)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return &value.Vector{Items: items}, nil

	case core.SetLit:
		items := make([]any, len(n.Items))
		for i, it := range n.Items {
			v, err := ec.Eval(it, env)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return value.NewSet(items...), nil

	case core.MapLit:
		m := value.NewMap()
		for i := range n.Keys {
			k, err := ec.Eval(n.Keys[i], env)
			if err != nil {
				return nil, err
			}
			v, err := ec.Eval(n.Vals[i], env)
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil

	case core.VarRef:
		return ec.resolveVar(n.Name, env)

	case core.DataRef:
		if v, ok := ec.Data.Get(value.Keyword(n.Name)); ok {
			return v, nil
		}
		if v, ok := ec.Data.Get(n.Name); ok {
			return v, nil
		}
		return nil, rtErr("unbound_var", "data/%s is not bound", n.Name)

	case core.MemoryRef:
		if v, ok := ec.Memory[n.Name]; ok {
			return v, nil
		}
		return nil, rtErr("unbound_var", "memory/%s is not bound", n.Name)

	case core.BudgetRemaining:
		return ec.Budget.ToMap(), nil

	case core.Def:
		return ec.evalDef(n, env)

	case core.Let:
		return ec.evalLet(n, env)

	case core.If:
		cond, err := ec.Eval(n.Cond, env)
		if err != nil {
			return nil, err
		}
		if value.Truthy(cond) {
			return ec.Eval(n.Then, env)
		}
		if n.Else == nil {
			return nil, nil
		}
		return ec.Eval(n.Else, env)

	case core.Do:
		var result any
		for _, item := range n.Body {
			v, err := ec.Eval(item, env)
			if err != nil {
				return nil, err
			}
			result = v
		}
		return result, nil

	case core.And:
		var result any = true
		for _, a := range n.Args {
			v, err := ec.Eval(a, env)
			if err != nil {
				return nil, err
			}
			if !value.Truthy(v) {
				return v, nil
			}
			result = v
		}
		return result, nil

	case core.Or:
		for i, a := range n.Args {
			v, err := ec.evalOrArm(a, env, i == len(n.Args)-1)
			if err != nil {
				return nil, err
			}
			if value.Truthy(v) {
				return v, nil
			}
			if i == len(n.Args)-1 {
				return v, nil
			}
		}
		return nil, nil

	case core.FnLit:
		return &value.Closure{
			Name: n.Name, Params: n.Params, Rest: n.Rest,
			Body: core.Do{Body: n.Body}, Env: env, Doc: n.Doc,
			Turns: append([]any(nil), ec.TurnHistory...),
		}, nil

	case core.Call:
		return ec.evalCall(n, env)

	case core.Loop:
		return ec.evalLoop(n, env)

	case core.Recur:
		args := make([]any, len(n.Args))
		for i, a := range n.Args {
			v, err := ec.Eval(a, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return nil, &RecurSignal{Args: args}

	case core.Return:
		v, err := ec.Eval(n.Value, env)
		if err != nil {
			return nil, err
		}
		return nil, &ReturnSignal{Value: v}

	case core.Fail:
		v, err := ec.Eval(n.Value, env)
		if err != nil {
			return nil, err
		}
		return nil, &FailSignal{Value: v}

	case core.StepDone:
		return nil, &StepDoneSignal{}

	case core.Task:
		return ec.evalTask(n, env)

	case core.TaskReset:
		id, err := ec.Eval(n.ID, env)
		if err != nil {
			return nil, err
		}
		idStr, ok := id.(string)
		if !ok {
			return nil, rtErr("type_error", "task-reset id must be a string")
		}
		delete(ec.Journal, idStr)
		return nil, nil

	case core.PMap:
		return ec.evalPMap(n, env)

	case core.PCalls:
		return ec.evalPCalls(n, env)

	case core.ToolCall:
		return ec.evalToolCall(n, env)

	case core.Where:
		return ec.evalWhere(n, env)

	case core.Combinator:
		return ec.evalCombinator(n, env)

	case core.Juxt:
		return ec.evalJuxt(n, env)

	default:
		return nil, rtErr("type_error", "unsupported core node %T", node)
	}
}

func (ec *EvalContext) evalOrArm(node core.Node, env *Env, isLast bool) (any, error) {
	if isLast {
		if ref, ok := node.(core.MemoryRef); ok {
			if v, ok := ec.Memory[ref.Name]; ok {
				return v, nil
			}
			return nil, nil // unbound memory/ in second arm of or => nil
		}
	}
	return ec.Eval(node, env)
}

func (ec *EvalContext) resolveVar(name string, env *Env) (any, error) {
	if v, ok := env.Lookup(name); ok {
		return v, nil
	}
	if v, ok := ec.Memory[name]; ok {
		return v, nil
	}
	if builtins.IsBuiltinName(name) {
		return builtinRef{name: name}, nil
	}
	switch name {
	case "*1":
		return historyAt(ec.TurnHistory, 0), nil
	case "*2":
		return historyAt(ec.TurnHistory, 1), nil
	case "*3":
		return historyAt(ec.TurnHistory, 2), nil
	}
	return nil, rtErr("unbound_var", "%s is not bound", name)
}

func historyAt(h []any, i int) any {
	if i >= len(h) {
		return nil
	}
	return h[i]
}

func (ec *EvalContext) evalDef(n core.Def, env *Env) (any, error) {
	if builtins.IsBuiltinName(n.Name) {
		return nil, rtErr("cannot_shadow_builtin", "%q is a built-in name", n.Name)
	}
	if n.Once {
		if v, ok := ec.Memory[n.Name]; ok {
			return &value.Var{Name: n.Name, Value: v}, nil
		}
	}
	v, err := ec.Eval(n.Value, env)
	if err != nil {
		return nil, err
	}
	ec.Memory[n.Name] = v
	return &value.Var{Name: n.Name, Value: v}, nil
}

func (ec *EvalContext) evalLet(n core.Let, env *Env) (any, error) {
	child := &Env{vars: map[string]any{}, parent: env}
	for i, name := range n.Names {
		v, err := ec.Eval(n.Inits[i], child)
		if err != nil {
			return nil, err
		}
		child.vars[name] = v
	}
	var result any
	for _, b := range n.Body {
		v, err := ec.Eval(b, child)
		if err != nil {
			return nil, err
		}
		result = v
	}
	return result, nil
}

func (ec *EvalContext) evalLoop(n core.Loop, env *Env) (any, error) {
	vals := make([]any, len(n.Names))
	for i, init := range n.Inits {
		v, err := ec.Eval(init, env)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	iterations := 0
	for {
		iterations++
		if iterations > ec.loopLimit() {
			return nil, &LoopLimitExceededError{Limit: ec.loopLimit()}
		}
		child := env.Child(n.Names, vals)
		var result any
		var signal *RecurSignal
		for _, b := range n.Body {
			v, err := ec.Eval(b, child)
			if err != nil {
				if rs, ok := err.(*RecurSignal); ok {
					signal = rs
					break
				}
				return nil, err
			}
			result = v
		}
		if signal == nil {
			return result, nil
		}
		if len(signal.Args) != len(n.Names) {
			return nil, rtErr("arity_mismatch", "recur expected %d arguments, got %d", len(n.Names), len(signal.Args))
		}
		vals = signal.Args
	}
}

func (ec *EvalContext) loopLimit() int {
	if ec.LoopLimit <= 0 {
		return 10000
	}
	return ec.LoopLimit
}

func (ec *EvalContext) evalTask(n core.Task, env *Env) (any, error) {
	id, err := ec.Eval(n.ID, env)
	if err != nil {
		return nil, err
	}
	idStr, ok := id.(string)
	if !ok {
		return nil, rtErr("type_error", "task id must be a string")
	}
	if v, ok := ec.Journal[idStr]; ok {
		return v, nil
	}
	v, err := ec.Eval(n.Expr, env)
	if err != nil {
		return nil, err
	}
	ec.Journal[idStr] = v
	return v, nil
}

func (ec *EvalContext) evalCall(n core.Call, env *Env) (any, error) {
	fnVal, err := ec.Eval(n.Fn, env)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := ec.Eval(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return ec.Apply(fnVal, args)
}

func (ec *EvalContext) evalToolCall(n core.ToolCall, env *Env) (any, error) {
	args, err := ec.buildToolArgs(n.Args, env)
	if err != nil {
		return nil, err
	}
	if ec.MaxToolCalls > 0 && len(ec.ToolCalls) >= ec.MaxToolCalls {
		return nil, rtErr("tool_call_limit_exceeded", "exceeded max_tool_calls (%d)", ec.MaxToolCalls)
	}
	if ec.Tool == nil {
		return nil, rtErr("tool_not_found", "no tool dispatcher configured for tool/%s", n.Name)
	}
	start := time.Now()
	result, dispatchErr := ec.Tool.Dispatch(ec.Go, n.Name, args)
	ec.PushToolCall(ToolCallRecord{
		Name:       n.Name,
		Args:       args,
		Result:     result,
		Err:        dispatchErr,
		DurationMS: time.Since(start).Milliseconds(),
	})
	return result, dispatchErr
}

// buildToolArgs implements the tool-argument call grammar: either a
// single map, or keyword-style pairs :k v :k v. Keys are stringified
// recursively at this boundary.
func (ec *EvalContext) buildToolArgs(argNodes []core.Node, env *Env) (*value.Map, error) {
	if len(argNodes) == 1 {
		v, err := ec.Eval(argNodes[0], env)
		if err != nil {
			return nil, err
		}
		m, ok := v.(*value.Map)
		if !ok {
			return nil, rtErr("invalid_tool_args", "expected a map of arguments, got %s; hint: pass {:k v} or :k v :k v pairs", value.TypeLabel(v))
		}
		strm, _ := value.StringifyKeysDeep(m).(*value.Map)
		return strm, nil
	}
	if len(argNodes)%2 != 0 {
		return nil, rtErr("invalid_tool_args", "keyword-style tool arguments must come in :k v pairs; hint: (tool/name :a 1 :b 2) or (tool/name {:a 1 :b 2})")
	}
	m := value.NewMap()
	for i := 0; i+1 < len(argNodes); i += 2 {
		k, err := ec.Eval(argNodes[i], env)
		if err != nil {
			return nil, err
		}
		if _, ok := k.(value.Keyword); !ok {
			return nil, rtErr("invalid_tool_args", "keyword-style arguments must alternate keyword, value; got %s in key position", value.TypeLabel(k))
		}
		v, err := ec.Eval(argNodes[i+1], env)
		if err != nil {
			return nil, err
		}
		m.Set(k, v)
	}
	strm, _ := value.StringifyKeysDeep(m).(*value.Map)
	return strm, nil
}

func (ec *EvalContext) evalWhere(n core.Where, env *Env) (any, error) {
	fieldVal, err := ec.Eval(n.Field, env)
	if err != nil {
		return nil, err
	}
	valueNode, err := ec.Eval(n.Value, env)
	if err != nil {
		return nil, err
	}
	field, ok := fieldVal.(value.Keyword)
	if !ok {
		return nil, rtErr("type_error", "where's field must be a keyword")
	}
	op := n.Op
	target := valueNode
	closure := &nativePredicate{
		name: fmt.Sprintf("where(%s %s %v)", field, op, value.Print(target)),
		fn: func(item any) (any, error) {
			m, ok := item.(*value.Map)
			if !ok {
				return false, nil
			}
			v, _ := m.Get(field)
			return matchWhere(v, op, target), nil
		},
	}
	return closure, nil
}

func matchWhere(v any, op string, target any) bool {
	switch op {
	case "=":
		return value.Equal(v, target)
	case "not=":
		return !value.Equal(v, target)
	case ">", "<", ">=", "<=":
		c, err := numCompare(v, target)
		if err != nil {
			return false
		}
		switch op {
		case ">":
			return c > 0
		case "<":
			return c < 0
		case ">=":
			return c >= 0
		default:
			return c <= 0
		}
	case "in":
		s, ok := target.(*value.Set)
		if ok {
			return s.Contains(v)
		}
		vec, ok := target.(*value.Vector)
		if ok {
			for _, it := range vec.Items {
				if value.Equal(it, v) {
					return true
				}
			}
		}
		return false
	case "includes":
		s, ok := v.(string)
		t, ok2 := target.(string)
		if ok && ok2 {
			return strings.Contains(s, t)
		}
		return false
	}
	return false
}

func numCompare(a, b any) (int, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, rtErr("type_error", "cannot compare non-numeric values")
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

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func (ec *EvalContext) evalCombinator(n core.Combinator, env *Env) (any, error) {
	preds := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := ec.Eval(a, env)
		if err != nil {
			return nil, err
		}
		preds[i] = v
	}
	name := n.Kind
	return &nativePredicate{
		name: name,
		fn: func(item any) (any, error) {
			results := make([]bool, len(preds))
			for i, p := range preds {
				r, err := ec.Apply(p, []any{item})
				if err != nil {
					return nil, err
				}
				results[i] = value.Truthy(r)
			}
			switch n.Kind {
			case "all-of":
				for _, r := range results {
					if !r {
						return false, nil
					}
				}
				return true, nil
			case "any-of":
				for _, r := range results {
					if r {
						return true, nil
					}
				}
				return false, nil
			default: // none-of
				for _, r := range results {
					if r {
						return false, nil
					}
				}
				return true, nil
			}
		},
	}, nil
}

func (ec *EvalContext) evalJuxt(n core.Juxt, env *Env) (any, error) {
	fns := make([]any, len(n.Fns))
	for i, f := range n.Fns {
		v, err := ec.Eval(f, env)
		if err != nil {
			return nil, err
		}
		fns[i] = v
	}
	return &nativePredicate{
		name: "juxt",
		fn: func(item any) (any, error) {
			out := make([]any, len(fns))
			for i, f := range fns {
				r, err := ec.Apply(f, []any{item})
				if err != nil {
					return nil, err
				}
				out[i] = r
			}
			return &value.Vector{Items: out}, nil
		},
	}, nil
}

// builtinRef is the runtime value a bare symbol resolves to when it
// names a Runtime Library function rather than a let/memory binding.
type builtinRef struct{ name string }

// nativePredicate wraps a Go closure produced by where/all-of/any-of/
// none-of/juxt so it can flow through Apply like any other callable.
type nativePredicate struct {
	name string
	fn   func(item any) (any, error)
}
