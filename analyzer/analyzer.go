// Package analyzer turns a raw ast.Node into a flat, deterministic
// core.Node: it resolves reserved namespaces, rewrites
// sugar (threading macros, when, cond, if-let, defn) into primitive
// forms, and validates structural invariants (no shadowing builtins,
// recur only in tail position).
package analyzer

import (
	"fmt"

	"github.com/subagentrun/subagent/ast"
	"github.com/subagentrun/subagent/builtins"
	"github.com/subagentrun/subagent/core"
	"github.com/subagentrun/subagent/value"
)

// AnalyzeError is {analyze_error, path, reason}, one node's failure
// during analysis.
type AnalyzeError struct {
	Path   string
	Reason string
}

func (e *AnalyzeError) Error() string {
	return fmt.Sprintf("analyze error at %s: %s", e.Path, e.Reason)
}

func errAt(path, reason string, args ...any) error {
	return &AnalyzeError{Path: path, Reason: fmt.Sprintf(reason, args...)}
}

// Analyze converts a raw AST into the Core AST.
func Analyze(n ast.Node) (core.Node, error) {
	return analyze(n, "root", false)
}

// inTail indicates whether n occupies a tail position reachable from an
// enclosing loop, required to validate `recur` placement.
func analyze(n ast.Node, path string, inTail bool) (core.Node, error) {
	switch t := n.(type) {
	case ast.Nil:
		return core.Literal{Value: nil}, nil
	case ast.Bool:
		return core.Literal{Value: t.Value}, nil
	case ast.Int:
		return core.Literal{Value: t.Value}, nil
	case ast.Float:
		return core.Literal{Value: t.Value}, nil
	case ast.Str:
		return core.Literal{Value: t.Value}, nil
	case ast.Kw:
		return core.Literal{Value: value.Keyword(t.Name)}, nil
	case ast.Vec:
		items, err := analyzeAll(t.Items, path+"[]", false)
		if err != nil {
			return nil, err
		}
		return core.VectorLit{Items: items}, nil
	case ast.SetLit:
		items, err := analyzeAll(t.Items, path+"#{}", false)
		if err != nil {
			return nil, err
		}
		return core.SetLit{Items: items}, nil
	case ast.MapLit:
		keys, err := analyzeAll(t.Keys, path+"{k}", false)
		if err != nil {
			return nil, err
		}
		vals, err := analyzeAll(t.Vals, path+"{v}", false)
		if err != nil {
			return nil, err
		}
		return core.MapLit{Keys: keys, Vals: vals}, nil
	case ast.Sym:
		return analyzeSymbol(t, path)
	case ast.List:
		return analyzeList(t, path, inTail)
	default:
		return nil, errAt(path, "unrecognized raw AST node %T", n)
	}
}

func analyzeAll(ns []ast.Node, path string, inTail bool) ([]core.Node, error) {
	out := make([]core.Node, len(ns))
	for i, n := range ns {
		c, err := analyze(n, fmt.Sprintf("%s.%d", path, i), inTail && i == len(ns)-1)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func analyzeSymbol(s ast.Sym, path string) (core.Node, error) {
	switch s.Namespace {
	case "data":
		return core.DataRef{Name: s.Name}, nil
	case "memory":
		return core.MemoryRef{Name: s.Name}, nil
	case "budget":
		if s.Name == "remaining" {
			return core.BudgetRemaining{}, nil
		}
		return nil, errAt(path, "unknown budget/ reference %q", s.Name)
	case "tool":
		return nil, errAt(path, "tool/%s must be called, e.g. (tool/%s {...})", s.Name, s.Name)
	case "":
		if s.Name == "*1" || s.Name == "*2" || s.Name == "*3" {
			return core.VarRef{Name: s.Name}, nil
		}
		return core.VarRef{Name: s.Name}, nil
	default:
		return nil, errAt(path, "unknown namespace %q", s.Namespace)
	}
}

func analyzeList(l ast.List, path string, inTail bool) (core.Node, error) {
	if len(l.Items) == 0 {
		return core.Literal{Value: &value.Vector{}}, nil
	}
	head, isHeadSym := l.Items[0].(ast.Sym)
	if isHeadSym && head.Namespace == "tool" {
		args, err := analyzeAll(l.Items[1:], path+"/tool", false)
		if err != nil {
			return nil, err
		}
		return core.ToolCall{Name: head.Name, Args: args}, nil
	}
	if isHeadSym && head.Namespace == "" {
		switch head.Name {
		case "def", "defonce":
			return analyzeDef(l, path, head.Name == "defonce")
		case "defn":
			return analyzeDefn(l, path)
		case "fn":
			return analyzeFn(l, path)
		case "let":
			return analyzeLet(l, path, inTail)
		case "if":
			return analyzeIf(l, path, inTail)
		case "if-let":
			return analyzeIfLet(l, path, inTail)
		case "when":
			return analyzeWhen(l, path, inTail)
		case "cond":
			return analyzeCond(l, path, inTail)
		case "do":
			body, err := analyzeAll(l.Items[1:], path+"/do", inTail)
			if err != nil {
				return nil, err
			}
			return core.Do{Body: body}, nil
		case "and":
			args, err := analyzeAll(l.Items[1:], path+"/and", false)
			if err != nil {
				return nil, err
			}
			return core.And{Args: args}, nil
		case "or":
			args, err := analyzeAll(l.Items[1:], path+"/or", false)
			if err != nil {
				return nil, err
			}
			return core.Or{Args: args}, nil
		case "loop":
			return analyzeLoop(l, path)
		case "recur":
			if !inTail {
				return nil, errAt(path, "recur is only valid in tail position of loop or a closure")
			}
			args, err := analyzeAll(l.Items[1:], path+"/recur", false)
			if err != nil {
				return nil, err
			}
			return core.Recur{Args: args}, nil
		case "return":
			if len(l.Items) > 2 {
				return nil, errAt(path, "return takes at most one argument")
			}
			var v core.Node = core.Literal{Value: nil}
			if len(l.Items) == 2 {
				var err error
				v, err = analyze(l.Items[1], path+"/return", false)
				if err != nil {
					return nil, err
				}
			}
			return core.Return{Value: v}, nil
		case "fail":
			if len(l.Items) != 2 {
				return nil, errAt(path, "fail takes exactly one argument")
			}
			v, err := analyze(l.Items[1], path+"/fail", false)
			if err != nil {
				return nil, err
			}
			return core.Fail{Value: v}, nil
		case "task":
			if len(l.Items) != 3 {
				return nil, errAt(path, "task takes an id and an expression")
			}
			id, err := analyze(l.Items[1], path+"/task.id", false)
			if err != nil {
				return nil, err
			}
			expr, err := analyze(l.Items[2], path+"/task.expr", false)
			if err != nil {
				return nil, err
			}
			return core.Task{ID: id, Expr: expr}, nil
		case "task-reset":
			if len(l.Items) != 2 {
				return nil, errAt(path, "task-reset takes exactly one id argument")
			}
			id, err := analyze(l.Items[1], path+"/task-reset.id", false)
			if err != nil {
				return nil, err
			}
			return core.TaskReset{ID: id}, nil
		case "step-done":
			return core.StepDone{}, nil
		case "pmap":
			if len(l.Items) != 3 {
				return nil, errAt(path, "pmap takes a function and a collection")
			}
			fn, err := analyze(l.Items[1], path+"/pmap.fn", false)
			if err != nil {
				return nil, err
			}
			coll, err := analyze(l.Items[2], path+"/pmap.coll", false)
			if err != nil {
				return nil, err
			}
			return core.PMap{Fn: fn, Coll: coll}, nil
		case "pcalls":
			thunks, err := analyzeAll(l.Items[1:], path+"/pcalls", false)
			if err != nil {
				return nil, err
			}
			return core.PCalls{Thunks: thunks}, nil
		case "where":
			return analyzeWhere(l, path)
		case "all-of", "any-of", "none-of":
			args, err := analyzeAll(l.Items[1:], path+"/"+head.Name, false)
			if err != nil {
				return nil, err
			}
			return core.Combinator{Kind: head.Name, Args: args}, nil
		case "juxt":
			fns, err := analyzeAll(l.Items[1:], path+"/juxt", false)
			if err != nil {
				return nil, err
			}
			return core.Juxt{Fns: fns}, nil
		case "->":
			return analyzeThreadFirst(l.Items[1:], path)
		case "->>":
			return analyzeThreadLast(l.Items[1:], path)
		}
	}
	fn, err := analyze(l.Items[0], path+"/fn", false)
	if err != nil {
		return nil, err
	}
	args, err := analyzeAll(l.Items[1:], path+"/args", false)
	if err != nil {
		return nil, err
	}
	return core.Call{Fn: fn, Args: args}, nil
}

func analyzeDef(l ast.List, path string, once bool) (core.Node, error) {
	if len(l.Items) != 3 {
		return nil, errAt(path, "def takes a name and a value")
	}
	sym, ok := l.Items[1].(ast.Sym)
	if !ok || sym.Namespace != "" {
		return nil, errAt(path, "def requires a plain symbol name")
	}
	if builtins.IsBuiltinName(sym.Name) {
		return nil, errAt(path, "cannot_shadow_builtin: %q is a built-in name", sym.Name)
	}
	val, err := analyze(l.Items[2], path+"/def.value", false)
	if err != nil {
		return nil, err
	}
	return core.Def{Name: sym.Name, Value: val, Once: once}, nil
}

func analyzeFn(l ast.List, path string) (core.Node, error) {
	if len(l.Items) < 2 {
		return nil, errAt(path, "fn requires a parameter vector")
	}
	idx := 1
	name := ""
	if sym, ok := l.Items[1].(ast.Sym); ok {
		name = sym.Name
		idx = 2
	}
	vec, ok := l.Items[idx].(ast.Vec)
	if !ok {
		return nil, errAt(path, "fn requires a parameter vector")
	}
	params, rest, err := parseParams(vec, path)
	if err != nil {
		return nil, err
	}
	body, err := analyzeAll(l.Items[idx+1:], path+"/fn.body", true)
	if err != nil {
		return nil, err
	}
	return core.FnLit{Name: name, Params: params, Rest: rest, Body: body}, nil
}

func analyzeDefn(l ast.List, path string) (core.Node, error) {
	if len(l.Items) < 3 {
		return nil, errAt(path, "defn requires a name, parameter vector, and body")
	}
	sym, ok := l.Items[1].(ast.Sym)
	if !ok || sym.Namespace != "" {
		return nil, errAt(path, "defn requires a plain symbol name")
	}
	if builtins.IsBuiltinName(sym.Name) {
		return nil, errAt(path, "cannot_shadow_builtin: %q is a built-in name", sym.Name)
	}
	vec, ok := l.Items[2].(ast.Vec)
	if !ok {
		return nil, errAt(path, "defn requires a parameter vector")
	}
	params, rest, err := parseParams(vec, path)
	if err != nil {
		return nil, err
	}
	bodyItems := l.Items[3:]
	doc := ""
	if len(bodyItems) > 1 {
		if s, ok := bodyItems[0].(ast.Str); ok {
			doc = s.Value
			bodyItems = bodyItems[1:]
		}
	}
	body, err := analyzeAll(bodyItems, path+"/defn.body", true)
	if err != nil {
		return nil, err
	}
	fnLit := core.FnLit{Name: sym.Name, Params: params, Rest: rest, Body: body, Doc: doc}
	return core.Def{Name: sym.Name, Value: fnLit}, nil
}

func parseParams(vec ast.Vec, path string) ([]string, string, error) {
	var params []string
	rest := ""
	for i := 0; i < len(vec.Items); i++ {
		sym, ok := vec.Items[i].(ast.Sym)
		if !ok {
			return nil, "", errAt(path, "parameter list must contain only symbols")
		}
		if sym.Name == "&" {
			if i+1 >= len(vec.Items) {
				return nil, "", errAt(path, "expected a rest parameter name after '&'")
			}
			restSym, ok := vec.Items[i+1].(ast.Sym)
			if !ok {
				return nil, "", errAt(path, "rest parameter must be a symbol")
			}
			rest = restSym.Name
			break
		}
		params = append(params, sym.Name)
	}
	return params, rest, nil
}

func analyzeLet(l ast.List, path string, inTail bool) (core.Node, error) {
	if len(l.Items) < 2 {
		return nil, errAt(path, "let requires a binding vector")
	}
	vec, ok := l.Items[1].(ast.Vec)
	if !ok || len(vec.Items)%2 != 0 {
		return nil, errAt(path, "let requires an even-length binding vector")
	}
	var names []string
	var inits []core.Node
	for i := 0; i < len(vec.Items); i += 2 {
		sym, ok := vec.Items[i].(ast.Sym)
		if !ok {
			return nil, errAt(path, "let bindings must bind plain symbols")
		}
		init, err := analyze(vec.Items[i+1], fmt.Sprintf("%s/let.%d", path, i), false)
		if err != nil {
			return nil, err
		}
		names = append(names, sym.Name)
		inits = append(inits, init)
	}
	body, err := analyzeAll(l.Items[2:], path+"/let.body", inTail)
	if err != nil {
		return nil, err
	}
	return core.Let{Names: names, Inits: inits, Body: body}, nil
}

func analyzeIf(l ast.List, path string, inTail bool) (core.Node, error) {
	if len(l.Items) < 3 || len(l.Items) > 4 {
		return nil, errAt(path, "if takes a condition, a then branch, and an optional else branch")
	}
	cond, err := analyze(l.Items[1], path+"/if.cond", false)
	if err != nil {
		return nil, err
	}
	then, err := analyze(l.Items[2], path+"/if.then", inTail)
	if err != nil {
		return nil, err
	}
	var elseNode core.Node
	if len(l.Items) == 4 {
		elseNode, err = analyze(l.Items[3], path+"/if.else", inTail)
		if err != nil {
			return nil, err
		}
	}
	return core.If{Cond: cond, Then: then, Else: elseNode}, nil
}

// analyzeWhen rewrites `(when c a b)` into `(if c (do a b))`.
func analyzeWhen(l ast.List, path string, inTail bool) (core.Node, error) {
	if len(l.Items) < 2 {
		return nil, errAt(path, "when requires a condition")
	}
	cond, err := analyze(l.Items[1], path+"/when.cond", false)
	if err != nil {
		return nil, err
	}
	body, err := analyzeAll(l.Items[2:], path+"/when.body", inTail)
	if err != nil {
		return nil, err
	}
	return core.If{Cond: cond, Then: core.Do{Body: body}}, nil
}

// analyzeIfLet rewrites `(if-let [x e] then else)` into a let binding a
// temporary then branching on its truthiness.
func analyzeIfLet(l ast.List, path string, inTail bool) (core.Node, error) {
	if len(l.Items) < 3 || len(l.Items) > 4 {
		return nil, errAt(path, "if-let takes a single binding, a then branch, and an optional else branch")
	}
	vec, ok := l.Items[1].(ast.Vec)
	if !ok || len(vec.Items) != 2 {
		return nil, errAt(path, "if-let requires a single [name expr] binding")
	}
	sym, ok := vec.Items[0].(ast.Sym)
	if !ok {
		return nil, errAt(path, "if-let binding name must be a symbol")
	}
	init, err := analyze(vec.Items[1], path+"/if-let.init", false)
	if err != nil {
		return nil, err
	}
	then, err := analyze(l.Items[2], path+"/if-let.then", inTail)
	if err != nil {
		return nil, err
	}
	var elseNode core.Node
	if len(l.Items) == 4 {
		elseNode, err = analyze(l.Items[3], path+"/if-let.else", inTail)
		if err != nil {
			return nil, err
		}
	}
	ifNode := core.If{Cond: core.VarRef{Name: sym.Name}, Then: then, Else: elseNode}
	return core.Let{Names: []string{sym.Name}, Inits: []core.Node{init}, Body: []core.Node{ifNode}}, nil
}

// analyzeCond rewrites `(cond c1 r1 c2 r2 ... :else rd)` into nested ifs.
func analyzeCond(l ast.List, path string, inTail bool) (core.Node, error) {
	clauses := l.Items[1:]
	if len(clauses)%2 != 0 {
		return nil, errAt(path, "cond requires an even number of test/result forms")
	}
	var build func(i int) (core.Node, error)
	build = func(i int) (core.Node, error) {
		if i >= len(clauses) {
			return core.Literal{Value: nil}, nil
		}
		testNode := clauses[i]
		if kw, ok := testNode.(ast.Sym); ok && kw.Name == "else" {
			return analyze(clauses[i+1], fmt.Sprintf("%s/cond.%d", path, i), inTail)
		}
		cond, err := analyze(testNode, fmt.Sprintf("%s/cond.%d.test", path, i), false)
		if err != nil {
			return nil, err
		}
		then, err := analyze(clauses[i+1], fmt.Sprintf("%s/cond.%d.result", path, i), inTail)
		if err != nil {
			return nil, err
		}
		rest, err := build(i + 2)
		if err != nil {
			return nil, err
		}
		return core.If{Cond: cond, Then: then, Else: rest}, nil
	}
	return build(0)
}

func analyzeLoop(l ast.List, path string) (core.Node, error) {
	if len(l.Items) < 2 {
		return nil, errAt(path, "loop requires a binding vector")
	}
	vec, ok := l.Items[1].(ast.Vec)
	if !ok || len(vec.Items)%2 != 0 {
		return nil, errAt(path, "loop requires an even-length binding vector")
	}
	var names []string
	var inits []core.Node
	for i := 0; i < len(vec.Items); i += 2 {
		sym, ok := vec.Items[i].(ast.Sym)
		if !ok {
			return nil, errAt(path, "loop bindings must bind plain symbols")
		}
		init, err := analyze(vec.Items[i+1], fmt.Sprintf("%s/loop.%d", path, i), false)
		if err != nil {
			return nil, err
		}
		names = append(names, sym.Name)
		inits = append(inits, init)
	}
	body, err := analyzeAll(l.Items[2:], path+"/loop.body", true)
	if err != nil {
		return nil, err
	}
	return core.Loop{Names: names, Inits: inits, Body: body}, nil
}

func analyzeWhere(l ast.List, path string) (core.Node, error) {
	if len(l.Items) != 4 {
		return nil, errAt(path, "where takes (where field op value)")
	}
	field, err := analyze(l.Items[1], path+"/where.field", false)
	if err != nil {
		return nil, err
	}
	opSym, ok := l.Items[2].(ast.Sym)
	if !ok {
		return nil, errAt(path, "where operator must be a symbol (= not= > < >= <= in includes)")
	}
	switch opSym.Name {
	case "=", "not=", ">", "<", ">=", "<=", "in", "includes":
	default:
		return nil, errAt(path, "unknown where operator %q", opSym.Name)
	}
	val, err := analyze(l.Items[3], path+"/where.value", false)
	if err != nil {
		return nil, err
	}
	return core.Where{Field: field, Op: opSym.Name, Value: val}, nil
}

// analyzeThreadFirst desugars `(-> x f (g a))` into `(g (f x) a)`.
func analyzeThreadFirst(items []ast.Node, path string) (core.Node, error) {
	if len(items) == 0 {
		return nil, errAt(path, "-> requires at least one expression")
	}
	cur := items[0]
	for i, step := range items[1:] {
		cur = threadInto(cur, step, true, fmt.Sprintf("%s/->.%d", path, i))
	}
	return analyze(cur, path, false)
}

// analyzeThreadLast desugars `(->> x f (g a))` into `(g a (f x))`.
func analyzeThreadLast(items []ast.Node, path string) (core.Node, error) {
	if len(items) == 0 {
		return nil, errAt(path, "->> requires at least one expression")
	}
	cur := items[0]
	for i, step := range items[1:] {
		cur = threadInto(cur, step, false, fmt.Sprintf("%s/->>.%d", path, i))
	}
	return analyze(cur, path, false)
}

func threadInto(cur, step ast.Node, first bool, path string) ast.Node {
	if l, ok := step.(ast.List); ok {
		items := append([]ast.Node(nil), l.Items...)
		if first {
			items = append([]ast.Node{items[0], cur}, items[1:]...)
		} else {
			items = append(items, cur)
		}
		return ast.List{Items: items}
	}
	return ast.List{Items: []ast.Node{step, cur}}
}
