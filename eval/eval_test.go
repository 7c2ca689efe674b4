package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subagentrun/subagent/analyzer"
	"github.com/subagentrun/subagent/parser"
	"github.com/subagentrun/subagent/value"
)

// run parses, analyzes and evaluates src in a fresh EvalContext, the
// same pipeline a Loop turn drives end to end.
func run(t *testing.T, src string) any {
	t.Helper()
	n, err := parser.Parse(src)
	require.NoError(t, err, "parse %q", src)
	core, err := analyzer.Analyze(n)
	require.NoError(t, err, "analyze %q", src)
	ec := NewEvalContext(context.Background(), value.NewMap(), nil)
	v, err := ec.Eval(core, NewEnv())
	require.NoError(t, err, "eval %q", src)
	return v
}

func TestEvalArithmetic(t *testing.T) {
	require.EqualValues(t, 3, run(t, "(+ 1 2)"))
	require.EqualValues(t, 6, run(t, "(* 2 3)"))
	require.EqualValues(t, 1, run(t, "(- 3 2)"))
}

func TestEvalIf(t *testing.T) {
	require.EqualValues(t, "yes", run(t, `(if true "yes" "no")`))
	require.EqualValues(t, "no", run(t, `(if false "yes" "no")`))
	require.Nil(t, run(t, `(if false "yes")`))
}

func TestEvalLet(t *testing.T) {
	require.EqualValues(t, 5, run(t, "(let [x 2 y 3] (+ x y))"))
}

func TestEvalDefAndMemory(t *testing.T) {
	n, err := parser.Parse("(def x 10)")
	require.NoError(t, err)
	core, err := analyzer.Analyze(n)
	require.NoError(t, err)
	ec := NewEvalContext(context.Background(), value.NewMap(), nil)
	_, err = ec.Eval(core, NewEnv())
	require.NoError(t, err)
	require.Equal(t, int64(10), ec.Memory["x"])
}

func TestEvalUnboundVar(t *testing.T) {
	n, err := parser.Parse("undefined_name")
	require.NoError(t, err)
	core, err := analyzer.Analyze(n)
	require.NoError(t, err)
	ec := NewEvalContext(context.Background(), value.NewMap(), nil)
	_, err = ec.Eval(core, NewEnv())
	require.Error(t, err)
}

func TestEvalVectorAndMapLiterals(t *testing.T) {
	v := run(t, "[1 2 3]")
	vec, ok := v.(*value.Vector)
	require.True(t, ok, "got %T", v)
	require.Len(t, vec.Items, 3)

	m := run(t, "{:a 1 :b 2}")
	mv, ok := m.(*value.Map)
	require.True(t, ok, "got %T", m)
	got, ok := mv.Get(value.Keyword("a"))
	require.True(t, ok)
	require.EqualValues(t, 1, got)
}

func TestEvalCollectionBuiltins(t *testing.T) {
	require.EqualValues(t, 3, run(t, "(count [1 2 3])"))
	require.EqualValues(t, 1, run(t, "(first [1 2 3])"))
	require.EqualValues(t, 3, run(t, "(last [1 2 3])"))
	require.Equal(t, true, run(t, "(empty? [])"))
	require.Equal(t, false, run(t, "(empty? [1])"))
}

func TestEvalMapGetAssoc(t *testing.T) {
	require.EqualValues(t, 1, run(t, "(get {:a 1} :a)"))
	require.Nil(t, run(t, "(get {:a 1} :b)"))
	m := run(t, "(assoc {:a 1} :b 2)")
	mv, ok := m.(*value.Map)
	require.True(t, ok)
	v, present := mv.Get(value.Keyword("b"))
	require.True(t, present)
	require.EqualValues(t, 2, v)
}

func TestEvalTurnHistory(t *testing.T) {
	ec := NewEvalContext(context.Background(), value.NewMap(), nil)
	ec.RecordTurnResult("second")
	ec.RecordTurnResult("first")
	require.Equal(t, "first", historyAt(ec.TurnHistory, 0))
	require.Equal(t, "second", historyAt(ec.TurnHistory, 1))
	require.Nil(t, historyAt(ec.TurnHistory, 5))
}
