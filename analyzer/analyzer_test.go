package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subagentrun/subagent/eval"
	"github.com/subagentrun/subagent/parser"
	"github.com/subagentrun/subagent/value"
)

// evalSrc parses, analyzes and evaluates src, the same pipeline a Loop
// turn drives end to end. It lives here (rather than in eval's own
// tests) to exercise analyzer-specific macro sugar.
func evalSrc(t *testing.T, src string) any {
	t.Helper()
	n, err := parser.Parse(src)
	require.NoError(t, err, "parse %q", src)
	c, err := Analyze(n)
	require.NoError(t, err, "analyze %q", src)
	ec := eval.NewEvalContext(context.Background(), value.NewMap(), nil)
	v, err := ec.Eval(c, eval.NewEnv())
	require.NoError(t, err, "eval %q", src)
	return v
}

func TestAnalyzeWhen(t *testing.T) {
	require.EqualValues(t, 1, evalSrc(t, "(when true 1)"))
	require.Nil(t, evalSrc(t, "(when false 1)"))
}

func TestAnalyzeCond(t *testing.T) {
	src := `(cond false "a" true "b" :else "c")`
	require.Equal(t, "b", evalSrc(t, src))
}

func TestAnalyzeCondFallsThroughToElse(t *testing.T) {
	src := `(cond false "a" false "b" :else "c")`
	require.Equal(t, "c", evalSrc(t, src))
}

func TestAnalyzeIfLet(t *testing.T) {
	require.EqualValues(t, 2, evalSrc(t, "(if-let [x 1] (+ x 1) 0)"))
	require.EqualValues(t, 0, evalSrc(t, "(if-let [x nil] (+ x 1) 0)"))
}

func TestAnalyzeAndOr(t *testing.T) {
	require.Equal(t, false, evalSrc(t, "(and true false)"))
	require.Equal(t, true, evalSrc(t, "(or false true)"))
}

func TestAnalyzeDo(t *testing.T) {
	require.EqualValues(t, 3, evalSrc(t, "(do 1 2 3)"))
}

func TestAnalyzeRecurOutsideTailRejected(t *testing.T) {
	n, err := parser.Parse("(recur 1)")
	require.NoError(t, err)
	_, err = Analyze(n)
	require.Error(t, err)
}

func TestAnalyzeUnknownNamespaceRejected(t *testing.T) {
	n, err := parser.Parse("(bogus/thing 1)")
	require.NoError(t, err)
	_, err = Analyze(n)
	require.Error(t, err)
}

func TestAnalyzeToolCallRequiresCall(t *testing.T) {
	n, err := parser.Parse("tool/search")
	require.NoError(t, err)
	_, err = Analyze(n)
	require.Error(t, err)
}
