package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subagentrun/subagent"
	"github.com/subagentrun/subagent/step"
	"github.com/subagentrun/subagent/value"
)

func mkStep(name string, deps ...string) Step {
	return Step{Name: name, Agent: &subagent.Agent{Name: name}, DependsOn: deps}
}

func TestWorkflow_Validate(t *testing.T) {
	t.Run("empty workflow rejected", func(t *testing.T) {
		wf := &Workflow{Name: "w"}
		err := wf.Validate()
		require.Error(t, err)
		assert.Equal(t, "empty_workflow", err.(*ValidationError).Reason)
	})

	t.Run("duplicate step name rejected", func(t *testing.T) {
		wf := &Workflow{Name: "w", Steps: []Step{mkStep("a"), mkStep("a")}}
		err := wf.Validate()
		require.Error(t, err)
		assert.Equal(t, "duplicate_step", err.(*ValidationError).Reason)
	})

	t.Run("unknown dependency rejected", func(t *testing.T) {
		wf := &Workflow{Name: "w", Steps: []Step{mkStep("a", "ghost")}}
		err := wf.Validate()
		require.Error(t, err)
		assert.Equal(t, "unknown_dependency", err.(*ValidationError).Reason)
	})

	t.Run("cycle rejected", func(t *testing.T) {
		wf := &Workflow{Name: "w", Steps: []Step{mkStep("a", "b"), mkStep("b", "a")}}
		err := wf.Validate()
		require.Error(t, err)
		assert.Equal(t, "dependency_cycle", err.(*ValidationError).Reason)
	})

	t.Run("valid linear DAG accepted", func(t *testing.T) {
		wf := &Workflow{Name: "w", Steps: []Step{mkStep("a"), mkStep("b", "a"), mkStep("c", "b")}}
		assert.NoError(t, wf.Validate())
	})
}

func TestTopoLevels(t *testing.T) {
	steps := []Step{
		mkStep("fetch"),
		mkStep("parse", "fetch"),
		mkStep("lint", "fetch"),
		mkStep("report", "parse", "lint"),
	}
	levels, err := topoLevels(steps)
	require.NoError(t, err)
	require.Len(t, levels, 3)

	names := func(ss []Step) []string {
		out := make([]string, len(ss))
		for i, s := range ss {
			out[i] = s.Name
		}
		return out
	}
	assert.Equal(t, []string{"fetch"}, names(levels[0]))
	assert.ElementsMatch(t, []string{"parse", "lint"}, names(levels[1]))
	assert.Equal(t, []string{"report"}, names(levels[2]))
}

func TestMergeDependencyContext(t *testing.T) {
	input := value.NewMap(value.Keyword("topic"), "go")
	results := map[string]Result{
		"fetch": {StepName: "fetch", Step: &step.Step{Return: "fetched-data"}},
	}
	ctx := mergeDependencyContext(input, []string{"fetch"}, results)

	got, ok := ctx.Get(value.Keyword("fetch"))
	require.True(t, ok)
	assert.Equal(t, "fetched-data", got)

	_, stillThere := ctx.Get(value.Keyword("topic"))
	assert.True(t, stillThere)
}
