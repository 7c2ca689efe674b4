// Package team is a thin orchestration convenience layered on top of
// subagent.Run: a static DAG of named steps, each one subagent.Agent,
// wired together by dependency name rather than by a shared tool
// registry. It does not redefine the SubAgent Loop — every step is an
// independent Run call — it only sequences and fans out those calls
// and pipes each step's return value into its dependents' context,
// mirroring the original corpus's workflow DAG executor generalized
// from "fixed agent list" to "one subagent.Agent per step."
package team

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/subagentrun/subagent"
	"github.com/subagentrun/subagent/step"
	"github.com/subagentrun/subagent/value"
)

// Step is one DAG node: an Agent to run plus the names of steps whose
// return values it depends on. Its own Run context is the workflow's
// shared input merged with each dependency's return value, keyed by
// dependency name, since steps run as independent agents with no
// shared tool registry to pass data through.
type Step struct {
	Name      string
	Agent     *subagent.Agent
	DependsOn []string
}

// Workflow is a named, validated DAG of Steps.
type Workflow struct {
	Name           string
	Description    string
	Steps          []Step
	MaxConcurrency int // 0 means GOMAXPROCS*2, the same heuristic pmap/pcalls use
}

// Result is one step's outcome, keyed by step name in Run's return map.
type Result struct {
	StepName string
	Step     *step.Step
}

// ValidationError reports a malformed Workflow: an unknown dependency
// name, a duplicate step name, or a dependency cycle.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Message) }

// Validate checks step names are unique, every DependsOn entry names a
// real step, and the dependency graph has no cycle.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return &ValidationError{Reason: "empty_workflow", Message: "workflow has no steps"}
	}
	byName := make(map[string]Step, len(w.Steps))
	for _, s := range w.Steps {
		if s.Name == "" {
			return &ValidationError{Reason: "unnamed_step", Message: "every step needs a name"}
		}
		if _, dup := byName[s.Name]; dup {
			return &ValidationError{Reason: "duplicate_step", Message: "duplicate step name " + s.Name}
		}
		byName[s.Name] = s
	}
	for _, s := range w.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return &ValidationError{Reason: "unknown_dependency", Message: s.Name + " depends on undefined step " + dep}
			}
		}
	}
	if _, err := topoLevels(w.Steps); err != nil {
		return err
	}
	return nil
}

// topoLevels groups Steps into waves via Kahn's algorithm: every step
// in a wave depends only on steps in earlier waves, so a wave's steps
// may run concurrently.
func topoLevels(steps []Step) ([][]Step, error) {
	remaining := make(map[string]Step, len(steps))
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)
	for _, s := range steps {
		remaining[s.Name] = s
		indegree[s.Name] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	var levels [][]Step
	for len(remaining) > 0 {
		var ready []Step
		for name, s := range remaining {
			if indegree[name] == 0 {
				ready = append(ready, s)
			}
		}
		if len(ready) == 0 {
			return nil, &ValidationError{Reason: "dependency_cycle", Message: "workflow steps form a dependency cycle"}
		}
		for _, s := range ready {
			delete(remaining, s.Name)
			for _, next := range dependents[s.Name] {
				indegree[next]--
			}
		}
		levels = append(levels, ready)
	}
	return levels, nil
}

// Run executes a Workflow's DAG to completion: each wave of
// independent steps runs concurrently (bounded the same way
// eval's pmap/pcalls bound worker fan-out), a failed step aborts its
// unstarted dependents, and every step's Step.Return is folded into
// its dependents' context under its step name before they run.
func Run(ctx context.Context, wf *Workflow, input *value.Map, opts subagent.RunOptions) (map[string]Result, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	levels, err := topoLevels(wf.Steps)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = value.NewMap()
	}

	weight := int64(wf.MaxConcurrency)
	if weight <= 0 {
		weight = int64(runtime.GOMAXPROCS(0) * 2)
		if weight < 2 {
			weight = 2
		}
	}

	results := make(map[string]Result, len(wf.Steps))
	failed := false

	for _, wave := range levels {
		if failed {
			break
		}
		g, gctx := errgroup.WithContext(ctx)
		sem := semaphore.NewWeighted(weight)

		type outcome struct {
			name string
			res  Result
		}
		out := make(chan outcome, len(wave))

		for _, s := range wave {
			s := s
			stepInput := mergeDependencyContext(input, s.DependsOn, results)
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				stepOpts := opts
				stepOpts.Context = stepInput
				stepOpts.TraceContext = opts.TraceContext.Child()
				ran := subagent.Run(gctx, s.Agent, stepOpts)
				out <- outcome{name: s.Name, res: Result{StepName: s.Name, Step: ran}}
				if !ran.Ok() {
					return fmt.Errorf("step %s: %s: %s", s.Name, ran.Fail.Reason, ran.Fail.Message)
				}
				return nil
			})
		}
		waitErr := g.Wait()
		close(out)
		for o := range out {
			results[o.name] = o.res
		}
		if waitErr != nil {
			failed = true
		}
	}

	if failed {
		return results, fmt.Errorf("workflow %s: one or more steps failed", wf.Name)
	}
	return results, nil
}

// mergeDependencyContext folds the workflow's shared input with each
// named dependency's return value, keyed by dependency step name, so
// independently-run agents can pass data between steps.
func mergeDependencyContext(input *value.Map, dependsOn []string, results map[string]Result) *value.Map {
	ctx := input.Clone()
	for _, dep := range dependsOn {
		if r, ok := results[dep]; ok && r.Step.Ok() {
			ctx = ctx.Set(value.Keyword(dep), r.Step.Return)
		}
	}
	return ctx
}
