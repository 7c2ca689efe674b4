package eval

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/subagentrun/subagent/core"
	"github.com/subagentrun/subagent/value"
)

// parallelWeight bounds in-flight pmap/pcalls workers: capped at twice
// GOMAXPROCS, a standard heuristic for CPU-adjacent fan-out.
func parallelWeight() int64 {
	n := runtime.GOMAXPROCS(0) * 2
	if n < 2 {
		n = 2
	}
	return int64(n)
}

// forkWorker returns an isolated EvalContext for one pmap/pcalls
// worker: memory, prints, tool-call log and tool cache are all copied
// so a worker's def/tool-call bookkeeping never leaks back into the
// caller. The trace-bearing Go context is the explicit carrier
// propagated in, not ambient state.
func (ec *EvalContext) forkWorker(goCtx context.Context) *EvalContext {
	cp := ec.Snapshot()
	cp.Go = goCtx
	cp.Memory = cloneAnyMap(ec.Memory)
	cp.Journal = cloneAnyMap(ec.Journal)
	cp.ToolCache = cloneAnyMap(ec.ToolCache)
	cp.Prints = nil
	cp.ToolCalls = nil
	return cp
}

func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (ec *EvalContext) withPMapTimeout() (context.Context, context.CancelFunc) {
	if ec.PMapTimeout <= 0 {
		return ec.Go, func() {}
	}
	return context.WithTimeout(ec.Go, ec.PMapTimeout)
}

// evalPMap implements `(pmap fn coll)`: fn is applied to every element
// of coll concurrently, results returned in input order. A single
// worker failure aborts the remaining workers and surfaces pmap_error.
func (ec *EvalContext) evalPMap(n core.PMap, env *Env) (any, error) {
	fn, err := ec.Eval(n.Fn, env)
	if err != nil {
		return nil, err
	}
	collVal, err := ec.Eval(n.Coll, env)
	if err != nil {
		return nil, err
	}
	items, err := toSliceLocal(collVal)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &value.Vector{}, nil
	}

	ctx, cancel := ec.withPMapTimeout()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(parallelWeight())
	results := make([]any, len(items))

	for i, item := range items {
		i, item := i, item
		if err := sem.Acquire(gctx, 1); err != nil {
			break // gctx was cancelled by an earlier worker's failure; g.Wait() below reports it
		}
		g.Go(func() error {
			defer sem.Release(1)
			worker := ec.forkWorker(gctx)
			v, err := worker.Apply(fn, []any{item})
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, wrapParallelErr("pmap_error", err)
	}
	return &value.Vector{Items: results}, nil
}

// evalPCalls implements `(pcalls thunk1 thunk2 ...)`: each zero-arg
// thunk runs concurrently, results returned in declaration order.
func (ec *EvalContext) evalPCalls(n core.PCalls, env *Env) (any, error) {
	thunks := make([]any, len(n.Thunks))
	for i, t := range n.Thunks {
		v, err := ec.Eval(t, env)
		if err != nil {
			return nil, err
		}
		thunks[i] = v
	}
	if len(thunks) == 0 {
		return &value.Vector{}, nil
	}

	ctx, cancel := ec.withPMapTimeout()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(parallelWeight())
	results := make([]any, len(thunks))

	for i, thunk := range thunks {
		i, thunk := i, thunk
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			worker := ec.forkWorker(gctx)
			v, err := worker.Apply(thunk, nil)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, wrapParallelErr("pcalls_error", err)
	}
	return &value.Vector{Items: results}, nil
}

// wrapParallelErr reports a worker failure under fallbackReason
// (pmap_error or pcalls_error), keeping the worker's own error text,
// reason included, in the message; return/fail/recur/step-done signals
// pass through unchanged.
func wrapParallelErr(fallbackReason string, err error) error {
	switch err.(type) {
	case *ReturnSignal, *FailSignal, *RecurSignal, *StepDoneSignal:
		return err
	}
	return rtErr(fallbackReason, "%v", err)
}
