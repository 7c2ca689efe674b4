package eval

import (
	"context"
	"time"

	"github.com/subagentrun/subagent/value"
)

// ToolExecutor is the seam the evaluator uses to invoke `(tool/name
// args)` forms. The tool package's
// Dispatcher implements this; kept as an interface here so eval has no
// import-time dependency on tool (which itself may recurse back into a
// SubAgent that uses eval).
type ToolExecutor interface {
	Dispatch(ctx context.Context, name string, args *value.Map) (any, error)
}

// ToolCallRecord is one entry of EvalContext.ToolCalls, surfaced in
// Turn records and telemetry.
type ToolCallRecord struct {
	Name       string
	Args       *value.Map
	Result     any
	Err        error
	DurationMS int64
	CacheHit   bool
}

// Budget mirrors `(budget/remaining)`'s projection.
type Budget struct {
	TurnsLeft      int
	RetryTurnsLeft int
	DepthLeft      int
}

func (b Budget) ToMap() *value.Map {
	if b == (Budget{}) {
		return value.NewMap()
	}
	return value.NewMap(
		value.Keyword("turns_left"), int64(b.TurnsLeft),
		value.Keyword("retry_turns_left"), int64(b.RetryTurnsLeft),
		value.Keyword("depth_left"), int64(b.DepthLeft),
	)
}

// EvalContext is the per-evaluation mutable bookkeeping threaded through
// one program's Eval call: turn_history, prints,
// tool_calls, tool_cache, journal, pmap_timeout, loop_limit, budget.
// It is owned exclusively by one Loop instance.
type EvalContext struct {
	Go context.Context

	Data     *value.Map // read-only ctx/data
	Memory   map[string]any // user namespace, mutated by def/defonce
	Tool     ToolExecutor
	Journal  map[string]any // task cache

	TurnHistory []any // *1, *2, *3 — most recent turn results, newest first
	Prints      []string
	ToolCalls   []ToolCallRecord
	ToolCache   map[string]any

	PMapTimeout time.Duration
	LoopLimit   int
	Budget      Budget

	Depth    int
	MaxDepth int

	MaxToolCalls int // 0 = unbounded
}

// NewEvalContext builds a fresh EvalContext for one turn's evaluation.
func NewEvalContext(goCtx context.Context, data *value.Map, tool ToolExecutor) *EvalContext {
	if data == nil {
		data = value.NewMap()
	}
	return &EvalContext{
		Go:        goCtx,
		Data:      data,
		Memory:    map[string]any{},
		Tool:      tool,
		Journal:   map[string]any{},
		ToolCache: map[string]any{},
		LoopLimit: 10000,
	}
}

// Print appends a println line.
func (ec *EvalContext) Print(s string) { ec.Prints = append(ec.Prints, s) }

// PushToolCall records one dispatched tool invocation.
func (ec *EvalContext) PushToolCall(rec ToolCallRecord) { ec.ToolCalls = append(ec.ToolCalls, rec) }

// RecordTurnResult prepends a turn's final value for *1/*2/*3 lookups.
func (ec *EvalContext) RecordTurnResult(v any) {
	ec.TurnHistory = append([]any{v}, ec.TurnHistory...)
	if len(ec.TurnHistory) > 3 {
		ec.TurnHistory = ec.TurnHistory[:3]
	}
}

// Snapshot returns an immutable-enough copy suitable for capture inside
// a closure or for re-attaching inside a parallel worker.
func (ec *EvalContext) Snapshot() *EvalContext {
	cp := *ec
	cp.TurnHistory = append([]any(nil), ec.TurnHistory...)
	return &cp
}
