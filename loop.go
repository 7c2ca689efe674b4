package subagent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/subagentrun/subagent/analyzer"
	"github.com/subagentrun/subagent/eval"
	"github.com/subagentrun/subagent/llm"
	"github.com/subagentrun/subagent/parser"
	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/step"
	"github.com/subagentrun/subagent/telemetry"
	"github.com/subagentrun/subagent/value"
)

// TraceContext propagates span correlation and recursion depth across
// nested Agent runs.
type TraceContext struct {
	TraceID      string
	ParentSpanID string
	Depth        int
	TraceDir     string
}

func (tc TraceContext) child() TraceContext {
	return TraceContext{TraceID: tc.TraceID, Depth: tc.Depth + 1, TraceDir: tc.TraceDir}
}

// Child returns a child trace context one recursion level deeper,
// exported for orchestration layers outside this package (subagent/team)
// that fan a run out into independent subagent.Run calls.
func (tc TraceContext) Child() TraceContext { return tc.child() }

// RunOptions are the per-call inputs the Loop needs beyond the Agent's
// own configuration.
type RunOptions struct {
	LLM          llm.Provider
	Context      *value.Map
	LLMRegistry  *llm.Registry
	TraceContext TraceContext
	TurnBudget   *int // cross-agent shared pool; nil = unlimited
	Bus          *telemetry.Bus
	MemorySeed   map[string]any // closure-valued def/defn bindings inherited from a :self parent
}

// Run drives agent through the SubAgent Loop and returns its Step.
// Run never returns a Go error: every failure path is surfaced as
// Step.Fail, since a Step is the one immutable result type callers
// (including nested tool.Handler closures) pipe around.
func Run(ctx context.Context, agent *Agent, opts RunOptions) *step.Step {
	agent.setDefaults()
	if opts.Context == nil {
		opts.Context = value.NewMap()
	}
	if opts.TraceContext.TraceID == "" {
		opts.TraceContext.TraceID = uuid.NewString()
	}

	switch agent.OutputMode {
	case OutputJSON:
		return runJSONMode(ctx, agent, opts)
	case OutputText:
		return runTextMode(ctx, agent, opts)
	default:
		return runDSLMode(ctx, agent, opts)
	}
}

func runDSLMode(ctx context.Context, agent *Agent, opts RunOptions) *step.Step {
	if opts.TraceContext.Depth > agent.MaxDepth {
		return failStep("max_depth_exceeded", fmt.Sprintf("recursion depth %d exceeds max_depth %d", opts.TraceContext.Depth, agent.MaxDepth), nil, nil)
	}

	var bus *telemetry.Bus = opts.Bus
	runCtx := ctx
	var endRun func(err error, durationMS int64, extra map[string]any)
	if bus != nil {
		runCtx, endRun = bus.StartSpan(ctx, telemetry.RunStart, agentLabel(agent), map[string]any{"depth": opts.TraceContext.Depth})
	}

	ec := eval.NewEvalContext(runCtx, opts.Context, nil)
	dispatcher := buildDispatcher(agent, opts, bus, func() map[string]any { return ec.Memory })
	ec.Tool = dispatcher
	ec.Depth = opts.TraceContext.Depth
	ec.MaxDepth = agent.MaxDepth
	ec.PMapTimeout = agent.PMapTimeout
	for k, v := range opts.MemorySeed {
		ec.Memory[k] = v
	}

	// Collect turns unconditionally; TraceOff/TraceOnError trim the
	// final Step's Turns slice below once the outcome is known.
	builder := step.NewBuilder(true, agent.CollectMessages)

	provider, perr := resolveLLM(agent, opts)
	if perr != nil {
		if endRun != nil {
			endRun(perr, 0, nil)
		}
		return builder.Failure(&step.Fail{Reason: "llm_not_found", Message: perr.Error()}, copyMemory(ec.Memory))
	}

	workTurnsRemaining := agent.MaxTurns
	retryTurnsRemaining := agent.RetryTurns
	pendingRetry := false
	totalToolCalls := 0
	turnNumber := 0
	var turnsSoFar []step.Turn
	appendTurn := func(t step.Turn) {
		builder.AppendTurn(t)
		turnsSoFar = append(turnsSoFar, t)
	}

	var finalStep *step.Step
	for finalStep == nil {
		if opts.TurnBudget != nil {
			if *opts.TurnBudget <= 0 {
				finalStep = builder.Failure(&step.Fail{Reason: "turn_budget_exhausted", Message: "cross-agent turn budget exhausted"}, copyMemory(ec.Memory))
				break
			}
			*opts.TurnBudget--
		}

		var turnType step.TurnType
		switch {
		case pendingRetry && retryTurnsRemaining > 0:
			turnType = step.Retry
		case workTurnsRemaining > 1:
			turnType = step.Normal
		case workTurnsRemaining == 1:
			turnType = step.MustReturn
		default:
			reason := "budget_exhausted"
			if agent.RetryTurns == 0 {
				reason = "max_turns_exceeded"
			}
			finalStep = builder.Failure(&step.Fail{Reason: reason, Message: "turn budget exhausted with no terminal return"}, copyMemory(ec.Memory))
			continue
		}
		turnNumber++
		stripTools := turnType == step.MustReturn || turnType == step.Retry

		ec.Budget = eval.Budget{
			TurnsLeft:      workTurnsRemaining,
			RetryTurnsLeft: retryTurnsRemaining,
			DepthLeft:      agent.MaxDepth - opts.TraceContext.Depth,
		}

		req, err := buildDSLRequest(agent, ec, dispatcher, turnsSoFar, turnNumber, workTurnsRemaining, turnType, stripTools)
		if err != nil {
			finalStep = builder.Failure(&step.Fail{Reason: "invalid_signature", Message: err.Error()}, copyMemory(ec.Memory))
			continue
		}
		builder.AppendMessage("system", req.System)
		for _, m := range req.Messages {
			builder.AppendMessage(m.Role, m.Content)
		}

		var llmCtx = runCtx
		var endLLM func(err error, durationMS int64, extra map[string]any)
		if bus != nil {
			llmCtx, endLLM = bus.StartSpan(runCtx, telemetry.LLMStart, modelLabel(agent), map[string]any{"turn": turnNumber})
		}
		retrying := llm.Retrying{Provider: provider, Policy: agent.LLMRetry, OnAttempt: func(attempt int, res llm.Result, err error) {
			builder.RecordLLMRequest(res.Tokens.Input, res.Tokens.Output, res.Tokens.CacheCreation, res.Tokens.CacheRead)
		}}
		result, llmErr := retrying.Generate(llmCtx, req)
		if endLLM != nil {
			endLLM(llmErr, 0, nil)
		}
		if llmErr != nil {
			finalStep = builder.Failure(&step.Fail{Reason: "llm_error", Message: llmErr.Error()}, copyMemory(ec.Memory))
			continue
		}
		if !result.OK {
			finalStep = builder.Failure(&step.Fail{Reason: "llm_error", Message: result.Error}, copyMemory(ec.Memory))
			continue
		}
		builder.AppendMessage("assistant", result.Content)

		code := extractCode(result.Content)

		ec.Prints = nil
		ec.ToolCalls = nil
		if agent.MaxToolCalls > 0 {
			remaining := agent.MaxToolCalls - totalToolCalls
			if remaining < 0 {
				remaining = 0
			}
			ec.MaxToolCalls = remaining
		}

		var (
			turnResult  any
			turnRunErr  error
			retSignal   *eval.ReturnSignal
			failSignal  *eval.FailSignal
		)
		astNode, parseErr := parser.Parse(code)
		if parseErr != nil {
			turnRunErr = parseErr
		} else {
			coreNode, analyzeErr := analyzer.Analyze(astNode)
			if analyzeErr != nil {
				turnRunErr = analyzeErr
			} else {
				v, evalErr := ec.Eval(coreNode, eval.NewEnv())
				if evalErr != nil {
					switch sig := evalErr.(type) {
					case *eval.ReturnSignal:
						retSignal = sig
					case *eval.FailSignal:
						failSignal = sig
					default:
						turnRunErr = evalErr
					}
				} else {
					turnResult = v
				}
			}
		}

		totalToolCalls += len(ec.ToolCalls)
		turn := step.Turn{
			Number: turnNumber, Type: turnType, Program: code,
			Prints: append([]string(nil), ec.Prints...), ToolCalls: toStepToolCalls(ec.ToolCalls),
			Memory: copyMemory(ec.Memory),
		}

		if turnType == step.Retry {
			retryTurnsRemaining--
		} else {
			workTurnsRemaining--
		}

		switch {
		case failSignal != nil:
			turn.Success = false
			turn.Error = value.Print(failSignal.Value)
			appendTurn(turn)
			if bus != nil {
				bus.StartSpan(runCtx, telemetry.TurnStop, agentLabel(agent), map[string]any{"turn": turnNumber})
			}
			finalStep = builder.Failure(&step.Fail{Reason: "failed", Message: turn.Error, Details: failSignal.Value}, copyMemory(ec.Memory))

		case retSignal != nil:
			violations := validateReturn(agent.Signature, retSignal.Value)
			ec.RecordTurnResult(retSignal.Value)
			if len(violations) == 0 {
				turn.Success = true
				turn.Result = retSignal.Value
				appendTurn(turn)
				finalStep = builder.Success(retSignal.Value, copyMemory(ec.Memory))
			} else {
				turn.Success = false
				turn.Error = formatViolations(violations)
				appendTurn(turn)
				pendingRetry = true
			}

		case turnRunErr != nil:
			turn.Success = false
			turn.Error = turnRunErr.Error()
			appendTurn(turn)
			ec.RecordTurnResult(nil)
			pendingRetry = false

		default:
			violations := validateReturn(agent.Signature, turnResult)
			ec.RecordTurnResult(turnResult)
			if agent.Signature != nil && len(violations) == 0 {
				turn.Success = true
				turn.Result = turnResult
				appendTurn(turn)
				finalStep = builder.Success(turnResult, copyMemory(ec.Memory))
			} else {
				turn.Success = true
				turn.Result = turnResult
				appendTurn(turn)
				pendingRetry = false
			}
		}
	}

	if endRun != nil {
		var runErr error
		if !finalStep.Ok() {
			runErr = fmt.Errorf("%s: %s", finalStep.Fail.Reason, finalStep.Fail.Message)
		}
		endRun(runErr, finalStep.Usage.DurationMS, map[string]any{"return": value.Sample(finalStep.Return, 80, 3)})
	}
	switch {
	case agent.Trace == TraceOff:
		finalStep.Turns = nil
	case agent.Trace == TraceOnError && finalStep.Ok():
		finalStep.Turns = nil
	}
	return finalStep
}

var fenceRe = regexp.MustCompile("(?s)```(?:[a-zA-Z]*)\\n?(.*?)```")

// extractCode strips an optional fenced code block; any fence language or unfenced source is accepted.
func extractCode(content string) string {
	if m := fenceRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

func validateReturn(sig *signature.Signature, v any) []signature.Violation {
	if sig == nil || sig.Return == nil {
		return nil
	}
	return signature.Validate(sig.Return, v)
}

func formatViolations(viols []signature.Violation) string {
	var b strings.Builder
	b.WriteString("return value failed signature validation:\n")
	for _, v := range viols {
		fmt.Fprintf(&b, "- at %s: expected %s, got %s\n", orRoot(v.Path), v.Expected, v.Got)
	}
	return b.String()
}

func orRoot(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}

func copyMemory(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toStepToolCalls(records []eval.ToolCallRecord) []step.ToolCall {
	out := make([]step.ToolCall, len(records))
	for i, r := range records {
		args := map[string]any{}
		if r.Args != nil {
			r.Args.Each(func(k, v any) {
				args[fmt.Sprint(k)] = v
			})
		}
		errStr := ""
		if r.Err != nil {
			errStr = r.Err.Error()
		}
		out[i] = step.ToolCall{Name: r.Name, Args: args, Result: r.Result, Error: errStr, DurationMS: r.DurationMS, CacheHit: r.CacheHit}
	}
	return out
}

func resolveLLM(agent *Agent, opts RunOptions) (llm.Provider, error) {
	if opts.LLM != nil {
		return opts.LLM, nil
	}
	switch v := agent.LLM.(type) {
	case llm.Provider:
		return v, nil
	case string:
		if opts.LLMRegistry == nil {
			return nil, fmt.Errorf("llm_registry_required: agent.llm references %q but no llm_registry was supplied", v)
		}
		return opts.LLMRegistry.GetLLM(v)
	case nil:
		return nil, fmt.Errorf("llm_not_found: no llm provider configured for this agent")
	default:
		return nil, fmt.Errorf("llm_not_found: agent.llm must be a provider or a registry symbol, got %T", v)
	}
}

func agentLabel(agent *Agent) string {
	if agent.Name != "" {
		return agent.Name
	}
	return "agent"
}

func modelLabel(agent *Agent) string {
	if p, ok := agent.LLM.(string); ok {
		return p
	}
	return "llm"
}

func failStep(reason, message string, details any, memory map[string]any) *step.Step {
	b := step.NewBuilder(false, false)
	return b.Failure(&step.Fail{Reason: reason, Message: message, Details: details}, memory)
}

