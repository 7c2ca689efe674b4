package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/subagentrun/subagent/llm"
	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/step"
	"github.com/subagentrun/subagent/value"
)

// mustacheNameRe extracts every {{...}} tag's sigil+name, used by
// ValidateTextPrompt and dot-scalar checking.
var mustacheNameRe = regexp.MustCompile(`\{\{([#^/]?)([a-zA-Z0-9_.]*|\.)\}\}`)

// ValidateTextPrompt enforces Text Mode's construction-time checks:
// every signature input appears somewhere in the
// prompt, every {{#section}} name that matches a signature field is a
// list, and `{{.}}` is only used directly inside a section whose
// element type is scalar.
func ValidateTextPrompt(prompt string, sig *signature.Signature) error {
	if sig == nil {
		return nil
	}
	fieldType := map[string]*signature.Type{}
	for _, p := range sig.Params {
		fieldType[p.Name] = p.Type
	}

	used := map[string]bool{}
	var sectionStack []string
	matches := mustacheNameRe.FindAllStringSubmatch(prompt, -1)
	for _, m := range matches {
		sigil, name := m[1], m[2]
		root := strings.SplitN(name, ".", 2)[0]
		switch sigil {
		case "#", "^":
			if t, ok := fieldType[root]; ok && sigil == "#" && t.Kind != signature.KList {
				return &ConfigError{Reason: "section_type_mismatch", Message: "{{#" + root + "}} requires a list-typed signature field, got " + t.String()}
			}
			used[root] = true
			sectionStack = append(sectionStack, root)
		case "/":
			if len(sectionStack) > 0 {
				sectionStack = sectionStack[:len(sectionStack)-1]
			}
		case "":
			if name == "." {
				if len(sectionStack) == 0 {
					return &ConfigError{Reason: "dot_outside_section", Message: "{{.}} used outside any {{#section}}"}
				}
				enclosing := sectionStack[len(sectionStack)-1]
				if t, ok := fieldType[enclosing]; ok && t.Kind == signature.KList && t.Elem != nil {
					switch t.Elem.Kind {
					case signature.KMap, signature.KList, signature.KFn:
						return &ConfigError{Reason: "dot_on_nonscalar", Message: "{{.}} requires a scalar element type inside {{#" + enclosing + "}}, got " + t.Elem.String()}
					}
				}
				continue
			}
			used[root] = true
		}
	}
	for _, p := range sig.Params {
		if !used[p.Name] {
			return &ConfigError{Reason: "placeholder_missing", Message: "prompt never references signature input " + p.Name}
		}
	}
	return nil
}

func runTextMode(ctx context.Context, agent *Agent, opts RunOptions) *step.Step {
	if opts.TraceContext.Depth > agent.MaxDepth {
		return failStep("max_depth_exceeded", fmt.Sprintf("recursion depth %d exceeds max_depth %d", opts.TraceContext.Depth, agent.MaxDepth), nil, nil)
	}
	if err := ValidateTextPrompt(agent.Prompt, agent.Signature); err != nil {
		return failStep("invalid_signature", err.Error(), nil, map[string]any{})
	}
	if len(agent.Tools) > 0 {
		return runTextToolCalling(ctx, agent, opts)
	}
	return runTextPlainJSON(ctx, agent, opts)
}

// runTextPlainJSON is Text Mode's no-tools sub-mode:
// a string return type yields the raw rendered reply; any other
// return type is parsed as JSON with corrective retry, mirroring
// runJSONMode's loop but over a fully Mustache-rendered prompt.
func runTextPlainJSON(ctx context.Context, agent *Agent, opts RunOptions) *step.Step {
	provider, perr := resolveLLM(agent, opts)
	builder := step.NewBuilder(true, agent.CollectMessages)
	if perr != nil {
		return builder.Failure(&step.Fail{Reason: "llm_not_found", Message: perr.Error()}, map[string]any{})
	}

	prompt := renderMustache(agent.Prompt, opts.Context)
	var returnType *signature.Type
	if agent.Signature != nil {
		returnType = agent.Signature.Return
	}
	plainString := returnType == nil || returnType.Kind == signature.KString

	system := "Respond to the following request."
	schema := map[string]any{}
	if !plainString {
		schema = returnType.JSONSchema()
		system = fmt.Sprintf("Respond with structured JSON matching this schema. Reply with the JSON value only.\nSchema: %s", mustMarshal(schema))
	}

	var feedback string
	maxTurns := agent.MaxTurns
	if plainString {
		maxTurns = 1
	}
	for turnNumber := 1; turnNumber <= maxTurns; turnNumber++ {
		content := prompt
		if feedback != "" {
			content += "\n\n" + feedback
		}
		req := llm.Request{System: system, Messages: []llm.Message{{Role: "user", Content: content}}, Turn: turnNumber, Output: outputLabel(plainString)}
		builder.AppendMessage("system", system)
		builder.AppendMessage("user", content)

		retrying := llm.Retrying{Provider: provider, Policy: agent.LLMRetry, OnAttempt: func(attempt int, res llm.Result, err error) {
			builder.RecordLLMRequest(res.Tokens.Input, res.Tokens.Output, res.Tokens.CacheCreation, res.Tokens.CacheRead)
		}}
		result, err := retrying.Generate(ctx, req)
		if err != nil {
			return builder.Failure(&step.Fail{Reason: "llm_error", Message: err.Error()}, map[string]any{})
		}
		if !result.OK {
			return builder.Failure(&step.Fail{Reason: "llm_error", Message: result.Error}, map[string]any{})
		}
		builder.AppendMessage("assistant", result.Content)

		if plainString {
			text := strings.TrimSpace(result.Content)
			builder.AppendTurn(step.Turn{Number: 1, Type: step.MustReturn, Program: "", Success: true, Result: text, Memory: map[string]any{}})
			return finalizeTrace(agent, builder.Success(text, map[string]any{}))
		}

		raw := extractCode(result.Content)
		var parsed any
		if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
			builder.AppendTurn(step.Turn{Number: turnNumber, Type: turnTypeFor(turnNumber, maxTurns), Program: raw, Success: false, Error: jsonErr.Error(), Memory: map[string]any{}})
			feedback = fmt.Sprintf("Your previous reply was not valid JSON (%s). Schema: %s", jsonErr.Error(), mustMarshal(schema))
			continue
		}
		dslValue := jsonToValue(parsed, returnType)
		violations := signature.Validate(returnType, dslValue)
		if len(violations) > 0 {
			builder.AppendTurn(step.Turn{Number: turnNumber, Type: turnTypeFor(turnNumber, maxTurns), Program: raw, Success: false, Error: formatViolations(violations), Memory: map[string]any{}})
			feedback = fmt.Sprintf("Your JSON failed schema validation:\n%s\nSchema: %s", formatViolations(violations), mustMarshal(schema))
			continue
		}
		builder.AppendTurn(step.Turn{Number: turnNumber, Type: turnTypeFor(turnNumber, maxTurns), Program: raw, Success: true, Result: dslValue, Memory: map[string]any{}})
		return finalizeTrace(agent, builder.Success(dslValue, map[string]any{}))
	}
	return finalizeTrace(agent, builder.Failure(&step.Fail{Reason: "max_turns_exceeded", Message: "no valid JSON return within max_turns"}, map[string]any{}))
}

// runTextToolCalling is Text Mode's tool-bearing sub-mode: the LLM's native function-calling API stands in for the DSL
// loop entirely — no Parse/Analyze/Eval pass, just tool_calls bounced
// through the Dispatcher until a final answer arrives.
func runTextToolCalling(ctx context.Context, agent *Agent, opts RunOptions) *step.Step {
	provider, perr := resolveLLM(agent, opts)
	builder := step.NewBuilder(true, agent.CollectMessages)
	if perr != nil {
		return builder.Failure(&step.Fail{Reason: "llm_not_found", Message: perr.Error()}, map[string]any{})
	}

	dispatcher := buildDispatcher(agent, opts, opts.Bus, nil)
	tools := make([]llm.ToolSchema, 0, len(dispatcher.Descriptors()))
	for _, d := range dispatcher.Descriptors() {
		if d.CatalogOnly {
			continue
		}
		params := map[string]any{"type": "object"}
		if d.Signature != nil {
			params = d.Signature.JSONSchema()
		}
		tools = append(tools, llm.ToolSchema{Name: d.Name, Description: d.Description, Parameters: params})
	}

	var returnType *signature.Type
	if agent.Signature != nil {
		returnType = agent.Signature.Return
	}
	plainString := returnType == nil || returnType.Kind == signature.KString

	system := "Respond to the request, using the available tools as needed."
	messages := []llm.Message{{Role: "user", Content: renderMustache(agent.Prompt, opts.Context)}}
	builder.AppendMessage("system", system)
	builder.AppendMessage("user", messages[0].Content)

	totalToolCalls := 0
	for turnNumber := 1; turnNumber <= agent.MaxTurns; turnNumber++ {
		req := llm.Request{System: system, Messages: messages, Turn: turnNumber, Tools: tools}
		retrying := llm.Retrying{Provider: provider, Policy: agent.LLMRetry, OnAttempt: func(attempt int, res llm.Result, err error) {
			builder.RecordLLMRequest(res.Tokens.Input, res.Tokens.Output, res.Tokens.CacheCreation, res.Tokens.CacheRead)
		}}
		result, err := retrying.Generate(ctx, req)
		if err != nil {
			return builder.Failure(&step.Fail{Reason: "llm_error", Message: err.Error()}, map[string]any{})
		}
		if !result.OK {
			return builder.Failure(&step.Fail{Reason: "llm_error", Message: result.Error}, map[string]any{})
		}

		if len(result.ToolCalls) == 0 {
			builder.AppendMessage("assistant", result.Content)
			return finalizeTrace(agent, finishTextAnswer(builder, turnNumber, result.Content, returnType, plainString))
		}

		if agent.MaxToolCalls > 0 && totalToolCalls+len(result.ToolCalls) > agent.MaxToolCalls {
			return finalizeTrace(agent, builder.Failure(&step.Fail{Reason: "tool_call_limit_exceeded", Message: "max_tool_calls exceeded"}, map[string]any{}))
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: result.Content, ToolCalls: result.ToolCalls})
		var calls []step.ToolCall
		for _, tc := range result.ToolCalls {
			argMap := value.NewMap()
			for k, v := range tc.Args {
				argMap = argMap.Set(value.Keyword(k), jsonToValueUntyped(v))
			}
			res, derr := dispatcher.Dispatch(ctx, tc.Name, argMap)
			errStr := ""
			if derr != nil {
				errStr = derr.Error()
			}
			calls = append(calls, step.ToolCall{Name: tc.Name, Args: tc.Args, Result: res, Error: errStr})
			content := errStr
			if derr == nil {
				content = mustMarshal(valueToJSON(res))
			}
			messages = append(messages, llm.Message{Role: "tool", Content: content, ToolCallID: tc.ID})
		}
		totalToolCalls += len(result.ToolCalls)
		builder.AppendTurn(step.Turn{Number: turnNumber, Type: step.Normal, Program: "", Success: true, ToolCalls: calls, Memory: map[string]any{}})
	}
	return finalizeTrace(agent, builder.Failure(&step.Fail{Reason: "max_turns_exceeded", Message: "no final answer within max_turns"}, map[string]any{}))
}

func finishTextAnswer(builder *step.Builder, turnNumber int, content string, returnType *signature.Type, plainString bool) *step.Step {
	if plainString {
		text := strings.TrimSpace(content)
		builder.AppendTurn(step.Turn{Number: turnNumber, Type: step.MustReturn, Success: true, Result: text, Memory: map[string]any{}})
		return builder.Success(text, map[string]any{})
	}
	raw := extractCode(content)
	var parsed any
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
		builder.AppendTurn(step.Turn{Number: turnNumber, Type: step.MustReturn, Success: false, Error: jsonErr.Error(), Memory: map[string]any{}})
		return builder.Failure(&step.Fail{Reason: "invalid_return", Message: jsonErr.Error()}, map[string]any{})
	}
	dslValue := jsonToValue(parsed, returnType)
	violations := signature.Validate(returnType, dslValue)
	if len(violations) > 0 {
		builder.AppendTurn(step.Turn{Number: turnNumber, Type: step.MustReturn, Success: false, Error: formatViolations(violations), Memory: map[string]any{}})
		return builder.Failure(&step.Fail{Reason: "invalid_return", Message: formatViolations(violations)}, map[string]any{})
	}
	builder.AppendTurn(step.Turn{Number: turnNumber, Type: step.MustReturn, Success: true, Result: dslValue, Memory: map[string]any{}})
	return builder.Success(dslValue, map[string]any{})
}

func outputLabel(plainString bool) string {
	if plainString {
		return "text"
	}
	return "json"
}

func finalizeTrace(agent *Agent, s *step.Step) *step.Step {
	if agent.Trace == TraceOff || (agent.Trace == TraceOnError && s.Ok()) {
		s.Turns = nil
	}
	return s
}
