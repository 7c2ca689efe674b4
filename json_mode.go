package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/subagentrun/subagent/llm"
	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/step"
	"github.com/subagentrun/subagent/value"
)

// runJSONMode drives an Agent whose output_mode is json: no tools, no memory, no DSL — each turn is a single
// structured-JSON reply validated against the return signature, with
// corrective feedback on parse/validation failure, retried within
// max_turns.
func runJSONMode(ctx context.Context, agent *Agent, opts RunOptions) *step.Step {
	if opts.TraceContext.Depth > agent.MaxDepth {
		return failStep("max_depth_exceeded", fmt.Sprintf("recursion depth %d exceeds max_depth %d", opts.TraceContext.Depth, agent.MaxDepth), nil, nil)
	}

	provider, perr := resolveLLM(agent, opts)
	builder := step.NewBuilder(true, agent.CollectMessages)
	if perr != nil {
		return builder.Failure(&step.Fail{Reason: "llm_not_found", Message: perr.Error()}, map[string]any{})
	}

	var returnType *signature.Type
	if agent.Signature != nil {
		returnType = agent.Signature.Return
	}
	schema := map[string]any{}
	if returnType != nil {
		schema = returnType.JSONSchema()
	}

	system := fmt.Sprintf(
		"Return structured JSON matching this schema. Reply with the JSON value only, no prose.\nSchema: %s",
		mustMarshal(schema),
	)
	userBase := expandSimple(agent.Prompt, opts.Context) + "\n\n" + jsonDataInventory(opts.Context)

	var feedback string
	for turnNumber := 1; turnNumber <= agent.MaxTurns; turnNumber++ {
		content := userBase
		if feedback != "" {
			content += "\n\n" + feedback
		}
		req := llm.Request{
			System:   system,
			Messages: []llm.Message{{Role: "user", Content: content}},
			Turn:     turnNumber,
			Output:   "json",
			Schema:   schema,
		}
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

		raw := extractCode(result.Content)
		var parsed any
		if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
			turn := step.Turn{Number: turnNumber, Type: turnTypeFor(turnNumber, agent.MaxTurns), Program: raw, Success: false, Error: jsonErr.Error(), Memory: map[string]any{}}
			builder.AppendTurn(turn)
			feedback = fmt.Sprintf("Your previous reply was not valid JSON (%s). Schema: %s", jsonErr.Error(), mustMarshal(schema))
			continue
		}

		dslValue := jsonToValue(parsed, returnType)
		var violations []signature.Violation
		if returnType != nil {
			violations = signature.Validate(returnType, dslValue)
		}
		turn := step.Turn{Number: turnNumber, Type: turnTypeFor(turnNumber, agent.MaxTurns), Program: raw, Memory: map[string]any{}}
		if len(violations) > 0 {
			turn.Success = false
			turn.Error = formatViolations(violations)
			builder.AppendTurn(turn)
			feedback = fmt.Sprintf("Your JSON failed schema validation:\n%s\nSchema: %s", formatViolations(violations), mustMarshal(schema))
			continue
		}
		turn.Success = true
		turn.Result = dslValue
		builder.AppendTurn(turn)
		final := builder.Success(dslValue, map[string]any{})
		if agent.Trace == TraceOff || (agent.Trace == TraceOnError && final.Ok()) {
			final.Turns = nil
		}
		return final
	}

	final := builder.Failure(&step.Fail{Reason: "max_turns_exceeded", Message: "no valid JSON return within max_turns"}, map[string]any{})
	if agent.Trace == TraceOff {
		final.Turns = nil
	}
	return final
}

func turnTypeFor(turnNumber, maxTurns int) step.TurnType {
	if turnNumber == 1 {
		return step.Normal
	}
	return step.Retry
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// jsonDataInventory renders data/ as a JSON object literal.
func jsonDataInventory(data *value.Map) string {
	if data == nil || data.Len() == 0 {
		return ""
	}
	obj := map[string]any{}
	data.Each(func(k, v any) {
		obj[keyNameOf(k)] = valueToJSON(v)
	})
	return "Data: " + mustMarshal(obj)
}

func keyNameOf(k any) string {
	switch t := k.(type) {
	case value.Keyword:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// valueToJSON converts a DSL value to a plain JSON-marshalable value.
func valueToJSON(v any) any {
	switch x := v.(type) {
	case value.Keyword:
		return string(x)
	case *value.Vector:
		items := make([]any, len(x.Items))
		for i, it := range x.Items {
			items[i] = valueToJSON(it)
		}
		return items
	case *value.Map:
		obj := map[string]any{}
		x.Each(func(k, val any) { obj[keyNameOf(k)] = valueToJSON(val) })
		return obj
	case *value.Set:
		items := x.Items_()
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = valueToJSON(it)
		}
		return out
	default:
		return x
	}
}

// jsonToValue converts a decoded JSON value into DSL shapes, using t
// (when known) to disambiguate int-vs-float and string-vs-keyword,
// since encoding/json decodes every JSON number as float64.
func jsonToValue(v any, t *signature.Type) any {
	if v == nil {
		return nil
	}
	if t == nil {
		return jsonToValueUntyped(v)
	}
	switch t.Kind {
	case signature.KInt:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
		return v
	case signature.KFloat:
		if f, ok := v.(float64); ok {
			return f
		}
		return v
	case signature.KKeyword:
		if s, ok := v.(string); ok {
			return value.Keyword(s)
		}
		return v
	case signature.KList:
		arr, _ := v.([]any)
		items := make([]any, len(arr))
		for i, it := range arr {
			items[i] = jsonToValue(it, t.Elem)
		}
		return value.NewVector(items...)
	case signature.KMap:
		obj, _ := v.(map[string]any)
		fieldType := map[string]*signature.Type{}
		for _, f := range t.Fields {
			fieldType[f.Name] = f.Type
		}
		m := value.NewMap()
		for _, k := range sortedObjectKeys(obj) {
			m = m.Set(value.Keyword(k), jsonToValue(obj[k], fieldType[k]))
		}
		return m
	default:
		return jsonToValueUntyped(v)
	}
}

func jsonToValueUntyped(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := value.NewMap()
		for _, k := range sortedObjectKeys(x) {
			m = m.Set(value.Keyword(k), jsonToValueUntyped(x[k]))
		}
		return m
	case []any:
		items := make([]any, len(x))
		for i, it := range x {
			items[i] = jsonToValueUntyped(it)
		}
		return value.NewVector(items...)
	default:
		return x
	}
}

func sortedObjectKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
