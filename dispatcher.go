package subagent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/subagentrun/subagent/llm"
	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/step"
	"github.com/subagentrun/subagent/telemetry"
	"github.com/subagentrun/subagent/tool"
	"github.com/subagentrun/subagent/value"
)

// buildDispatcher constructs a per-run tool.Dispatcher from agent's
// Tools/ToolCatalog, closing nested-Agent and `:self` bindings over
// Run itself. memory, when non-nil, reads back the calling DSL mode's
// live memory at `:self` call time so closures can be inherited into
// the recursive call; text/JSON mode pass nil since they have no DSL
// memory to inherit from.
func buildDispatcher(agent *Agent, opts RunOptions, bus *telemetry.Bus, memory func() map[string]any) *tool.Dispatcher {
	d := tool.New(bus)

	register := func(name string, binding ToolBinding) {
		desc := tool.Descriptor{
			Name:        name,
			Description: binding.Description,
			Signature:   binding.Signature,
			Cache:       binding.Cache,
			CatalogOnly: binding.CatalogOnly,
		}
		switch {
		case binding.Handler != nil:
			desc.Handler = binding.Handler
		case binding.Self:
			desc.Handler = selfHandler(agent, opts, memory)
		case binding.Agent != nil:
			desc.Handler = nestedAgentHandler(binding.Agent, opts)
		default:
			desc.Handler = func(ctx context.Context, args *value.Map) (any, error) {
				return nil, fmt.Errorf("tool %q has no handler, agent, or self binding", name)
			}
		}
		d.Register(desc)
	}

	for name, binding := range agent.Tools {
		register(name, binding)
	}
	for name, binding := range agent.ToolCatalog {
		binding.CatalogOnly = true
		register(name, binding)
	}

	if agent.GrepTools {
		registerGrepTools(d)
	}
	if agent.LLMQuery {
		registerLLMQueryTool(d, agent, opts)
	}

	return d
}

// selfHandler lets the running Agent recurse into its own Prompt/
// Signature with fresh inputs, sharing this run's turn_budget pool,
// incrementing trace depth, and inheriting closure-valued memory
// bindings (def/defn results, excluding _-prefixed names) from the
// parent's current memory into the child's starting environment.
func selfHandler(agent *Agent, opts RunOptions, memory func() map[string]any) tool.Handler {
	return func(ctx context.Context, args *value.Map) (any, error) {
		childOpts := opts
		childOpts.Context = args
		childOpts.TraceContext = opts.TraceContext.child()
		if memory != nil {
			childOpts.MemorySeed = closureBindings(memory())
		}
		return stepToToolResult(Run(ctx, agent, childOpts))
	}
}

// closureBindings filters memory down to the closure-valued entries a
// :self recursion should inherit, skipping _-prefixed names (the DSL's
// convention for bindings private to the defining turn).
func closureBindings(memory map[string]any) map[string]any {
	var seed map[string]any
	for name, v := range memory {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if _, ok := v.(*value.Closure); !ok {
			continue
		}
		if seed == nil {
			seed = map[string]any{}
		}
		seed[name] = v
	}
	return seed
}

// nestedAgentHandler wires a distinct Agent in as a callable tool,
// inheriting llm_registry and the shared turn_budget pool by default
// unless the child Agent names its own LLM.
func nestedAgentHandler(child *Agent, opts RunOptions) tool.Handler {
	return func(ctx context.Context, args *value.Map) (any, error) {
		childOpts := RunOptions{
			Context:      args,
			LLMRegistry:  opts.LLMRegistry,
			TraceContext: opts.TraceContext.child(),
			TurnBudget:   opts.TurnBudget,
			Bus:          opts.Bus,
		}
		return stepToToolResult(Run(ctx, child, childOpts))
	}
}

// stepToToolResult projects a nested run's Step down to the plain
// value a calling program's `(tool/...)` expression receives: the
// return value on success, or on failure an error whose text is
// "chained_failure: <reason>: <message>" from the child's Fail.
func stepToToolResult(s *step.Step) (any, error) {
	if s.Ok() {
		return s.Return, nil
	}
	return nil, fmt.Errorf("chained_failure: %s: %s", s.Fail.Reason, s.Fail.Message)
}

// registerGrepTools auto-registers `grep`/`grep-n`: Go-regexp line
// search over a caller-supplied text blob, the same regexp +
// line-numbering approach a filesystem grep tool would use, adapted to
// operate over a DSL string value instead of the filesystem, letting a
// program sift large tool results or data/ fields without pulling the
// whole value into a (where ...) clause.
func registerGrepTools(d *tool.Dispatcher) {
	textArgSig := &signature.Signature{
		Params: []signature.Param{
			{Name: "text", Type: &signature.Type{Kind: signature.KString}},
			{Name: "pattern", Type: &signature.Type{Kind: signature.KString}},
		},
	}

	grepSig := *textArgSig
	grepSig.Return = &signature.Type{Kind: signature.KList, Elem: &signature.Type{Kind: signature.KString}}
	d.Register(tool.Descriptor{
		Name:        "grep",
		Description: "return every line of text matching the regex pattern",
		Signature:   &grepSig,
		Handler: func(ctx context.Context, args *value.Map) (any, error) {
			text, pattern := grepArgs(args)
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("grep: invalid pattern: %w", err)
			}
			var matches []any
			for _, line := range strings.Split(text, "\n") {
				if re.MatchString(line) {
					matches = append(matches, line)
				}
			}
			return value.NewVector(matches...), nil
		},
	})

	grepNSig := *textArgSig
	grepNSig.Return = &signature.Type{Kind: signature.KList, Elem: &signature.Type{Kind: signature.KMap, Fields: []signature.Field{
		{Name: "line", Type: &signature.Type{Kind: signature.KInt}},
		{Name: "text", Type: &signature.Type{Kind: signature.KString}},
	}}}
	d.Register(tool.Descriptor{
		Name:        "grep-n",
		Description: "return {:line :text} for every line of text matching the regex pattern",
		Signature:   &grepNSig,
		Handler: func(ctx context.Context, args *value.Map) (any, error) {
			text, pattern := grepArgs(args)
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("grep-n: invalid pattern: %w", err)
			}
			var matches []any
			for i, line := range strings.Split(text, "\n") {
				if re.MatchString(line) {
					matches = append(matches, value.NewMap(value.Keyword("line"), int64(i+1), value.Keyword("text"), line))
				}
			}
			return value.NewVector(matches...), nil
		},
	})
}

func grepArgs(args *value.Map) (text, pattern string) {
	t, _ := args.Get(value.Keyword("text"))
	p, _ := args.Get(value.Keyword("pattern"))
	text, _ = t.(string)
	pattern, _ = p.(string)
	return text, pattern
}

func registerLLMQueryTool(d *tool.Dispatcher, agent *Agent, opts RunOptions) {
	d.Register(tool.Descriptor{
		Name:        "llm_query",
		Description: "ask the configured LLM a one-off question outside the DSL turn loop",
		Signature: &signature.Signature{
			Params: []signature.Param{{Name: "prompt", Type: &signature.Type{Kind: signature.KString}}},
			Return: &signature.Type{Kind: signature.KString},
		},
		Handler: func(ctx context.Context, args *value.Map) (any, error) {
			provider, err := resolveLLM(agent, opts)
			if err != nil {
				return nil, err
			}
			p, _ := args.Get(value.Keyword("prompt"))
			prompt, _ := p.(string)
			req := llm.Request{Messages: []llm.Message{{Role: "user", Content: prompt}}}
			res, err := provider.Generate(ctx, req)
			if err != nil {
				return nil, err
			}
			if !res.OK {
				return nil, fmt.Errorf("%s", res.Error)
			}
			return res.Content, nil
		},
	})
}

