package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/subagentrun/subagent"
	"github.com/subagentrun/subagent/config"
	"github.com/subagentrun/subagent/telemetry"
	"github.com/subagentrun/subagent/value"
)

// RunCmd runs one configured agent to completion and
// prints its Step.Return as JSON, or its Fail reason/message on failure.
type RunCmd struct {
	Agent string `required:"" help:"Name of the agent to run, as declared in the config's agents: map."`
	Input string `help:"JSON object of input context, e.g. '{\"topic\":\"rust\"}'." default:"{}"`
}

func (c *RunCmd) Run(cli *CLI, logger hclog.Logger) error {
	cfg, err := config.LoadConfig(cli.Config)
	if err != nil {
		return err
	}

	registry, err := cfg.BuildLLMRegistry()
	if err != nil {
		return err
	}
	agents, err := cfg.BuildAgents()
	if err != nil {
		return err
	}
	agent, ok := agents[c.Agent]
	if !ok {
		return fmt.Errorf("agent %q not found in config", c.Agent)
	}

	inputMap, err := decodeInputJSON(c.Input)
	if err != nil {
		return fmt.Errorf("--input: %w", err)
	}

	bus := telemetry.New()
	bus.Subscribe(telemetry.SinkFunc(logSink(logger)))
	defer bus.Shutdown(context.Background())

	if cfg.Global.Telemetry.Enabled {
		stopMetrics := serveMetrics(cfg.Global.Telemetry.MetricsAddr, bus, logger)
		defer stopMetrics(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result := subagent.Run(ctx, agent, subagent.RunOptions{
		Context: inputMap,
		LLMRegistry: registry,
		Bus:         bus,
	})

	if !result.Ok() {
		return fmt.Errorf("%s: %s", result.Fail.Reason, result.Fail.Message)
	}

	out, err := json.MarshalIndent(toGoValue(result.Return), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// decodeInputJSON parses a flat or nested JSON object into a *value.Map,
// the same map/slice/scalar walk json_mode.go's jsonToValueUntyped does
// for tool results, applied here to the CLI's own input context.
func decodeInputJSON(s string) (*value.Map, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	return jsonObjectToMap(raw), nil
}

func jsonObjectToMap(raw map[string]any) *value.Map {
	m := value.NewMap()
	for k, v := range raw {
		m = m.Set(value.Keyword(k), jsonAnyToValue(v))
	}
	return m
}

func jsonAnyToValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return jsonObjectToMap(t)
	case []any:
		items := make([]any, len(t))
		for i, e := range t {
			items[i] = jsonAnyToValue(e)
		}
		return value.NewVector(items...)
	default:
		return t
	}
}

// toGoValue converts a DSL return value back to plain Go data
// (map[string]any/[]any/scalars) for JSON output, the mirror image of
// jsonObjectToMap/jsonAnyToValue above.
func toGoValue(v any) any {
	switch t := v.(type) {
	case *value.Map:
		out := map[string]any{}
		t.Each(func(k, val any) { out[fmt.Sprint(k)] = toGoValue(val) })
		return out
	case *value.Vector:
		items := make([]any, len(t.Items))
		for i, it := range t.Items {
			items[i] = toGoValue(it)
		}
		return items
	case *value.Set:
		items := make([]any, 0, t.Len())
		for _, it := range t.Items_() {
			items = append(items, toGoValue(it))
		}
		return items
	case value.Keyword:
		return string(t)
	default:
		return t
	}
}

// logSink adapts the Telemetry Bus's Event stream to hclog lines: a
// simple chan telemetry.Event fan-out in place of a dedicated
// observability sink.
func logSink(logger hclog.Logger) func(telemetry.Event) {
	return func(e telemetry.Event) {
		fields := []any{"name", e.Name, "duration_ms", e.DurationMS}
		if e.Err != nil {
			fields = append(fields, "error", e.Err)
			logger.Error(string(e.Type), fields...)
			return
		}
		logger.Debug(string(e.Type), fields...)
	}
}
