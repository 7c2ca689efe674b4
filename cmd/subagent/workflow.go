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
	"github.com/subagentrun/subagent/team"
	"github.com/subagentrun/subagent/telemetry"
)

// WorkflowCmd runs a configured workflow DAG to completion and prints one
// JSON object keyed by step name: each step's Return, or an
// {"error": "reason: message"} entry for a failed step.
type WorkflowCmd struct {
	Workflow string `required:"" help:"Name of the workflow to run, as declared in the config's workflows: map."`
	Input    string `help:"JSON object of shared input context, e.g. '{\"topic\":\"rust\"}'." default:"{}"`
}

func (c *WorkflowCmd) Run(cli *CLI, logger hclog.Logger) error {
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
	wf, err := cfg.BuildWorkflow(c.Workflow, agents)
	if err != nil {
		return err
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

	results, err := team.Run(ctx, wf, inputMap, subagent.RunOptions{LLMRegistry: registry, Bus: bus})
	if err != nil {
		return err
	}

	out := make(map[string]any, len(results))
	failed := false
	for name, res := range results {
		if !res.Step.Ok() {
			failed = true
			out[name] = map[string]any{"error": fmt.Sprintf("%s: %s", res.Step.Fail.Reason, res.Step.Fail.Message)}
			continue
		}
		out[name] = toGoValue(res.Step.Return)
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	fmt.Println(string(encoded))

	if failed {
		return fmt.Errorf("workflow %q: one or more steps failed", c.Workflow)
	}
	return nil
}
