package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/subagentrun/subagent/config"
)

// ValidateCmd loads a config file and reports whether it passes
// Config.Validate (already run inside config.LoadConfig's decode
// pipeline), without running any agent or workflow. With --watch it
// stays running and re-validates on every save, printing the outcome
// each time, until interrupted.
type ValidateCmd struct {
	Watch bool `help:"Keep watching the config file and re-validate on every change."`
}

func (c *ValidateCmd) Run(cli *CLI, logger hclog.Logger) error {
	if err := c.report(cli.Config); err != nil {
		if !c.Watch {
			return err
		}
		fmt.Println(err)
	}

	if !c.Watch {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return config.Watch(ctx, cli.Config, func(cfg *config.Config, err error) {
		if err != nil {
			fmt.Printf("config %q is invalid: %v\n", cli.Config, err)
			return
		}
		fmt.Printf("config %q reloaded: %d llm(s), %d agent(s), %d workflow(s)\n",
			cli.Config, len(cfg.LLMs), len(cfg.Agents), len(cfg.Workflows))
	})
}

func (c *ValidateCmd) report(path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fmt.Printf("config %q is valid: %d llm(s), %d agent(s), %d workflow(s)\n",
		path, len(cfg.LLMs), len(cfg.Agents), len(cfg.Workflows))
	return nil
}
