// Command subagent is the CLI for the subagent runtime.
//
// Usage:
//
//	subagent run --config config.yaml --agent researcher --input '{"topic":"rust"}'
//	subagent workflow --config config.yaml --workflow pipeline
//	subagent validate --config config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/subagentrun/subagent"
	"github.com/subagentrun/subagent/config"
)

// CLI defines the command-line interface: one struct field per
// subcommand, global flags below them.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run a single agent to completion."`
	Workflow WorkflowCmd `cmd:"" help:"Run a configured workflow DAG to completion."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path" env:"SUBAGENT_CONFIG"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"SUBAGENT_LOG_LEVEL"`
	LogFormat string `help:"Log format (text, json)." default:"text" env:"SUBAGENT_LOG_FORMAT"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"SUBAGENT_LOG_FILE"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(subagent.GetVersion())
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("subagent"),
		kong.Description("Run SubAgent Loop agents and workflows from a YAML config."),
		kong.UsageOnError(),
	)

	logger, cleanup, err := initLogger(cli.LogLevel, cli.LogFormat, cli.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli, logger)
	ctx.FatalIfErrorf(err)
}
