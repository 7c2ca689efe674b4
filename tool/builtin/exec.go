// Package builtin ships a ready-made catalog of DSL-dispatchable tools,
// gated behind explicit opt-in registration by the embedding program.
// Each tool here wraps one standalone file/shell operation into the
// tool.Handler shape.
package builtin

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/tool"
	"github.com/subagentrun/subagent/value"
)

// ExecConfig bounds what the exec tool will run via an allow-list of
// base commands.
type ExecConfig struct {
	AllowedCommands []string
	WorkingDirectory string
	MaxExecutionTime time.Duration
}

func (c *ExecConfig) setDefaults() {
	if len(c.AllowedCommands) == 0 {
		c.AllowedCommands = []string{
			"cat", "head", "tail", "ls", "find", "grep", "wc", "pwd",
			"git", "go", "echo", "date",
		}
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.MaxExecutionTime == 0 {
		c.MaxExecutionTime = 30 * time.Second
	}
}

// Exec builds the "exec" Descriptor: runs a shell command through
// sh -c, restricted to an allow-list of base commands.
func Exec(cfg *ExecConfig) tool.Descriptor {
	if cfg == nil {
		cfg = &ExecConfig{}
	}
	cfg.setDefaults()

	sig, err := signature.Parse("(command :string, working_dir :string?) -> :map")
	if err != nil {
		panic(err) // a fixed, hand-written signature; a parse failure here is a programming error
	}

	return tool.Descriptor{
		Name:        "exec",
		Description: "Execute a shell command for file operations, system tasks, and development workflows. Restricted to an allow-listed set of base commands.",
		Signature:   sig,
		Handler: func(ctx context.Context, args *value.Map) (any, error) {
			command, _ := args.Get(value.Keyword("command"))
			cmdStr, ok := command.(string)
			if !ok || cmdStr == "" {
				return nil, fmt.Errorf("command argument is required")
			}

			workDir := cfg.WorkingDirectory
			if wd, ok := args.Get(value.Keyword("working_dir")); ok {
				if s, ok := wd.(string); ok && s != "" {
					workDir = s
				}
			}

			base := extractBaseCommand(cmdStr)
			if !commandAllowed(cfg.AllowedCommands, base) {
				return nil, fmt.Errorf("command not allowed: %s", base)
			}

			runCtx, cancel := context.WithTimeout(ctx, cfg.MaxExecutionTime)
			defer cancel()

			start := time.Now()
			c := exec.CommandContext(runCtx, "sh", "-c", cmdStr)
			c.Dir = workDir
			output, runErr := c.CombinedOutput()

			result := value.NewMap(
				value.Keyword("output"), string(output),
				value.Keyword("success"), runErr == nil,
				value.Keyword("duration_ms"), int64(time.Since(start).Milliseconds()),
			)
			if runErr != nil {
				result.Set(value.Keyword("error"), runErr.Error())
				if exitErr, ok := runErr.(*exec.ExitError); ok {
					result.Set(value.Keyword("exit_code"), int64(exitErr.ExitCode()))
				}
			}
			return result, nil
		},
	}
}

func extractBaseCommand(command string) string {
	parts := strings.FieldsFunc(command, func(r rune) bool {
		return r == '|' || r == '>' || r == '<' || r == ';'
	})
	if len(parts) == 0 {
		return ""
	}
	firstCmd := strings.TrimSpace(parts[0])
	cmdParts := strings.Fields(firstCmd)
	if len(cmdParts) == 0 {
		return ""
	}
	return cmdParts[0]
}

func commandAllowed(allowed []string, command string) bool {
	for _, a := range allowed {
		if a == command {
			return true
		}
	}
	return false
}
