package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
)

// initLogger builds the process-wide hclog.Logger every subcommand
// writes through. level/format/file follow CLI-flag > env-var >
// default priority (env vars are already folded in by kong's `env:`
// struct tags on CLI before this runs).
func initLogger(level, format, file string) (hclog.Logger, func(), error) {
	var output *os.File = os.Stderr
	var cleanup func()
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		output = f
		cleanup = func() { f.Close() }
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "subagent",
		Level:      hclog.LevelFromString(level),
		Output:     output,
		JSONFormat: format == "json",
	})
	return logger, cleanup, nil
}
