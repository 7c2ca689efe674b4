// Package subagent is the root of the subagent runtime: a multi-turn
// agent scheduler that lets an LLM drive tasks through a Clojure-flavored
// DSL (see Run in this package for the Loop itself, package signature
// for the DSL's type grammar, and package config for the YAML layer that
// wires agents, LLMs, and workflows together).
//
// # Quick Start
//
// Build the CLI:
//
//	go install github.com/subagentrun/subagent/cmd/subagent@latest
//
// Declare an agent in YAML:
//
//	llms:
//	  main:
//	    type: openai
//	    model: gpt-4o-mini
//	    api_key: ${OPENAI_API_KEY}
//
//	agents:
//	  researcher:
//	    name: researcher
//	    llm: main
//	    prompt: "research {{topic}}"
//	    signature: "(topic :string) -> :string"
//
// Run it:
//
//	subagent run --config agents.yaml --agent researcher --input '{"topic":"rust"}'
//
// # Using as a Go Library
//
//	import (
//	    "github.com/subagentrun/subagent"
//	    "github.com/subagentrun/subagent/config"
//	)
//
// # Architecture
//
// A config.Config decodes a YAML document into a registry of LLM
// providers, subagent.Agent definitions, and team.Workflow DAGs. Each
// Agent runs through subagent.Run, a fixed Reason -> Act -> Observe loop
// that evaluates the DSL against the agent's declared Tools and
// Signature and stops when the LLM returns a final value or the run's
// turn/tool/depth budgets are exhausted.
package subagent
