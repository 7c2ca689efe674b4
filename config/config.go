// Package config provides configuration types and utilities for the subagent runtime.
// This file contains the main unified configuration entry point.
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/subagentrun/subagent"
	"github.com/subagentrun/subagent/internal/httpclient"
	"github.com/subagentrun/subagent/llm"
	"github.com/subagentrun/subagent/render"
	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/team"
)

// ============================================================================
// MAIN UNIFIED CONFIGURATION
// ============================================================================

// Config represents the complete configuration for a subagent runtime
// process: the LLM backends it can talk to, the Agents it can run,
// and the Workflows it can fan those agents out through. Similar to
// docker-compose.yml, this is the single entry point for all
// configuration.
type Config struct {
	Version     string            `yaml:"version,omitempty"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`

	Global GlobalSettings `yaml:"global,omitempty"`

	LLMs map[string]LLMProviderConfig `yaml:"llms,omitempty"`

	Agents    map[string]AgentConfig    `yaml:"agents,omitempty"`
	Workflows map[string]WorkflowConfig `yaml:"workflows,omitempty"`
}

// SetDefaults fills in every unset field with its runtime default, the
// same two-pass SetDefaults-then-Validate convention every section
// below applies.
func (c *Config) SetDefaults() {
	c.Global.Logging.SetDefaults()
	c.Global.Performance.SetDefaults()
	c.Global.Telemetry.SetDefaults()

	for name, l := range c.LLMs {
		l.SetDefaults()
		c.LLMs[name] = l
	}
	for name, a := range c.Agents {
		a.SetDefaults()
		c.Agents[name] = a
	}
	for name, w := range c.Workflows {
		w.SetDefaults()
		c.Workflows[name] = w
	}
}

// Validate checks the whole configuration tree, including the
// cross-references between Agents/Workflows/LLMs that no single
// section's own Validate can see.
func (c *Config) Validate() error {
	if err := c.Global.Logging.Validate(); err != nil {
		return fmt.Errorf("global settings validation failed: %w", err)
	}
	if err := c.Global.Performance.Validate(); err != nil {
		return fmt.Errorf("global settings validation failed: %w", err)
	}

	for name, l := range c.LLMs {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("llm %q validation failed: %w", name, err)
		}
	}

	for name, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agent %q validation failed: %w", name, err)
		}
		if _, ok := c.LLMs[a.LLM]; !ok {
			return fmt.Errorf("agent %q references undefined llm %q", name, a.LLM)
		}
		for toolName, ref := range a.Tools {
			if ref.Agent != "" {
				if _, ok := c.Agents[ref.Agent]; !ok {
					return fmt.Errorf("agent %q tool %q references undefined agent %q", name, toolName, ref.Agent)
				}
			}
		}
	}

	for name, w := range c.Workflows {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("workflow %q validation failed: %w", name, err)
		}
		for _, s := range w.Steps {
			if _, ok := c.Agents[s.Agent]; !ok {
				return fmt.Errorf("workflow %q step %q references undefined agent %q", name, s.Name, s.Agent)
			}
		}
	}

	return nil
}

// ============================================================================
// CONFIGURATION LOADING
// ============================================================================

// LoadConfig loads the complete configuration from a YAML file: parse,
// expand ${VAR} references against the process environment, decode
// into Config, apply defaults, then validate. This is the main entry
// point for configuration loading.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromString loads configuration from a YAML string, the
// same pipeline as LoadConfig minus the file read.
func LoadConfigFromString(yamlContent string) (*Config, error) {
	cfg, err := decode([]byte(yamlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to load config from string: %w", err)
	}
	return cfg, nil
}

// decode runs the shared YAML-bytes-to-validated-Config pipeline:
// unmarshal to a generic map, expand environment variable references,
// decode into Config via mapstructure (weakly typed so YAML durations
// like "30s" land in time.Duration fields), apply defaults, validate.
func decode(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	expanded, _ := ExpandEnvVarsInData(raw).(map[string]any)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(expanded); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ============================================================================
// HELPER METHODS
// ============================================================================

// GetAgent returns an agent configuration by name.
func (c *Config) GetAgent(name string) (*AgentConfig, bool) {
	a, ok := c.Agents[name]
	return &a, ok
}

// GetWorkflow returns a workflow configuration by name.
func (c *Config) GetWorkflow(name string) (*WorkflowConfig, bool) {
	w, ok := c.Workflows[name]
	return &w, ok
}

// ListAgents returns the configured agent names.
func (c *Config) ListAgents() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	return names
}

// ListWorkflows returns the configured workflow names.
func (c *Config) ListWorkflows() []string {
	names := make([]string, 0, len(c.Workflows))
	for name := range c.Workflows {
		names = append(names, name)
	}
	return names
}

// ============================================================================
// BUILDING RUNTIME VALUES
// ============================================================================

// BuildLLMRegistry constructs a live llm.Registry from every LLMs
// entry, instantiating the OpenAI, Anthropic, or Gemini adapter each
// names.
func (c *Config) BuildLLMRegistry() (*llm.Registry, error) {
	reg := llm.NewRegistry()
	for name, lc := range c.LLMs {
		provider, err := buildLLMProvider(lc)
		if err != nil {
			return nil, fmt.Errorf("llm %q: %w", name, err)
		}
		if err := reg.RegisterLLM(name, provider); err != nil {
			return nil, fmt.Errorf("llm %q: %w", name, err)
		}
	}
	return reg, nil
}

func buildLLMProvider(lc LLMProviderConfig) (llm.Provider, error) {
	pc := llm.ProviderConfig{
		Type:        lc.Type,
		Model:       lc.Model,
		APIKey:      lc.APIKey,
		Host:        lc.Host,
		Temperature: lc.Temperature,
		MaxTokens:   lc.MaxTokens,
		Timeout:     lc.Timeout,
		Retry: llm.RetryPolicy{
			MaxAttempts: lc.Retry.MaxAttempts,
			Backoff:     backoffKind(lc.Retry.Backoff),
			BaseDelay:   lc.Retry.BaseDelay,
		},
	}
	if lc.TLS != nil {
		pc.TLS = &httpclient.TLSConfig{
			InsecureSkipVerify: lc.TLS.InsecureSkipVerify,
			CACertificate:      lc.TLS.CACertificate,
		}
	}
	switch lc.Type {
	case "anthropic":
		return llm.NewAnthropic(pc)
	case "openai":
		return llm.NewOpenAI(pc)
	case "gemini":
		// genai.NewClient takes a context purely for its own transport
		// setup, not for any request this provider will make later.
		return llm.NewGemini(context.Background(), pc)
	default:
		return nil, fmt.Errorf("unknown llm type %q", lc.Type)
	}
}

func backoffKind(s string) llm.Backoff {
	switch s {
	case "constant":
		return llm.BackoffConstant
	case "linear":
		return llm.BackoffLinear
	default:
		return llm.BackoffExponential
	}
}

// BuildAgents resolves every AgentConfig against the rest of Config —
// nested/self tool references against sibling agents — producing the
// subagent.Agent tree the Loop runs. Each agent's LLM field is left as
// the bare symbol named in YAML; RunOptions.LLMRegistry (built by
// BuildLLMRegistry) resolves it at Run time, not here. Agent-to-agent
// tool references are resolved lazily through the returned map so
// mutually nested agents can refer to one another.
func (c *Config) BuildAgents() (map[string]*subagent.Agent, error) {
	agents := make(map[string]*subagent.Agent, len(c.Agents))
	for name, ac := range c.Agents {
		agent, err := buildAgentSkeleton(ac)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", name, err)
		}
		agents[name] = agent
	}
	for name, ac := range c.Agents {
		agent := agents[name]
		if err := wireTools(agent.Tools, ac.Tools, agents); err != nil {
			return nil, fmt.Errorf("agent %q: %w", name, err)
		}
		if err := wireTools(agent.ToolCatalog, ac.ToolCatalog, agents); err != nil {
			return nil, fmt.Errorf("agent %q: %w", name, err)
		}
	}
	return agents, nil
}

func buildAgentSkeleton(ac AgentConfig) (*subagent.Agent, error) {
	var sig *signature.Signature
	if ac.Signature != "" {
		parsed, err := signature.Parse(ac.Signature)
		if err != nil {
			return nil, fmt.Errorf("signature: %w", err)
		}
		sig = parsed
	}

	agent := &subagent.Agent{
		Name:              ac.Name,
		Prompt:            ac.Prompt,
		Signature:         sig,
		LLM:               ac.LLM,
		Tools:             make(map[string]subagent.ToolBinding, len(ac.Tools)),
		ToolCatalog:       make(map[string]subagent.ToolBinding, len(ac.ToolCatalog)),
		OutputMode:        subagent.OutputMode(ac.OutputMode),
		MaxTurns:          ac.MaxTurns,
		RetryTurns:        ac.RetryTurns,
		TurnBudget:        ac.TurnBudget,
		MaxDepth:          ac.MaxDepth,
		MaxToolCalls:      ac.MaxToolCalls,
		Timeout:           ac.Timeout,
		PMapTimeout:       ac.PMapTimeout,
		FieldDescriptions: ac.FieldDescriptions,
		Journaling:        ac.Journaling,
		GrepTools:         ac.GrepTools,
		LLMQuery:          ac.LLMQuery,
		Trace:             traceMode(ac.Trace),
		CollectMessages:   ac.CollectMessages,
	}

	switch ac.Compression.Strategy {
	case "windowed":
		agent.Compression = render.Windowed{Window: ac.Compression.Window}
	default:
		agent.Compression = render.SingleUserCoalesced{}
	}

	return agent, nil
}

func traceMode(s string) subagent.TraceMode {
	switch s {
	case "on":
		return subagent.TraceOn
	case "on_error":
		return subagent.TraceOnError
	default:
		return subagent.TraceOff
	}
}

func wireTools(dst map[string]subagent.ToolBinding, src map[string]ToolRefConfig, agents map[string]*subagent.Agent) error {
	for name, ref := range src {
		binding := subagent.ToolBinding{
			Description: ref.Description,
			Cache:       ref.Cache,
			CatalogOnly: ref.CatalogOnly,
		}
		switch {
		case ref.Self:
			binding.Self = true
		case ref.Agent != "":
			nested, ok := agents[ref.Agent]
			if !ok {
				return fmt.Errorf("tool %q references undefined agent %q", name, ref.Agent)
			}
			binding.Agent = nested
		}
		dst[name] = binding
	}
	return nil
}

// BuildWorkflow resolves a WorkflowConfig into a team.Workflow of live
// *subagent.Agent steps, looking each step's agent name up in agents
// (as built by BuildAgents).
func (c *Config) BuildWorkflow(name string, agents map[string]*subagent.Agent) (*team.Workflow, error) {
	wc, ok := c.Workflows[name]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", name)
	}
	wf := &team.Workflow{
		Name:           wc.Name,
		Description:    wc.Description,
		MaxConcurrency: wc.MaxConcurrency,
		Steps:          make([]team.Step, 0, len(wc.Steps)),
	}
	for _, sc := range wc.Steps {
		agent, ok := agents[sc.Agent]
		if !ok {
			return nil, fmt.Errorf("workflow %q step %q references undefined agent %q", name, sc.Name, sc.Agent)
		}
		wf.Steps = append(wf.Steps, team.Step{
			Name:      sc.Name,
			Agent:     agent,
			DependsOn: sc.DependsOn,
		})
	}
	return wf, nil
}
