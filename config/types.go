// Package config provides configuration types and utilities for the subagent runtime.
// This file contains all configuration types in a unified structure.
package config

import (
	"fmt"
	"time"
)

// ============================================================================
// LLM PROVIDER CONFIGURATION
// ============================================================================

// LLMProviderConfig configures one named LLM backend: the three
// adapters the llm package ships, openai, anthropic, and gemini.
type LLMProviderConfig struct {
	Type        string        `yaml:"type"` // "openai" | "anthropic" | "gemini"
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key,omitempty"`
	Host        string        `yaml:"host,omitempty"`
	Temperature float64       `yaml:"temperature,omitempty"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Retry       RetryConfig   `yaml:"retry,omitempty"`
	TLS         *TLSConfig    `yaml:"tls,omitempty"`
}

// TLSConfig mirrors httpclient.TLSConfig for a provider sitting behind
// a self-hosted gateway or corporate proxy.
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
	CACertificate      string `yaml:"ca_certificate,omitempty"`
}

// RetryConfig mirrors llm.RetryPolicy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	Backoff     string        `yaml:"backoff,omitempty"` // "constant" | "linear" | "exponential"
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = "exponential"
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	switch c.Type {
	case "anthropic":
		if c.Host == "" {
			c.Host = "https://api.anthropic.com"
		}
	case "openai":
		if c.Host == "" {
			c.Host = "https://api.openai.com/v1"
		}
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("llm provider: type must be 'openai', 'anthropic', or 'gemini', got %q", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("llm provider: model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm provider: api_key is required")
	}
	return nil
}

// ============================================================================
// TOOL BINDING CONFIGURATION
// ============================================================================

// ToolRefConfig is one entry of an agent's declared tool registry.
// Exactly one of Agent or Self names a config-expressible binding
// kind; handler-backed tools (e.g. the process's own Go functions)
// are wired in code, not YAML.
type ToolRefConfig struct {
	Agent       string `yaml:"agent,omitempty"` // name of another agent in this Config to nest
	Self        bool   `yaml:"self,omitempty"`
	Description string `yaml:"description,omitempty"`
	Cache       bool   `yaml:"cache,omitempty"`
	CatalogOnly bool   `yaml:"catalog_only,omitempty"`
}

func (t *ToolRefConfig) Validate(toolName string) error {
	if t.Agent != "" && t.Self {
		return fmt.Errorf("tool %q: agent and self are mutually exclusive", toolName)
	}
	if t.Agent == "" && !t.Self {
		return fmt.Errorf("tool %q: must set agent or self (handler-backed tools are wired in code)", toolName)
	}
	return nil
}

// ============================================================================
// AGENT CONFIGURATION
// ============================================================================

// AgentConfig is the YAML-declarable shape of a subagent.Agent.
// BuildAgents resolves the LLM/Tools name references against the
// rest of the Config to produce the runtime value the Loop actually
// executes.
type AgentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	LLM       string `yaml:"llm"`
	Prompt    string `yaml:"prompt"`
	Signature string `yaml:"signature,omitempty"` // parsed with signature.Parse, e.g. "(topic :string) -> :string"

	OutputMode string `yaml:"output_mode,omitempty"` // "dsl" | "json" | "text"

	Tools       map[string]ToolRefConfig `yaml:"tools,omitempty"`
	ToolCatalog map[string]ToolRefConfig `yaml:"tool_catalog,omitempty"`

	MaxTurns     int `yaml:"max_turns,omitempty"`
	RetryTurns   int `yaml:"retry_turns,omitempty"`
	TurnBudget   int `yaml:"turn_budget,omitempty"`
	MaxDepth     int `yaml:"max_depth,omitempty"`
	MaxToolCalls int `yaml:"max_tool_calls,omitempty"`

	Timeout     time.Duration `yaml:"timeout,omitempty"`
	PMapTimeout time.Duration `yaml:"pmap_timeout,omitempty"`

	Compression CompressionConfig `yaml:"compression,omitempty"`

	FieldDescriptions map[string]string `yaml:"field_descriptions,omitempty"`

	Journaling bool `yaml:"journaling,omitempty"`
	GrepTools  bool `yaml:"grep_tools,omitempty"`
	LLMQuery   bool `yaml:"llm_query,omitempty"`

	Trace           string `yaml:"trace,omitempty"` // "off" | "on" | "on_error"
	CollectMessages bool   `yaml:"collect_messages,omitempty"`
}

// CompressionConfig selects a render.Strategy.
type CompressionConfig struct {
	Strategy string `yaml:"strategy,omitempty"` // "single_user_coalesced" | "windowed"
	Window   int    `yaml:"window,omitempty"`   // only meaningful for "windowed"
}

func (a *AgentConfig) SetDefaults() {
	if a.OutputMode == "" {
		a.OutputMode = "dsl"
	}
	if a.MaxTurns == 0 {
		a.MaxTurns = 1
	}
	if a.MaxDepth == 0 {
		a.MaxDepth = 5
	}
	if a.Timeout == 0 {
		a.Timeout = 60 * time.Second
	}
	if a.PMapTimeout == 0 {
		a.PMapTimeout = 30 * time.Second
	}
	if a.Compression.Strategy == "" {
		a.Compression.Strategy = "single_user_coalesced"
	}
	if a.Trace == "" {
		a.Trace = "off"
	}
}

func (a *AgentConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent: name is required")
	}
	if a.LLM == "" {
		return fmt.Errorf("agent %q: llm is required", a.Name)
	}
	if a.Prompt == "" {
		return fmt.Errorf("agent %q: prompt is required", a.Name)
	}
	switch a.OutputMode {
	case "dsl", "json", "text":
	default:
		return fmt.Errorf("agent %q: output_mode must be 'dsl', 'json', or 'text', got %q", a.Name, a.OutputMode)
	}
	switch a.Trace {
	case "off", "on", "on_error":
	default:
		return fmt.Errorf("agent %q: trace must be 'off', 'on', or 'on_error', got %q", a.Name, a.Trace)
	}
	switch a.Compression.Strategy {
	case "single_user_coalesced", "windowed":
	default:
		return fmt.Errorf("agent %q: compression.strategy must be 'single_user_coalesced' or 'windowed', got %q", a.Name, a.Compression.Strategy)
	}
	for name, ref := range a.Tools {
		if err := ref.Validate(name); err != nil {
			return fmt.Errorf("agent %q: %w", a.Name, err)
		}
	}
	for name, ref := range a.ToolCatalog {
		if err := ref.Validate(name); err != nil {
			return fmt.Errorf("agent %q: %w", a.Name, err)
		}
	}
	return nil
}

// ============================================================================
// WORKFLOW CONFIGURATION
// ============================================================================

// WorkflowConfig is the YAML-declarable shape of a team.Workflow: a
// static DAG of named agent steps, wired by dependency name rather
// than by a shared tool registry.
type WorkflowConfig struct {
	Name           string               `yaml:"name"`
	Description    string               `yaml:"description,omitempty"`
	MaxConcurrency int                  `yaml:"max_concurrency,omitempty"`
	Steps          []WorkflowStepConfig `yaml:"steps"`
}

// WorkflowStepConfig is one DAG node: an agent name to run plus the
// names of steps whose return values it depends on.
type WorkflowStepConfig struct {
	Name      string   `yaml:"name"`
	Agent     string   `yaml:"agent"`
	DependsOn []string `yaml:"depends_on,omitempty"`
}

func (w *WorkflowConfig) SetDefaults() {}

func (w *WorkflowConfig) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow: name is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q: at least one step is required", w.Name)
	}
	seen := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow %q: every step needs a name", w.Name)
		}
		if s.Agent == "" {
			return fmt.Errorf("workflow %q: step %q must name an agent", w.Name, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("workflow %q: duplicate step name %q", w.Name, s.Name)
		}
		seen[s.Name] = true
	}
	for _, s := range w.Steps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("workflow %q: step %q depends on undefined step %q", w.Name, s.Name, dep)
			}
		}
	}
	return nil
}

// ============================================================================
// GLOBAL SETTINGS
// ============================================================================

// GlobalSettings holds cross-cutting settings not scoped to one agent
// or LLM provider.
type GlobalSettings struct {
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
	Performance PerformanceConfig `yaml:"performance,omitempty"`
	Telemetry   TelemetryConfig   `yaml:"telemetry,omitempty"`
}

// LoggingConfig holds logging settings. They are defaulted and
// validated with the rest of the Config; the CLI builds its hclog
// logger from its own --log-* flags and does not read these fields.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format,omitempty"` // "text" | "json"
	Output string `yaml:"output,omitempty"` // "stdout" | "stderr" | path
}

func (l *LoggingConfig) SetDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if l.Output == "" {
		l.Output = "stderr"
	}
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: invalid level %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging: invalid format %q", l.Format)
	}
	return nil
}

// PerformanceConfig holds process-wide concurrency and timeout
// settings. They are defaulted and validated with the rest of the
// Config; no runtime code reads them.
type PerformanceConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
}

func (p *PerformanceConfig) SetDefaults() {
	if p.MaxConcurrency == 0 {
		p.MaxConcurrency = 10
	}
	if p.Timeout == 0 {
		p.Timeout = 300 * time.Second
	}
}

func (p *PerformanceConfig) Validate() error {
	if p.MaxConcurrency < 0 {
		return fmt.Errorf("performance: max_concurrency cannot be negative")
	}
	return nil
}

// TelemetryConfig configures the telemetry.Bus's optional Prometheus
// exporter.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

func (t *TelemetryConfig) SetDefaults() {
	if t.MetricsAddr == "" {
		t.MetricsAddr = ":9090"
	}
}
