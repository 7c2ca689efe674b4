// Package subagent implements the SubAgent Loop: the
// scheduler that drives one Agent through a bounded sequence of LLM
// round-trips, each one a full Parse → Analyze → Evaluate pass over
// the model's DSL program. An Agent pairs a mission prompt with a tool
// registry and a bounded iteration budget split across both a turn
// count and a retry count, rather than a single max-iterations knob.
package subagent

import (
	"time"

	"github.com/subagentrun/subagent/llm"
	"github.com/subagentrun/subagent/render"
	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/tool"
)

// OutputMode selects how an Agent's turns are driven.
type OutputMode string

const (
	OutputDSL  OutputMode = "dsl"
	OutputJSON OutputMode = "json"
	OutputText OutputMode = "text"
)

// ToolBinding is one entry of an Agent's tool registry: exactly one of Handler, Agent, or Self is set.
type ToolBinding struct {
	Handler     tool.Handler
	Agent       *Agent
	Self        bool
	Signature   *signature.Signature
	Description string
	Cache       bool
	CatalogOnly bool
}

// Agent is the immutable configuration the Loop runs.
type Agent struct {
	Name      string
	Prompt    string
	Signature *signature.Signature

	Tools       map[string]ToolBinding
	ToolCatalog map[string]ToolBinding

	OutputMode OutputMode

	MaxTurns     int
	RetryTurns   int
	TurnBudget   int // 0 = unset/unlimited at this level; Run's opts.TurnBudget governs cross-agent sharing
	MaxDepth     int
	MaxToolCalls int // 0 = unbounded

	Timeout     time.Duration
	PMapTimeout time.Duration

	LLM         any // llm.Provider, or a string symbol resolved via RunOptions.LLMRegistry
	LLMRegistry map[string]llm.Provider

	Compression render.Strategy

	FieldDescriptions map[string]string

	Journaling bool
	GrepTools  bool
	LLMQuery   bool

	Trace           TraceMode
	CollectMessages bool

	LLMRetry llm.RetryPolicy
}

// TraceMode selects whether Turn records are retained on the Step.
type TraceMode int

const (
	TraceOff TraceMode = iota
	TraceOn
	TraceOnError
)

func (a *Agent) setDefaults() {
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
	if a.OutputMode == "" {
		a.OutputMode = OutputDSL
	}
	if a.Compression == nil {
		a.Compression = render.SingleUserCoalesced{}
	}
	if a.LLMRetry.MaxAttempts == 0 {
		a.LLMRetry = llm.DefaultRetryPolicy()
	}
}

// ValidatePlaceholders checks the Agent invariant that every `{{var}}`
// placeholder in Prompt must appear in Signature's inputs when a
// signature is declared.
func (a *Agent) ValidatePlaceholders() error {
	if a.Signature == nil {
		return nil
	}
	known := map[string]bool{}
	for _, p := range a.Signature.Params {
		known[p.Name] = true
	}
	for _, name := range placeholderNames(a.Prompt) {
		if !known[name] {
			return &ConfigError{Reason: "placeholder_missing", Message: "prompt references {{" + name + "}} but signature declares no such input"}
		}
	}
	return nil
}

// ConfigError is the Agent/RunOptions construction-time error family.
type ConfigError struct {
	Reason  string
	Message string
}

func (e *ConfigError) Error() string { return e.Reason + ": " + e.Message }
