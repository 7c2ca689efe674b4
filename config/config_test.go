package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromString(t *testing.T) {
	yamlContent := `
name: demo
llms:
  main:
    type: openai
    model: gpt-4o-mini
    api_key: sk-test
agents:
  researcher:
    name: researcher
    llm: main
    prompt: "research {{topic}}"
    signature: "(topic :string) -> :string"
`
	cfg, err := LoadConfigFromString(yamlContent)
	require.NoError(t, err)
	require.Contains(t, cfg.Agents, "researcher")
	assert.Equal(t, "main", cfg.Agents["researcher"].LLM)
	assert.Equal(t, "dsl", cfg.Agents["researcher"].OutputMode) // default applied
}

func TestLoadConfigFromString_UndefinedLLMReference(t *testing.T) {
	yamlContent := `
agents:
  researcher:
    name: researcher
    llm: missing
    prompt: "research {{topic}}"
`
	_, err := LoadConfigFromString(yamlContent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined llm")
}

func TestLoadConfigFromString_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-from-env")
	yamlContent := `
llms:
  main:
    type: anthropic
    model: claude-3-5-sonnet
    api_key: ${TEST_API_KEY}
agents:
  writer:
    name: writer
    llm: main
    prompt: "write"
`
	cfg, err := LoadConfigFromString(yamlContent)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.LLMs["main"].APIKey)
}

func TestConfig_Validate_WorkflowReferencesUndefinedAgent(t *testing.T) {
	cfg := &Config{
		LLMs: map[string]LLMProviderConfig{"main": {Type: "openai", Model: "gpt-4o-mini", APIKey: "k"}},
		Agents: map[string]AgentConfig{
			"a": {Name: "a", LLM: "main", Prompt: "p", OutputMode: "dsl", Trace: "off", Compression: CompressionConfig{Strategy: "single_user_coalesced"}},
		},
		Workflows: map[string]WorkflowConfig{
			"w": {Name: "w", Steps: []WorkflowStepConfig{{Name: "s1", Agent: "ghost"}}},
		},
	}
	cfg.SetDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined agent")
}

func TestAgentConfig_SetDefaults(t *testing.T) {
	a := AgentConfig{Name: "a", LLM: "main", Prompt: "p"}
	a.SetDefaults()
	assert.Equal(t, "dsl", a.OutputMode)
	assert.Equal(t, 1, a.MaxTurns)
	assert.Equal(t, 5, a.MaxDepth)
	assert.Equal(t, "single_user_coalesced", a.Compression.Strategy)
	assert.Equal(t, "off", a.Trace)
}

func TestBuildAgents_WiresNestedAgentTool(t *testing.T) {
	cfg := &Config{
		LLMs: map[string]LLMProviderConfig{"main": {Type: "openai", Model: "gpt-4o-mini", APIKey: "k"}},
		Agents: map[string]AgentConfig{
			"helper": {
				Name: "helper", LLM: "main", Prompt: "help", OutputMode: "dsl",
				Trace: "off", Compression: CompressionConfig{Strategy: "single_user_coalesced"},
			},
			"lead": {
				Name: "lead", LLM: "main", Prompt: "lead {{x}}", OutputMode: "dsl",
				Trace: "off", Compression: CompressionConfig{Strategy: "single_user_coalesced"},
				Tools: map[string]ToolRefConfig{"helper": {Agent: "helper", Description: "delegate"}},
			},
		},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	agents, err := cfg.BuildAgents()
	require.NoError(t, err)
	require.Contains(t, agents, "lead")
	binding, ok := agents["lead"].Tools["helper"]
	require.True(t, ok)
	assert.Same(t, agents["helper"], binding.Agent)
}

func TestBuildWorkflow(t *testing.T) {
	cfg := &Config{
		LLMs: map[string]LLMProviderConfig{"main": {Type: "openai", Model: "gpt-4o-mini", APIKey: "k"}},
		Agents: map[string]AgentConfig{
			"fetch":  {Name: "fetch", LLM: "main", Prompt: "fetch", OutputMode: "dsl", Trace: "off", Compression: CompressionConfig{Strategy: "single_user_coalesced"}},
			"report": {Name: "report", LLM: "main", Prompt: "report {{fetch}}", OutputMode: "dsl", Trace: "off", Compression: CompressionConfig{Strategy: "single_user_coalesced"}},
		},
		Workflows: map[string]WorkflowConfig{
			"pipeline": {
				Name: "pipeline",
				Steps: []WorkflowStepConfig{
					{Name: "fetch", Agent: "fetch"},
					{Name: "report", Agent: "report", DependsOn: []string{"fetch"}},
				},
			},
		},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	agents, err := cfg.BuildAgents()
	require.NoError(t, err)

	wf, err := cfg.BuildWorkflow("pipeline", agents)
	require.NoError(t, err)
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, "fetch", wf.Steps[0].Name)
	assert.Equal(t, []string{"fetch"}, wf.Steps[1].DependsOn)
}
