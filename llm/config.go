package llm

import (
	"fmt"
	"time"

	"github.com/subagentrun/subagent/internal/httpclient"
)

// ProviderConfig configures one OpenAI/Anthropic/Gemini adapter
// instance, kept independent of the runtime config package's
// YAML-facing LLMProviderConfig so llm stays free of a config-layer
// import.
type ProviderConfig struct {
	Type        string // "openai" | "anthropic" | "gemini"
	Model       string
	APIKey      string
	Host        string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retry       RetryPolicy
	TLS         *httpclient.TLSConfig // custom CA / skip-verify for a self-hosted gateway in front of Host
}

func (c *ProviderConfig) setDefaults() {
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
		c.Retry = DefaultRetryPolicy()
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

func (c *ProviderConfig) validate() error {
	if c.Model == "" {
		return fmt.Errorf("llm provider config: model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm provider config: api key is required")
	}
	return nil
}
