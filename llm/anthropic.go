package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/subagentrun/subagent/internal/httpclient"
)

// anthropicProvider implements Provider against the Anthropic Messages
// API: content-block response shape, a separate top-level system
// field, and tool_use blocks for tool calls.
type anthropicProvider struct {
	cfg    *ProviderConfig
	client *httpclient.Client
}

// NewAnthropic builds a Provider backed by the Anthropic API.
func NewAnthropic(cfg ProviderConfig) (Provider, error) {
	cfg.Type = "anthropic"
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts := []httpclient.Option{httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders)}
	if cfg.TLS != nil {
		opts = append(opts, httpclient.WithTLSConfig(cfg.TLS))
	}
	return &anthropicProvider{cfg: &cfg, client: httpclient.New(opts...)}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
	Error   *anthropicAPIError      `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type anthropicAPIError struct {
	Message string `json:"message"`
}

func (p *anthropicProvider) Generate(ctx context.Context, req Request) (Result, error) {
	body := p.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("anthropic: read response: %w", err)
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if out.Error != nil {
		return Result{OK: false, Error: out.Error.Message}, nil
	}

	var text string
	var calls []ToolCall
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			raw, _ := json.Marshal(block.Input)
			calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Args: block.Input, RawArgs: string(raw)})
		}
	}

	return Result{
		OK:      true,
		Content: text,
		Tokens: Tokens{
			Input:         out.Usage.InputTokens,
			Output:        out.Usage.OutputTokens,
			CacheCreation: out.Usage.CacheCreationInputTokens,
			CacheRead:     out.Usage.CacheReadInputTokens,
		},
		ToolCalls: calls,
	}, nil
}

func (p *anthropicProvider) buildRequest(req Request) anthropicRequest {
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue // folded into the top-level System field below
		}
		role := m.Role
		var content any = m.Content

		if m.ToolCallID != "" {
			role = "user"
			content = []anthropicContentBlock{{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}}
		} else if len(m.ToolCalls) > 0 {
			blocks := make([]anthropicContentBlock, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Args})
			}
			content = blocks
		}
		messages = append(messages, anthropicMessage{Role: role, Content: content})
	}

	out := anthropicRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		System:      req.System,
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]anthropicTool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters}
		}
	}
	return out
}
