package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/subagentrun/subagent/internal/httpclient"
)

// openAIProvider implements Provider against the OpenAI chat
// completions API: function-calling request/response shapes, mapped
// onto the package's single Request/Result contract instead of a
// streaming/non-streaming pair.
type openAIProvider struct {
	cfg    *ProviderConfig
	client *httpclient.Client
}

// NewOpenAI builds a Provider backed by the OpenAI API.
func NewOpenAI(cfg ProviderConfig) (Provider, error) {
	cfg.Type = "openai"
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts := []httpclient.Option{httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders)}
	if cfg.TLS != nil {
		opts = append(opts, httpclient.WithTLSConfig(cfg.TLS))
	}
	return &openAIProvider{cfg: &cfg, client: httpclient.New(opts...)}, nil
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	Tools          []openAITool    `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponse struct {
	Choices []openAIChoice  `json:"choices"`
	Usage   openAIUsage     `json:"usage"`
	Error   *openAIAPIError `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIAPIError struct {
	Message string `json:"message"`
}

func (p *openAIProvider) Generate(ctx context.Context, req Request) (Result, error) {
	body := p.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("openai: read response: %w", err)
	}

	var out openAIResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if out.Error != nil {
		return Result{OK: false, Error: out.Error.Message}, nil
	}
	if len(out.Choices) == 0 {
		return Result{OK: false, Error: "no response choices returned"}, nil
	}

	choice := out.Choices[0]
	var calls []ToolCall
	if len(choice.Message.ToolCalls) > 0 {
		calls, err = decodeOpenAIToolCalls(choice.Message.ToolCalls)
		if err != nil {
			return Result{OK: false, Error: err.Error()}, nil
		}
	}

	return Result{
		OK:      true,
		Content: choice.Message.Content,
		Tokens: Tokens{
			Input:  out.Usage.PromptTokens,
			Output: out.Usage.CompletionTokens,
		},
		ToolCalls: calls,
	}, nil
}

func (p *openAIProvider) buildRequest(req Request) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		om := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		if len(m.ToolCalls) > 0 {
			om.ToolCalls = make([]openAIToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				om.ToolCalls[i] = openAIToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openAIFunctionCall{
						Name:      tc.Name,
						Arguments: tc.RawArgs,
					},
				}
			}
		}
		messages = append(messages, om)
	}

	out := openAIRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}
	if strings.HasPrefix(p.cfg.Model, "o1-") || strings.HasPrefix(p.cfg.Model, "o3-") {
		out.MaxTokens = 0
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]openAITool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = openAITool{
				Type: "function",
				Function: openAIToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
		out.ToolChoice = "auto"
	}
	if req.Output == "json" {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out
}

func decodeOpenAIToolCalls(calls []openAIToolCall) ([]ToolCall, error) {
	result := make([]ToolCall, len(calls))
	for i, tc := range calls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("openai: decode tool arguments: %w", err)
		}
		result[i] = ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args, RawArgs: tc.Function.Arguments}
	}
	return result, nil
}
