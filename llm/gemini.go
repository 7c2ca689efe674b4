package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// geminiProvider implements Provider against Google's Gemini API via
// the official google.golang.org/genai SDK rather than a hand-rolled
// HTTP client: the SDK owns request signing, retryable transport
// errors, and the Content/Part wire shapes, so this adapter only maps
// Request/Result at the edges.
type geminiProvider struct {
	cfg    *ProviderConfig
	client *genai.Client
}

// NewGemini builds a Provider backed by the Gemini API.
func NewGemini(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	cfg.Type = "gemini"
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &geminiProvider{cfg: &cfg, client: client}, nil
}

func (p *geminiProvider) Generate(ctx context.Context, req Request) (Result, error) {
	contents := p.buildContents(req)
	config := p.buildConfig(req)

	genResp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, config)
	if err != nil {
		return Result{}, fmt.Errorf("gemini: generate: %w", err)
	}
	return parseGeminiResponse(genResp)
}

func (p *geminiProvider) buildContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "model"
		switch m.Role {
		case "user", "tool":
			role = "user"
		}
		var parts []*genai.Part
		if m.Content != "" {
			parts = append(parts, &genai.Part{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Args}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func (p *geminiProvider) buildConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.cfg.Temperature)),
		MaxOutputTokens: int32(p.cfg.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Output == "json" {
		config.ResponseMIMEType = "application/json"
		if req.Schema != nil {
			config.ResponseSchema = toGenaiSchema(req.Schema)
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

// toGenaiSchema projects the module's plain JSON-schema map (itself
// produced by signature.Type.JSONSchema, see the signature package)
// onto genai's own Schema struct, the same map shape the teacher's
// Gemini adapter converts from.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	return s
}

func parseGeminiResponse(genResp *genai.GenerateContentResponse) (Result, error) {
	if len(genResp.Candidates) == 0 {
		return Result{OK: false, Error: "no response candidates returned"}, nil
	}
	candidate := genResp.Candidates[0]

	var text string
	var calls []ToolCall
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				text += part.Text
			}
			if part.FunctionCall != nil {
				args := part.FunctionCall.Args
				raw, err := marshalArgs(args)
				if err != nil {
					return Result{OK: false, Error: err.Error()}, nil
				}
				calls = append(calls, ToolCall{ID: part.FunctionCall.ID, Name: part.FunctionCall.Name, Args: args, RawArgs: raw})
			}
		}
	}

	result := Result{OK: true, Content: text, ToolCalls: calls}
	if genResp.UsageMetadata != nil {
		result.Tokens = Tokens{
			Input:  int(genResp.UsageMetadata.PromptTokenCount),
			Output: int(genResp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

func marshalArgs(args map[string]any) (string, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal tool call arguments: %w", err)
	}
	return string(b), nil
}
