package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestToGenaiSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"name"},
	}
	s := toGenaiSchema(schema)
	require.Equal(t, genai.Type("object"), s.Type)
	require.Equal(t, []string{"name"}, s.Required)
	require.Equal(t, genai.Type("string"), s.Properties["name"].Type)
	require.Equal(t, genai.Type("array"), s.Properties["tags"].Type)
	require.Equal(t, genai.Type("string"), s.Properties["tags"].Items.Type)
}

func TestToGenaiSchemaNil(t *testing.T) {
	require.Nil(t, toGenaiSchema(nil))
}

func TestGeminiBuildContentsMapsRoles(t *testing.T) {
	p := &geminiProvider{cfg: &ProviderConfig{Model: "gemini-2.0-flash"}}
	contents := p.buildContents(Request{Messages: []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "tool", Content: "result", ToolCallID: "call_1"},
	}})
	require.Len(t, contents, 3)
	require.Equal(t, "user", contents[0].Role)
	require.Equal(t, "model", contents[1].Role)
	require.Equal(t, "user", contents[2].Role)
}

func TestParseGeminiResponseNoCandidates(t *testing.T) {
	res, err := parseGeminiResponse(&genai.GenerateContentResponse{})
	require.NoError(t, err)
	require.False(t, res.OK)
}

func TestParseGeminiResponseTextAndToolCalls(t *testing.T) {
	genResp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking", Thought: true},
				{Text: "the answer"},
				{FunctionCall: &genai.FunctionCall{ID: "call_1", Name: "lookup", Args: map[string]any{"q": "x"}}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5},
	}
	res, err := parseGeminiResponse(genResp)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "the answer", res.Content)
	require.Len(t, res.ToolCalls, 1)
	require.Equal(t, "lookup", res.ToolCalls[0].Name)
	require.Equal(t, 10, res.Tokens.Input)
	require.Equal(t, 5, res.Tokens.Output)
}
