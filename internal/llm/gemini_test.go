package llm

import (
	"testing"

	"google.golang.org/genai"
)

func TestConvertToGemini(t *testing.T) {
	system, contents := convertToGemini([]Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "Я работал в Acme"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "c1", Function: ToolFunction{Name: "create_list_item", Arguments: map[string]any{"list_name": "work_experience"}}},
			{ID: "c2", Function: ToolFunction{Name: "save_interview_insight"}},
		}},
		{Role: RoleTool, Name: "create_list_item", ToolCallID: "c1", Content: `{"kind":"success"}`},
		{Role: RoleTool, Name: "save_interview_insight", ToolCallID: "c2", Content: "plain text"},
	})

	if system != "sys" {
		t.Errorf("system = %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}
	if contents[1].Role != string(genai.RoleModel) || len(contents[1].Parts) != 2 {
		t.Errorf("model turn = %+v", contents[1])
	}

	responses := contents[2].Parts
	if len(responses) != 2 {
		t.Fatalf("function responses = %d, want 2 in one turn", len(responses))
	}
	if responses[0].FunctionResponse.Response["kind"] != "success" {
		t.Errorf("JSON result not decoded: %+v", responses[0].FunctionResponse.Response)
	}
	if responses[1].FunctionResponse.Response["output"] != "plain text" {
		t.Errorf("text result not wrapped: %+v", responses[1].FunctionResponse.Response)
	}
}

func TestBuildGeminiConfig(t *testing.T) {
	req := &Request{
		Model:       "gemini-2.5-flash",
		Messages:    []Message{{Role: RoleUser, Content: "x"}},
		Tools:       []map[string]any{{"type": "function", "function": map[string]any{"name": "update_resume_field"}}},
		ToolChoice:  ToolChoiceAny,
		Temperature: Temperature(0),
	}
	cfg := buildGeminiConfig(req, "sys")
	if cfg.SystemInstruction == nil {
		t.Error("system instruction missing")
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
	if len(cfg.Tools) != 1 || len(cfg.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools = %+v", cfg.Tools)
	}
	if cfg.ToolConfig.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeAny {
		t.Errorf("mode = %v, want ANY", cfg.ToolConfig.FunctionCallingConfig.Mode)
	}

	structured := buildGeminiConfig(&Request{ResponseSchema: map[string]any{"type": "object"}}, "")
	if structured.ResponseMIMEType != "application/json" || structured.ResponseJsonSchema == nil {
		t.Errorf("structured config = %+v", structured)
	}
}

func TestConvertFromGemini(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{
				{Text: "thinking", Thought: true},
				{Text: "Готово."},
				{FunctionCall: &genai.FunctionCall{Name: "update_resume_field", Args: map[string]any{"field_name": "city"}}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 4},
	}
	out := convertFromGemini(resp, "gemini-2.5-flash")
	if out.Message.Content != "Готово." {
		t.Errorf("content = %q", out.Message.Content)
	}
	if len(out.Message.ToolCalls) != 1 || out.Message.ToolCalls[0].ID == "" {
		t.Errorf("tool calls = %+v", out.Message.ToolCalls)
	}
	if out.InputTokens != 10 || out.OutputTokens != 4 || out.Model != "gemini-2.5-flash" {
		t.Errorf("meta = %+v", out)
	}
}
