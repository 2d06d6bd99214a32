package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/nugget/resume-interviewer/internal/httpkit"
)

// GeminiClient talks to the Gemini API through the genai SDK, rotating
// across one SDK client per API key.
type GeminiClient struct {
	clients   []*genai.Client
	rotator   *KeyRotator
	pingModel string
	logger    *slog.Logger
}

// GeminiConfig configures NewGeminiClient.
type GeminiConfig struct {
	Keys []string

	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL string

	// PingModel is looked up by Ping.
	PingModel string
}

// NewGeminiClient creates a Gemini client with one SDK client per key.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rotator, err := NewKeyRotator(cfg.Keys)
	if err != nil {
		return nil, err
	}

	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(2*time.Minute),
		httpkit.WithRetry(2, time.Second, logger),
	)

	c := &GeminiClient{
		rotator:   rotator,
		pingModel: cfg.PingModel,
		logger:    logger.With("provider", "gemini"),
	}
	if c.pingModel == "" {
		c.pingModel = "gemini-2.5-flash"
	}
	for _, key := range rotator.keys {
		sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      key,
			Backend:     genai.BackendGeminiAPI,
			HTTPClient:  httpClient,
			HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
		})
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		c.clients = append(c.clients, sdk)
	}
	return c, nil
}

// Chat sends a completion request using the next key in rotation.
func (c *GeminiClient) Chat(ctx context.Context, req *Request) (*ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	system, contents := convertToGemini(req.Messages)
	cfg := buildGeminiConfig(req, system)

	idx, _ := c.rotator.Next()
	c.logger.Debug("preparing request",
		"model", req.Model,
		"contents", len(contents),
		"tools", len(req.Tools),
		"tool_choice", req.ToolChoice,
		"key_index", idx,
	)

	resp, err := c.clients[idx].Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	result := convertFromGemini(resp, req.Model)
	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// Ping looks up the configured ping model.
func (c *GeminiClient) Ping(ctx context.Context) error {
	idx, _ := c.rotator.Next()
	if _, err := c.clients[idx].Models.Get(ctx, c.pingModel, nil); err != nil {
		return fmt.Errorf("gemini ping: %w", err)
	}
	return nil
}

func buildGeminiConfig(req *Request, system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = req.ResponseSchema
	}

	defs := parseTools(req.Tools)
	if len(defs) == 0 {
		return cfg
	}
	decls := make([]*genai.FunctionDeclaration, len(defs))
	for i, d := range defs {
		decls[i] = &genai.FunctionDeclaration{
			Name:                 d.Name,
			Description:          d.Description,
			ParametersJsonSchema: d.Parameters,
		}
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

	mode := genai.FunctionCallingConfigModeAuto
	switch req.ToolChoice {
	case ToolChoiceAny:
		mode = genai.FunctionCallingConfigModeAny
	case ToolChoiceNone:
		mode = genai.FunctionCallingConfigModeNone
	}
	cfg.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
	}
	return cfg
}

// convertToGemini maps messages onto genai contents. Tool results become
// function responses in a user turn; consecutive results share one turn.
func convertToGemini(messages []Message) (string, []*genai.Content) {
	system, rest := splitSystem(messages)
	var contents []*genai.Content

	for _, m := range rest {
		switch m.Role {
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))

		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Args: tc.Function.Arguments,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})
			}

		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.Name,
				Response: toolResponse(m.Content),
			}}
			if n := len(contents); n > 0 && contents[n-1].Role == string(genai.RoleUser) && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{part}})
		}
	}
	return system, contents
}

func isFunctionResponses(c *genai.Content) bool {
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return len(c.Parts) > 0
}

// toolResponse wraps a tool result for FunctionResponse.Response, which
// must be an object.
func toolResponse(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj
	}
	return map[string]any{"output": content}
}

func convertFromGemini(resp *genai.GenerateContentResponse, model string) *ChatResponse {
	out := &ChatResponse{
		Model:   model,
		Message: Message{Role: RoleAssistant},
	}
	if resp == nil {
		return out
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for i, p := range resp.Candidates[0].Content.Parts {
		switch {
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
				ID:       id,
				Function: ToolFunction{Name: p.FunctionCall.Name, Arguments: args},
			})
		case p.Text != "" && !p.Thought:
			out.Message.Content += p.Text
		}
	}
	return out
}
