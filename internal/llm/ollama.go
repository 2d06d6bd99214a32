package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/resume-interviewer/internal/httpkit"
)

// OllamaClient is a client for a local Ollama server. Ollama has no
// tool-choice control, so ToolChoiceAny degrades to auto.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("provider", "ollama"),
		// Large local models with tools need time.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(5 * time.Minute)),
	}
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Format   map[string]any   `json:"format,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ToolFunction `json:"function"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// Chat sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, req *Request) (*ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	wire := ollamaRequest{
		Model:    req.Model,
		Messages: convertToOllama(req.Messages),
		Format:   req.ResponseSchema,
	}
	if req.ToolChoice != ToolChoiceNone {
		wire.Tools = req.Tools
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		wire.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	jsonData, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "ollama", Status: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 4096)}
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &ChatResponse{
		Model: out.Model,
		Message: Message{
			Role:    RoleAssistant,
			Content: out.Message.Content,
		},
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}
	for i, tc := range out.Message.ToolCalls {
		result.Message.ToolCalls = append(result.Message.ToolCalls, ToolCall{
			ID:       fmt.Sprintf("call_%d", i),
			Function: tc.Function,
		})
	}
	// Smaller models often print the call as JSON instead of using
	// tool_calls.
	if len(wire.Tools) > 0 && !result.HasToolCalls() && result.Message.Content != "" {
		if parsed := parseTextToolCalls(result.Message.Content); len(parsed) > 0 {
			result.Message.ToolCalls = parsed
			result.Message.Content = ""
		}
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	return result, nil
}

func convertToOllama(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		if m.Role == RoleTool {
			om.ToolName = m.Name
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{Function: tc.Function})
		}
		out = append(out, om)
	}
	return out
}

// parseTextToolCalls extracts tool calls a model wrote into its content,
// either as a bare JSON object, a JSON array, or wrapped in
// <tool_call> tags.
func parseTextToolCalls(content string) []ToolCall {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "<tool_call>"); start != -1 {
		content = content[start+len("<tool_call>"):]
		if end := strings.Index(content, "</tool_call>"); end != -1 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}
	if content == "" {
		return nil
	}

	var calls []ToolFunction
	if err := json.Unmarshal([]byte(content), &calls); err != nil || len(calls) == 0 {
		var single ToolFunction
		if err := json.Unmarshal([]byte(content), &single); err != nil || single.Name == "" {
			return nil
		}
		calls = []ToolFunction{single}
	}

	result := make([]ToolCall, 0, len(calls))
	for i, fn := range calls {
		if fn.Name == "" {
			continue
		}
		result = append(result, ToolCall{ID: fmt.Sprintf("call_%d", i), Function: fn})
	}
	return result
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: "ollama", Status: resp.StatusCode}
	}
	return nil
}
