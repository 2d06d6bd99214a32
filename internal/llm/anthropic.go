package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/resume-interviewer/internal/httpkit"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096

	// respondTool is the forced tool that carries structured output.
	respondTool = "respond"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client. An empty baseURL
// selects the public API.
func NewAnthropicClient(apiKey, baseURL string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	// Long prompts with many tools can hold headers back for a while.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		logger:  logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithRetry(2, time.Second, logger),
		),
	}
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	Messages    []anthropicMessage   `json:"messages"`
	System      string               `json:"system,omitempty"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature *float64             `json:"temperature,omitempty"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request.
func (c *AnthropicClient) Chat(ctx context.Context, req *Request) (*ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	msgs, system := convertToAnthropic(req.Messages)
	wire := anthropicRequest{
		Model:       req.Model,
		Messages:    msgs,
		System:      system,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       convertToolsToAnthropic(req.Tools),
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = anthropicMaxTokens
	}

	structured := req.ResponseSchema != nil
	switch {
	case structured:
		wire.Tools = []anthropicTool{{
			Name:        respondTool,
			Description: "Return the answer as structured data.",
			InputSchema: req.ResponseSchema,
		}}
		wire.ToolChoice = &anthropicToolChoice{Type: "tool", Name: respondTool}
	case len(wire.Tools) > 0 && req.ToolChoice != "":
		wire.ToolChoice = &anthropicToolChoice{Type: string(req.ToolChoice)}
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(msgs),
		"tools", len(wire.Tools),
		"tool_choice", req.ToolChoice,
		"structured", structured,
	)

	var resp anthropicResponse
	if err := c.post(ctx, "/v1/messages", wire, &resp); err != nil {
		return nil, err
	}

	result := convertFromAnthropic(&resp)
	if structured {
		if err := unwrapStructured(result); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// Ping verifies the API key with a one-token request.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	wire := anthropicRequest{
		Model:     "claude-3-5-haiku-latest",
		Messages:  []anthropicMessage{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	var resp anthropicResponse
	return c.post(ctx, "/v1/messages", wire, &resp)
}

func (c *AnthropicClient) post(ctx context.Context, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return &APIError{Provider: "anthropic", Status: resp.StatusCode, Body: errBody}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// unwrapStructured moves the forced respond call's input into the
// message content as JSON.
func unwrapStructured(resp *ChatResponse) error {
	for _, tc := range resp.Message.ToolCalls {
		if tc.Function.Name != respondTool {
			continue
		}
		data, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			return fmt.Errorf("encode structured response: %w", err)
		}
		resp.Message.Content = string(data)
		resp.Message.ToolCalls = nil
		return nil
	}
	return fmt.Errorf("model did not call %s", respondTool)
}

// convertToAnthropic converts messages to the Anthropic shape. System
// messages become the separate system prompt, and consecutive tool
// results are folded into a single user turn as the API requires.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	system, rest := splitSystem(messages)
	var result []anthropicMessage

	for _, msg := range rest {
		switch msg.Role {
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, anthropicMessage{Role: RoleAssistant, Content: msg.Content})
				continue
			}
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for i, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("toolu_%s_%d", tc.Function.Name, i)
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    id,
					Name:  tc.Function.Name,
					Input: args,
				})
			}
			result = append(result, anthropicMessage{Role: RoleAssistant, Content: blocks})

		case RoleTool:
			block := anthropicContent{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			if n := len(result); n > 0 {
				if prev, ok := result[n-1].Content.([]anthropicContent); ok && result[n-1].Role == RoleUser {
					result[n-1].Content = append(prev, block)
					continue
				}
			}
			result = append(result, anthropicMessage{Role: RoleUser, Content: []anthropicContent{block}})

		case RoleUser:
			result = append(result, anthropicMessage{Role: RoleUser, Content: msg.Content})
		}
	}
	return result, system
}

func convertToolsToAnthropic(tools []map[string]any) []anthropicTool {
	defs := parseTools(tools)
	if len(defs) == 0 {
		return nil
	}
	result := make([]anthropicTool, len(defs))
	for i, d := range defs {
		result[i] = anthropicTool{Name: d.Name, Description: d.Description, InputSchema: d.Parameters}
	}
	return result
}

func convertFromAnthropic(resp *anthropicResponse) *ChatResponse {
	var content string
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok {
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       block.ID,
				Function: ToolFunction{Name: block.Name, Arguments: args},
			})
		}
	}

	role := resp.Role
	if role == "" {
		role = RoleAssistant
	}
	return &ChatResponse{
		Model: resp.Model,
		Message: Message{
			Role:      role,
			Content:   content,
			ToolCalls: toolCalls,
		},
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
}
