// Package llm provides language-model clients behind a single
// provider-neutral Client interface.
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`

	// Name is the tool that produced a tool message. Gemini correlates
	// function responses by name rather than by ID.
	Name string `json:"name,omitempty"`
}

// ToolFunction is the function half of a tool call.
type ToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function ToolFunction `json:"function"`
}

// ToolChoice controls whether the model may, must, or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceAny  ToolChoice = "any"
	ToolChoiceNone ToolChoice = "none"
)

// Request is one completion call.
type Request struct {
	Model    string
	Messages []Message

	// Tools are function definitions in the OpenAI shape
	// {"type":"function","function":{name,description,parameters}}.
	Tools      []map[string]any
	ToolChoice ToolChoice

	// Temperature is nil to use the provider default.
	Temperature *float64
	MaxTokens   int

	// ResponseSchema, when set, asks for a JSON object matching the
	// schema instead of free text. It cannot be combined with Tools.
	ResponseSchema map[string]any
}

// Temperature returns a pointer to t for Request.Temperature.
func Temperature(t float64) *float64 {
	return &t
}

// Validate checks that the request is well formed.
func (r *Request) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}
	if r.ResponseSchema != nil && len(r.Tools) > 0 {
		return errors.New("response schema cannot be combined with tools")
	}
	if r.ToolChoice == ToolChoiceAny && len(r.Tools) == 0 {
		return errors.New("tool choice any requires tools")
	}
	return nil
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model   string
	Message Message

	InputTokens  int
	OutputTokens int
}

// HasToolCalls reports whether the model asked for tools.
func (r *ChatResponse) HasToolCalls() bool {
	return len(r.Message.ToolCalls) > 0
}

// DecodeStructured unmarshals a structured-output response into v.
// Providers that wrap JSON in a markdown fence are tolerated.
func (r *ChatResponse) DecodeStructured(v any) error {
	body := strings.TrimSpace(r.Message.Content)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)
	if body == "" {
		return errors.New("empty structured response")
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode structured response: %w", err)
	}
	return nil
}

// toolDef is a provider-neutral view of one OpenAI-shape tool definition.
type toolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func parseTools(tools []map[string]any) []toolDef {
	var out []toolDef
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := fn["description"].(string)
		params, _ := fn["parameters"].(map[string]any)
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, toolDef{Name: name, Description: desc, Parameters: params})
	}
	return out
}

// splitSystem pulls system messages out of the conversation and joins
// them into one instruction.
func splitSystem(messages []Message) (string, []Message) {
	var parts []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}
