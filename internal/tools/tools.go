// Package tools defines the actions the conversational agent may take on
// a profile. Tools are the only path by which the agent mutates
// interview data.
package tools

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler executes a tool. A returned error is an internal failure; the
// registry logs it and hands the model an internal_error envelope.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	logger *slog.Logger
	tracer trace.Tracer
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
		tracer: otel.Tracer("github.com/nugget/resume-interviewer/internal/tools"),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in the function-calling format the LLM clients
// accept, sorted by name so prompts are stable.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name. Unknown tools return ErrToolUnavailable
// together with a not_found envelope the model can read.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	callID := ToolCallIDFromContext(ctx)
	ctx, span := r.tracer.Start(ctx, "tool "+name, trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", callID),
		attribute.String("interview.subject", SubjectFromContext(ctx)),
	))
	defer span.End()

	tool := r.tools[name]
	if tool == nil {
		err := &ErrToolUnavailable{ToolName: name}
		span.SetStatus(codes.Error, err.Error())
		return NotFound("%s; available tools: %v", err.Error(), r.Names()), err
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	res, err := tool.Handler(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("tool failed",
			"tool", name,
			"call_id", callID,
			"subject", SubjectFromContext(ctx),
			"error", err,
		)
		res = Internal("tool %s failed; the change was not saved", name)
	}

	span.SetAttributes(attribute.String("tool.result", string(res.Kind)))
	r.logger.Debug("tool executed",
		"tool", name,
		"call_id", callID,
		"kind", res.Kind,
		"elapsed", time.Since(start),
	)
	return res, nil
}
