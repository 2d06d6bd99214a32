package tools

import "context"

type contextKey string

const (
	subjectKey   contextKey = "subject"
	targetKey    contextKey = "target"
	toolCallKey  contextKey = "tool_call_id"
	defaultActor            = "anonymous"
)

// WithSubject adds the interviewed subject's ID to the context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext extracts the subject ID from the context.
// Returns "anonymous" if not set.
func SubjectFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(subjectKey).(string); ok && id != "" {
		return id
	}
	return defaultActor
}

// WithTarget binds the profile that profile tools mutate during this
// turn.
func WithTarget(ctx context.Context, t Target) context.Context {
	return context.WithValue(ctx, targetKey, t)
}

// TargetFromContext returns the bound profile target, or nil.
func TargetFromContext(ctx context.Context) Target {
	t, _ := ctx.Value(targetKey).(Target)
	return t
}

// WithToolCallID records the provider's ID for the call being executed.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallKey, id)
}

// ToolCallIDFromContext extracts the tool call ID, or "" when unset.
func ToolCallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(toolCallKey).(string)
	return id
}
