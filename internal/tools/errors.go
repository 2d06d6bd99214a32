// Package tools provides the tool registry and execution framework.
//
// This file defines the error types for tool execution.
package tools

import (
	"encoding/json"
	"fmt"
)

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. This indicates a capability mismatch,
// not a transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// Kind classifies a tool result.
type Kind string

const (
	KindSuccess         Kind = "success"
	KindValidation      Kind = "validation_error"
	KindNotFound        Kind = "not_found"
	KindInvalidArgument Kind = "invalid_argument"
	KindInternal        Kind = "internal_error"
)

// Result is the envelope every tool returns. The calling model reads it
// to decide whether to retry with corrected arguments.
type Result struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// OK reports whether the tool succeeded.
func (r Result) OK() bool {
	return r.Kind == KindSuccess
}

// String renders the envelope as JSON for a tool message.
func (r Result) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"kind":%q,"message":%q}`, KindInternal, err.Error())
	}
	return string(b)
}

// Success builds a success result.
func Success(format string, args ...any) Result {
	return Result{Kind: KindSuccess, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a retryable validation failure for field.
func Validation(field, message string) Result {
	return Result{Kind: KindValidation, Field: field, Message: message}
}

// NotFound builds a not-found result.
func NotFound(format string, args ...any) Result {
	return Result{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds a result for malformed or unknown arguments.
func InvalidArgument(field, format string, args ...any) Result {
	return Result{Kind: KindInvalidArgument, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Internal builds a result for failures the model cannot fix.
func Internal(format string, args ...any) Result {
	return Result{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}
