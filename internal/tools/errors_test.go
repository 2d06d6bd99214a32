package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "send_email"}
	want := `tool "send_email" is not available in this context`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrToolUnavailable_WrappedErrorsAs(t *testing.T) {
	orig := &ErrToolUnavailable{ToolName: "delete_profile"}
	wrapped := fmt.Errorf("tool execution: %w", orig)

	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "delete_profile" {
		t.Errorf("ToolName = %q, want %q", target.ToolName, "delete_profile")
	}
}

func TestErrToolUnavailable_NotMatchOtherErrors(t *testing.T) {
	other := fmt.Errorf("some other error")
	var target *ErrToolUnavailable
	if errors.As(other, &target) {
		t.Error("errors.As should not match non-ErrToolUnavailable error")
	}
}

func TestResult_String(t *testing.T) {
	res := Validation("salary", "must be a number")

	var decoded map[string]any
	if err := json.Unmarshal([]byte(res.String()), &decoded); err != nil {
		t.Fatalf("String() is not JSON: %v", err)
	}
	if decoded["kind"] != string(KindValidation) || decoded["field"] != "salary" {
		t.Errorf("decoded = %v", decoded)
	}
	if res.OK() {
		t.Error("validation result reported OK")
	}
	if !Success("done").OK() {
		t.Error("success result not OK")
	}
}
