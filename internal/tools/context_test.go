package tools

import (
	"context"
	"testing"
)

func TestSubjectFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"anonymous when unset", context.Background(), "anonymous"},
		{"round trip", WithSubject(context.Background(), "tg:42"), "tg:42"},
		{"empty string returns anonymous", WithSubject(context.Background(), ""), "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubjectFromContext(tt.ctx)
			if got != tt.want {
				t.Errorf("SubjectFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToolCallIDFromContext(t *testing.T) {
	if got := ToolCallIDFromContext(context.Background()); got != "" {
		t.Errorf("unset = %q, want empty", got)
	}
	if got := ToolCallIDFromContext(WithToolCallID(context.Background(), "call_xyz")); got != "call_xyz" {
		t.Errorf("round trip = %q, want call_xyz", got)
	}
}

func TestTargetFromContext(t *testing.T) {
	if TargetFromContext(context.Background()) != nil {
		t.Error("unset target should be nil")
	}
	tgt := &memTarget{}
	if TargetFromContext(WithTarget(context.Background(), tgt)) != tgt {
		t.Error("target did not round trip")
	}
}
