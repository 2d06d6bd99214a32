package prompts

import (
	"strings"
	"testing"
)

func TestInterviewPrompt(t *testing.T) {
	p := InterviewPrompt(`{"salary":{}}`, `{"first_name":"Анна"}`)
	for _, want := range []string{`{"salary":{}}`, `"first_name":"Анна"`, "save_interview_insight", "priority"} {
		if !strings.Contains(p, want) {
			t.Errorf("interview prompt missing %q", want)
		}
	}
}

func TestVerifyPrompt(t *testing.T) {
	p := VerifyPrompt("SCHEMA", "PROFILE")
	if !strings.Contains(p, "SCHEMA") || !strings.Contains(p, "PROFILE") {
		t.Error("verify prompt should embed schema and profile")
	}
	if strings.Contains(p, "%!") {
		t.Error("verify prompt has a formatting error")
	}
}

func TestVerifySchemaEnum(t *testing.T) {
	status := VerifySchema()["properties"].(map[string]any)["status"].(map[string]any)
	enum := status["enum"].([]string)
	if len(enum) != 2 || enum[0] != VerifyOK || enum[1] != VerifyMissing {
		t.Errorf("enum = %v", enum)
	}
}

func TestRepairRequest(t *testing.T) {
	r := RepairRequest("- Human: я живу в Казани", "город не сохранён")
	if !strings.Contains(r, "Казани") || !strings.Contains(r, "город не сохранён") {
		t.Errorf("repair request = %q", r)
	}
}

func TestFormatWindow(t *testing.T) {
	if got := FormatWindow(nil); got != "No recent messages." {
		t.Errorf("FormatWindow(nil) = %q", got)
	}
	if got := FormatWindow([]string{"a", "b"}); got != "a\nb" {
		t.Errorf("FormatWindow = %q", got)
	}
}

func TestGuardSchemaRequired(t *testing.T) {
	req := GuardSchema()["required"].([]string)
	if len(req) != 1 || req[0] != "is_malicious" {
		t.Errorf("required = %v", req)
	}
}
