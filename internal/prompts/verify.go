package prompts

import (
	"fmt"
	"strings"
)

// Verification outcomes.
const (
	VerifyOK      = "OK"
	VerifyMissing = "MISSING_INFORMATION"
)

const verifyTemplate = `You are a meticulous data entry auditor. Make sure every piece of
information the user gave that fits the resume schema was saved.

You get the most recent conversation messages, the current resume data,
and the resume schema. Review the messages and find information from the
user that belongs in the schema but is NOT present in the current resume
data.

- If everything relevant was saved, answer with status OK.
- Otherwise answer with status MISSING_INFORMATION and a concise
  missing_information_feedback naming exactly what is missing.
Do not try to save anything yourself.

---BEGIN DATA---
Resume schema:
%s

Current resume data:
%s
---END DATA---`

// VerifyPrompt returns the system instruction for the completeness audit.
func VerifyPrompt(schema, profile string) string {
	return fmt.Sprintf(verifyTemplate, schema, profile)
}

// VerifyRequest wraps the formatted conversation window for the audit.
func VerifyRequest(window string) string {
	return "Last messages from the conversation:\n" + window +
		"\n\nBased on the instructions and data above, provide your response."
}

// VerifySchema is the structured-output schema of an audit verdict.
func VerifySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type": "string",
				"enum": []string{VerifyOK, VerifyMissing},
			},
			"missing_information_feedback": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"status", "missing_information_feedback"},
	}
}

const repairTemplate = `Система обнаружила информацию из последних сообщений, которая не попала в резюме.
Твоя задача - вызвать инструменты, чтобы сохранить недостающее.

Схема резюме:
%s

Текущее состояние резюме:
%s

Сразу вызови инструменты. Не пиши, что собираешься это сделать.`

// RepairPrompt returns the system instruction for the forced tool pass.
func RepairPrompt(schema, profile string) string {
	return fmt.Sprintf(repairTemplate, schema, profile)
}

// RepairRequest combines the conversation window and audit feedback.
func RepairRequest(window, feedback string) string {
	return "История диалога:\n" + window + "\n\nОбратная связь:\n" + feedback
}

// FormatWindow renders conversation lines for the audit. An empty window
// is rendered as a placeholder so the auditor never sees a blank section.
func FormatWindow(lines []string) string {
	if len(lines) == 0 {
		return "No recent messages."
	}
	return strings.Join(lines, "\n")
}
