// Package guard screens subject messages for prompt injection and abuse
// before the interviewer acts on them.
package guard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/resume-interviewer/internal/llm"
	"github.com/nugget/resume-interviewer/internal/prompts"
)

// Verdict is the screen's decision about one message. Reply is set when
// the message is unsafe.
type Verdict struct {
	Safe   bool
	Reason string
	Reply  string
}

// Screen classifies messages with a zero-temperature model call.
type Screen struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// New creates a Screen that asks model through client.
func New(client llm.Client, model string, logger *slog.Logger) *Screen {
	if logger == nil {
		logger = slog.Default()
	}
	return &Screen{
		client: client,
		model:  model,
		logger: logger.With("component", "guard"),
	}
}

type screenOutput struct {
	IsMalicious bool   `json:"is_malicious"`
	Reason      string `json:"reason"`
}

// Classify screens text. Any failure to obtain a verdict is returned as
// an error; the screen never guesses safe or unsafe.
func (s *Screen) Classify(ctx context.Context, text string) (*Verdict, error) {
	resp, err := s.client.Chat(ctx, &llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.GuardPrompt()},
			{Role: llm.RoleUser, Content: text},
		},
		Temperature:    llm.Temperature(0),
		ResponseSchema: prompts.GuardSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("safety screen: %w", err)
	}

	var out screenOutput
	if err := resp.DecodeStructured(&out); err != nil {
		return nil, fmt.Errorf("safety screen: %w", err)
	}

	if out.IsMalicious {
		s.logger.Warn("malicious input detected",
			"reason", out.Reason,
			"input", preview(text, 200),
		)
		return &Verdict{Safe: false, Reason: out.Reason, Reply: prompts.GuardRefusal}, nil
	}

	s.logger.Debug("input passed screen")
	return &Verdict{Safe: true}, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
