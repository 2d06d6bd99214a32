// Package agent runs the free-form interview turn: a safety screen raced
// against a tool-bound model call, a tool loop, and a completeness audit
// that can force a repair pass.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/resume-interviewer/internal/events"
	"github.com/nugget/resume-interviewer/internal/guard"
	"github.com/nugget/resume-interviewer/internal/llm"
	"github.com/nugget/resume-interviewer/internal/prompts"
	"github.com/nugget/resume-interviewer/internal/tools"
)

// ErrUpstream marks a turn that failed because the model or the safety
// screen could not be reached or answered nonsense. Callers do not retry.
var ErrUpstream = errors.New("upstream service failed")

// FallbackReply is returned when a turn ends without any assistant text.
const FallbackReply = "Извините, не получилось обработать сообщение. Попробуйте ещё раз."

// verifyWindow is how many non-tool messages before the reply the audit
// reads.
const verifyWindow = 5

// Screen classifies a subject message.
type Screen interface {
	Classify(ctx context.Context, text string) (*guard.Verdict, error)
}

// Tools is the tool surface the graph binds to the model.
type Tools interface {
	List() []map[string]any
	Execute(ctx context.Context, name string, args map[string]any) (tools.Result, error)
}

// Documents supplies the schema and profile JSON embedded in prompts. It
// is read before every model call so tool writes are visible.
type Documents interface {
	Documents() (schema, profile string, err error)
}

// Config tunes the graph.
type Config struct {
	// Model is the conversational model.
	Model string
	// PreciseModel runs the audit and the repair pass.
	PreciseModel string
	// Temperature for the conversational model.
	Temperature float64
	// MaxIterations caps model calls in the tool loop.
	MaxIterations int
}

// Graph executes turns. It holds no per-turn state and is safe for
// concurrent use across subjects.
type Graph struct {
	client llm.Client
	screen Screen
	tools  Tools
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a Graph.
func New(client llm.Client, screen Screen, tl Tools, cfg Config, bus *events.Bus, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	if cfg.PreciseModel == "" {
		cfg.PreciseModel = cfg.Model
	}
	return &Graph{
		client: client,
		screen: screen,
		tools:  tl,
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("component", "agent"),
		tracer: otel.Tracer("github.com/nugget/resume-interviewer/internal/agent"),
	}
}

// Turn is one subject message with its context.
type Turn struct {
	ID      string
	Subject string
	Message string

	// History is the replayed conversation, oldest first, holding only
	// user and assistant messages.
	History []llm.Message

	Docs Documents
}

// ToolRecord is one executed tool call.
type ToolRecord struct {
	Name   string
	Kind   tools.Kind
	Repair bool
}

// Result is the outcome of a turn.
type Result struct {
	// Reply is the text shown to the subject.
	Reply string
	// Flagged is true when the safety screen refused the message.
	Flagged      bool
	Iterations   int
	Tools        []ToolRecord
	Verification string
	Repaired     bool
	Truncated    bool
}

// run is the mutable state of one turn.
type run struct {
	turn     *Turn
	messages []llm.Message
	pending  []llm.ToolCall
	start    int
	screened bool
	result   Result
}

// Run executes one turn to completion.
func (g *Graph) Run(ctx context.Context, turn *Turn) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("interview.subject", turn.Subject),
		attribute.String("turn.id", turn.ID),
	))
	defer span.End()
	ctx = tools.WithSubject(ctx, turn.Subject)

	start := time.Now()
	r := &run{turn: turn, start: len(turn.History)}
	r.messages = append(r.messages, turn.History...)
	r.messages = append(r.messages, llm.Message{Role: llm.RoleUser, Content: turn.Message})

	g.emit(turn, events.KindTurnStart, map[string]any{"message_len": len(turn.Message)})

	state := nodeEntry
	for state != nodeDone {
		g.emit(turn, events.KindNodeEnter, map[string]any{
			"node":      state.String(),
			"iteration": r.result.Iterations,
		})

		var (
			ev  event
			err error
		)
		switch state {
		case nodeEntry:
			ev, err = g.entry(ctx, r)
		case nodeTools:
			ev, err = g.executeTools(ctx, r)
		case nodeVerify:
			ev, err = g.verify(ctx, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			g.logger.Error("turn failed",
				"subject", turn.Subject,
				"turn", turn.ID,
				"node", state.String(),
				"error", err,
			)
			return nil, err
		}

		next, err := transition(state, ev)
		if err != nil {
			return nil, err
		}
		g.logger.Debug("transition",
			"turn", turn.ID,
			"from", state.String(),
			"event", ev.String(),
			"to", next.String(),
		)
		state = next
	}

	if strings.TrimSpace(r.result.Reply) == "" {
		r.result.Reply = FallbackReply
	}

	span.SetAttributes(
		attribute.Int("turn.iterations", r.result.Iterations),
		attribute.Bool("turn.flagged", r.result.Flagged),
		attribute.Bool("turn.repaired", r.result.Repaired),
	)
	g.emit(turn, events.KindTurnComplete, map[string]any{
		"iterations": r.result.Iterations,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	g.logger.Info("turn complete",
		"subject", turn.Subject,
		"turn", turn.ID,
		"iterations", r.result.Iterations,
		"tools", len(r.result.Tools),
		"verification", r.result.Verification,
		"elapsed", time.Since(start),
	)
	return &r.result, nil
}

// entry calls the model and, on the first pass, races the safety screen
// against it. A failure of either fails the turn.
func (g *Graph) entry(ctx context.Context, r *run) (event, error) {
	if r.result.Iterations >= g.cfg.MaxIterations {
		g.logger.Warn("tool loop hit iteration limit",
			"subject", r.turn.Subject,
			"turn", r.turn.ID,
			"max_iterations", g.cfg.MaxIterations,
		)
		r.result.Truncated = true
		r.result.Reply = lastAssistantText(r.messages[r.start:])
		return evIterationLimit, nil
	}

	ctx, span := g.tracer.Start(ctx, "agent.entry", trace.WithAttributes(
		attribute.Int("turn.iteration", r.result.Iterations),
	))
	defer span.End()

	schemaDoc, profileDoc, err := r.turn.Docs.Documents()
	if err != nil {
		return 0, fmt.Errorf("load documents: %w", err)
	}
	req := &llm.Request{
		Model:       g.cfg.Model,
		Messages:    withSystem(prompts.InterviewPrompt(schemaDoc, profileDoc), r.messages),
		Tools:       g.tools.List(),
		ToolChoice:  llm.ToolChoiceAuto,
		Temperature: llm.Temperature(g.cfg.Temperature),
	}

	var (
		verdict *guard.Verdict
		resp    *llm.ChatResponse
	)
	eg, egCtx := errgroup.WithContext(ctx)
	if !r.screened {
		eg.Go(func() error {
			v, err := g.screen.Classify(egCtx, r.turn.Message)
			if err != nil {
				return err
			}
			verdict = v
			return nil
		})
	}
	eg.Go(func() error {
		res, err := g.client.Chat(egCtx, req)
		if err != nil {
			return fmt.Errorf("completion: %w", err)
		}
		resp = res
		return nil
	})
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	r.result.Iterations++

	if !r.screened {
		r.screened = true
		if !verdict.Safe {
			r.result.Flagged = true
			r.result.Reply = verdict.Reply
			g.emit(r.turn, events.KindSafetyFlagged, map[string]any{"reason": verdict.Reason})
			return evSafetyFlagged, nil
		}
	}

	r.messages = append(r.messages, resp.Message)
	if resp.HasToolCalls() {
		r.pending = resp.Message.ToolCalls
		span.SetAttributes(attribute.Int("llm.tool_calls", len(r.pending)))
		return evToolRequested, nil
	}
	r.result.Reply = resp.Message.Content
	return evPlainReply, nil
}

// executeTools runs the pending calls in model order and feeds the
// results back as tool messages.
func (g *Graph) executeTools(ctx context.Context, r *run) (event, error) {
	ctx, span := g.tracer.Start(ctx, "agent.tools", trace.WithAttributes(
		attribute.Int("tools.count", len(r.pending)),
	))
	defer span.End()

	for _, tc := range r.pending {
		res := g.callTool(ctx, r, tc, false)
		r.messages = append(r.messages, llm.Message{
			Role:       llm.RoleTool,
			Name:       tc.Function.Name,
			ToolCallID: tc.ID,
			Content:    res.String(),
		})
	}
	r.pending = nil
	return evToolsDone, nil
}

func (g *Graph) callTool(ctx context.Context, r *run, tc llm.ToolCall, repair bool) tools.Result {
	res, err := g.tools.Execute(tools.WithToolCallID(ctx, tc.ID), tc.Function.Name, tc.Function.Arguments)
	if err != nil {
		g.logger.Warn("model called unavailable tool",
			"subject", r.turn.Subject,
			"tool", tc.Function.Name,
			"error", err,
		)
	}
	r.result.Tools = append(r.result.Tools, ToolRecord{Name: tc.Function.Name, Kind: res.Kind, Repair: repair})
	g.emit(r.turn, events.KindToolCall, map[string]any{
		"tool":   tc.Function.Name,
		"kind":   string(res.Kind),
		"repair": repair,
	})
	return res
}

type verification struct {
	Status   string `json:"status"`
	Feedback string `json:"missing_information_feedback"`
}

// verify audits the recent conversation against the profile and runs a
// forced tool pass when something was missed. The subject still sees the
// reply from the entry node.
func (g *Graph) verify(ctx context.Context, r *run) (event, error) {
	ctx, span := g.tracer.Start(ctx, "agent.verify")
	defer span.End()

	schemaDoc, profileDoc, err := r.turn.Docs.Documents()
	if err != nil {
		return 0, fmt.Errorf("load documents: %w", err)
	}
	window := prompts.FormatWindow(auditWindow(r.messages))

	resp, err := g.client.Chat(ctx, &llm.Request{
		Model: g.cfg.PreciseModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.VerifyPrompt(schemaDoc, profileDoc)},
			{Role: llm.RoleUser, Content: prompts.VerifyRequest(window)},
		},
		Temperature:    llm.Temperature(0),
		ResponseSchema: prompts.VerifySchema(),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: verification: %w", ErrUpstream, err)
	}
	var v verification
	if err := resp.DecodeStructured(&v); err != nil {
		return 0, fmt.Errorf("%w: verification: %w", ErrUpstream, err)
	}

	r.result.Verification = v.Status
	span.SetAttributes(attribute.String("verify.status", v.Status))
	g.emit(r.turn, events.KindVerification, map[string]any{"status": v.Status})

	if v.Status != prompts.VerifyMissing {
		return evVerificationOK, nil
	}

	g.logger.Info("verification found missing information",
		"subject", r.turn.Subject,
		"turn", r.turn.ID,
		"feedback", v.Feedback,
	)
	if err := g.repair(ctx, r, window, v.Feedback); err != nil {
		return 0, err
	}
	return evVerificationMissing, nil
}

// repair asks the precise model for mandatory tool calls and executes
// them directly. Its text output is discarded.
func (g *Graph) repair(ctx context.Context, r *run, window, feedback string) error {
	ctx, span := g.tracer.Start(ctx, "agent.repair")
	defer span.End()

	schemaDoc, profileDoc, err := r.turn.Docs.Documents()
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	resp, err := g.client.Chat(ctx, &llm.Request{
		Model: g.cfg.PreciseModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.RepairPrompt(schemaDoc, profileDoc)},
			{Role: llm.RoleUser, Content: prompts.RepairRequest(window, feedback)},
		},
		Tools:       g.tools.List(),
		ToolChoice:  llm.ToolChoiceAny,
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return fmt.Errorf("%w: repair: %w", ErrUpstream, err)
	}

	if !resp.HasToolCalls() {
		g.logger.Warn("repair pass returned no tool calls", "subject", r.turn.Subject, "turn", r.turn.ID)
		return nil
	}
	for _, tc := range resp.Message.ToolCalls {
		g.callTool(ctx, r, tc, true)
	}
	r.result.Repaired = true
	span.SetAttributes(attribute.Int("repair.tool_calls", len(resp.Message.ToolCalls)))
	return nil
}

// auditWindow returns up to verifyWindow conversational messages that
// precede the final message (the reply being audited), one per line.
func auditWindow(messages []llm.Message) []string {
	if len(messages) == 0 {
		return nil
	}
	var convo []llm.Message
	for _, m := range messages[:len(messages)-1] {
		if m.Role == llm.RoleTool || strings.TrimSpace(m.Content) == "" {
			continue
		}
		convo = append(convo, m)
	}
	if len(convo) > verifyWindow {
		convo = convo[len(convo)-verifyWindow:]
	}

	lines := make([]string, len(convo))
	for i, m := range convo {
		who := "Human"
		if m.Role == llm.RoleAssistant {
			who = "Assistant"
		}
		lines[i] = fmt.Sprintf("- %s: %s", who, m.Content)
	}
	return lines
}

func lastAssistantText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == llm.RoleAssistant && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

func withSystem(system string, messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: system})
	return append(out, messages...)
}

func (g *Graph) emit(turn *Turn, kind string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["turn_id"] = turn.ID
	g.bus.Emit(events.SourceAgent, kind, turn.Subject, data)
}
