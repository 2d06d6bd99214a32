// Package dialog drives the deterministic, button-friendly interview.
//
// The engine walks the question catalog through the selector and keeps
// per-subject position in a [profile.Session]. Repeatable groups get a
// nested flow: the group's intro question offers to add a record, redo
// the group, or confirm it; adding a record walks the group's members
// into the session's loop buffer and commits the record when the last
// member is answered.
//
// The engine mutates the session and profile it is handed and never
// persists anything. Callers pass a profile clone and save both values
// once a call returns without error.
package dialog

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/resume-interviewer/internal/profile"
	"github.com/nugget/resume-interviewer/internal/schema"
	"github.com/nugget/resume-interviewer/internal/selector"
	"github.com/nugget/resume-interviewer/internal/validate"
)

// Intro intents. Subjects normally send these by pressing a button.
const (
	ButtonAdd     = "+ Добавить запись"
	ButtonRedo    = "Ответить заново"
	ButtonConfirm = "Подтвердить"
)

// Corrective annotations appended to a re-asked question.
const (
	NoteAddFirst    = "\n\n⚠️ Сначала добавьте запись."
	NoteUseButtons  = "\n\n⚠️ Используйте кнопки ниже."
	NoteRequired    = "\n⚠️ Заполните обязательные поля."
	noteInvalidWarn = "\n\n⚠️ "
)

// Structural errors. They end the request; nothing retries them.
var (
	ErrUnknownField  = errors.New("unknown field")
	ErrSessionClosed = errors.New("session is closed")
	ErrNoSchema      = errors.New("schema not loaded")
	ErrNoSession     = errors.New("no session")
)

// DefaultRequired lists the fields a record must carry before the loop
// buffer may be committed, per group.
var DefaultRequired = map[string][]string{
	"work_experience": {"exp_company", "exp_position"},
}

// SchemaSource supplies the current schema.
type SchemaSource interface {
	Schema() *schema.Schema
}

// Prompt is a question to show the subject.
type Prompt struct {
	Field          string   `json:"field_name"`
	Group          string   `json:"group_id,omitempty"`
	Text           string   `json:"template"`
	Buttons        []string `json:"buttons,omitempty"`
	InlineKeyboard bool     `json:"inline_kb"`
	MultiSelect    bool     `json:"multi_select"`

	// Rejected carries the validation message when the answer to Field
	// was refused.
	Rejected string `json:"rejected,omitempty"`
}

// Engine is the deterministic interview state machine. It is stateless
// itself and safe for concurrent use on different sessions.
type Engine struct {
	source   SchemaSource
	required map[string][]string
	logger   *slog.Logger
}

// New creates an engine. A nil required map means DefaultRequired.
func New(source SchemaSource, required map[string][]string, logger *slog.Logger) *Engine {
	if required == nil {
		required = DefaultRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source:   source,
		required: required,
		logger:   logger.With("component", "dialog"),
	}
}

func (e *Engine) schema() (*schema.Schema, error) {
	if e.source == nil {
		return nil, ErrNoSchema
	}
	s := e.source.Schema()
	if s == nil {
		return nil, ErrNoSchema
	}
	return s, nil
}

// Next returns the question the subject should answer now, or nil when
// nothing is left, in which case the session moves to confirm_pending.
func (e *Engine) Next(sess *profile.Session, p *profile.Profile) (*Prompt, error) {
	if sess == nil || p == nil {
		return nil, ErrNoSession
	}
	if sess.State == profile.StateCompleted {
		return nil, nil
	}
	s, err := e.schema()
	if err != nil {
		return nil, err
	}
	return e.next(s, sess, p), nil
}

func (e *Engine) next(s *schema.Schema, sess *profile.Session, p *profile.Profile) *Prompt {
	e.autoConfirm(p)

	// A record in progress is resumed where it stopped.
	if sess.InLoop() {
		if g, ok := s.Group(sess.Loop.Group); ok {
			if f, ok := g.Member(sess.CurrentField); ok {
				return fieldPrompt(f)
			}
			f := g.Members[0]
			sess.CurrentField = f.Name
			return fieldPrompt(f)
		}
		// The group vanished from the catalog.
		sess.CloseLoop()
	}

	c, ok := selector.NextInContext(s, p, selector.GroupContext{
		Confirmed:         p.Confirmed,
		AwaitConfirmation: true,
	})
	sess.CurrentRecord = ""
	if !ok {
		sess.CurrentField = ""
		if sess.State == profile.StateCollecting {
			sess.State = profile.StateConfirmPending
		}
		e.logger.Debug("no questions left", "session", sess.ID)
		return nil
	}

	sess.CurrentField = c.Field.Name
	if c.Group == "" {
		return fieldPrompt(c.Field)
	}

	g, _ := s.Group(c.Group)
	switch {
	case c.IsIntro():
		return e.introPrompt(g, p, "")
	case c.RecordID != "":
		sess.CurrentRecord = c.RecordID
		return fieldPrompt(c.Field)
	default:
		// Groups without an intro start a record straight away.
		sess.OpenLoop(g.ID)
		return fieldPrompt(c.Field)
	}
}

// autoConfirm confirms groups whose records all carry the required
// fields.
func (e *Engine) autoConfirm(p *profile.Profile) {
	for gid, req := range e.required {
		if p.IsConfirmed(gid) {
			continue
		}
		recs := p.Records(gid)
		if len(recs) == 0 {
			continue
		}
		complete := true
		for _, r := range recs {
			if len(missingRequired(req, r.Fields)) > 0 {
				complete = false
				break
			}
		}
		if complete {
			p.Confirm(gid)
		}
	}
}

// Answer records the subject's answer to field and returns the next
// prompt. A nil prompt means the interview is complete.
func (e *Engine) Answer(sess *profile.Session, p *profile.Profile, field, raw string) (*Prompt, error) {
	if sess == nil || p == nil {
		return nil, ErrNoSession
	}
	if sess.State == profile.StateCompleted {
		return nil, ErrSessionClosed
	}
	s, err := e.schema()
	if err != nil {
		return nil, err
	}
	f, ok := s.Field(field)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	e.logger.Debug("answer", "session", sess.ID, "field", field)

	switch {
	case f.GroupID == "":
		return e.answerScalar(s, sess, p, f, raw), nil
	case f.IsIntro():
		g, _ := s.Group(f.GroupID)
		return e.answerIntro(s, sess, p, g, raw), nil
	default:
		g, _ := s.Group(f.GroupID)
		return e.answerMember(s, sess, p, g, f, raw), nil
	}
}

func (e *Engine) answerScalar(s *schema.Schema, sess *profile.Session, p *profile.Profile, f schema.Field, raw string) *Prompt {
	if ok, msg := validate.Validate(f.Name, raw); !ok {
		sess.CurrentField = f.Name
		return rejectPrompt(f, msg)
	}
	p.SetScalar(f.Name, raw)
	return e.advance(s, sess, p)
}

// advance moves to the next question and completes the interview when
// none is left.
func (e *Engine) advance(s *schema.Schema, sess *profile.Session, p *profile.Profile) *Prompt {
	next := e.next(s, sess, p)
	if next == nil {
		p.Complete()
		sess.State = profile.StateCompleted
		e.logger.Info("interview completed", "session", sess.ID, "profile", p.ID)
	}
	return next
}

func (e *Engine) answerIntro(s *schema.Schema, sess *profile.Session, p *profile.Profile, g *schema.Group, raw string) *Prompt {
	answer := strings.TrimSpace(raw)
	sess.CurrentField = g.Intro.Name
	sess.CurrentRecord = ""

	switch {
	case strings.HasPrefix(answer, "+"):
		sess.OpenLoop(g.ID)
		first := g.Members[0]
		sess.CurrentField = first.Name
		return fieldPrompt(first)

	case strings.HasPrefix(answer, "Ответить"):
		p.ClearGroup(g.ID)
		sess.CloseLoop()
		e.logger.Debug("group reset", "session", sess.ID, "group", g.ID)
		return e.advance(s, sess, p)

	case strings.HasPrefix(answer, ButtonConfirm):
		if len(p.Records(g.ID)) == 0 {
			return e.introPrompt(g, p, NoteAddFirst)
		}
		p.Confirm(g.ID)
		sess.CloseLoop()
		return e.advance(s, sess, p)
	}

	return e.introPrompt(g, p, NoteUseButtons)
}

func (e *Engine) answerMember(s *schema.Schema, sess *profile.Session, p *profile.Profile, g *schema.Group, f schema.Field, raw string) *Prompt {
	if ok, msg := validate.Validate(f.Name, raw); !ok {
		sess.CurrentField = f.Name
		return rejectPrompt(f, msg)
	}

	// Filling a gap in a record that already exists.
	if sess.CurrentRecord != "" && !sess.InLoop() && sess.CurrentField == f.Name {
		if err := p.UpdateRecord(g.ID, sess.CurrentRecord, f.Name, raw); err == nil {
			return e.advance(s, sess, p)
		}
		sess.CurrentRecord = ""
	}

	if !sess.InLoop() || sess.Loop.Group != g.ID {
		sess.OpenLoop(g.ID)
	}
	sess.Loop.Item[f.Name] = raw

	next, more := g.MemberAfter(f.Name)
	if more && !f.IsLast {
		sess.CurrentField = next.Name
		return fieldPrompt(next)
	}

	return e.finalize(s, sess, p, g)
}

// finalize commits the loop buffer as a new record, or sends the subject
// back to the intro when required fields are missing.
func (e *Engine) finalize(s *schema.Schema, sess *profile.Session, p *profile.Profile, g *schema.Group) *Prompt {
	item := sess.Loop.Item

	fields := make(map[string]any, len(item))
	for k, v := range item {
		fields[k] = v
	}
	if missing := missingRequired(e.required[g.ID], fields); len(missing) > 0 {
		e.logger.Debug("record missing required fields", "session", sess.ID, "group", g.ID, "missing", missing)
		if g.Intro == nil {
			first := g.Members[0]
			sess.CurrentField = first.Name
			return rejectPrompt(first, strings.TrimSpace(NoteRequired))
		}
		sess.CurrentField = g.Intro.Name
		return e.introPrompt(g, p, NoteRequired)
	}

	rec := p.AppendRecord(g.ID, fields)
	sess.CloseLoop()
	e.logger.Debug("record added", "session", sess.ID, "group", g.ID, "id", rec.ID, "records", len(p.Records(g.ID)))

	if g.Intro == nil {
		p.Confirm(g.ID)
		return e.advance(s, sess, p)
	}
	sess.CurrentField = g.Intro.Name
	return e.introPrompt(g, p, "")
}

func missingRequired(required []string, fields map[string]any) []string {
	var missing []string
	for _, name := range required {
		if profile.IsEmpty(fields[name]) {
			missing = append(missing, name)
		}
	}
	return missing
}

func fieldPrompt(f schema.Field) *Prompt {
	return &Prompt{
		Field:          f.Name,
		Group:          f.GroupID,
		Text:           f.Question,
		Buttons:        append([]string(nil), f.Choices...),
		InlineKeyboard: f.InlineKeyboard,
		MultiSelect:    f.MultiSelect,
	}
}

func rejectPrompt(f schema.Field, msg string) *Prompt {
	p := fieldPrompt(f)
	p.Text += noteInvalidWarn + msg
	p.Rejected = msg
	return p
}

// introPrompt renders a group's intro with a summary of its records and
// the add/redo/confirm buttons.
func (e *Engine) introPrompt(g *schema.Group, p *profile.Profile, note string) *Prompt {
	recs := p.Records(g.ID)

	text := g.Intro.Question
	if summary := RecordSummary(g, recs); summary != "" {
		text += "\n\n<b>Вы ответили:</b>\n" + summary
	}
	text += note

	buttons := []string{ButtonAdd}
	if len(recs) > 0 {
		buttons = []string{ButtonRedo, ButtonAdd, ButtonConfirm}
	}

	return &Prompt{
		Field:          g.Intro.Name,
		Group:          g.ID,
		Text:           text,
		Buttons:        buttons,
		InlineKeyboard: true,
	}
}

// RecordSummary lists the filled fields of each record, numbered, with
// member labels.
func RecordSummary(g *schema.Group, recs []profile.Record) string {
	var blocks []string
	n := 0
	for _, r := range recs {
		var lines []string
		for _, m := range g.Members {
			v := r.Fields[m.Name]
			if profile.IsEmpty(v) {
				continue
			}
			lines = append(lines, fmt.Sprintf("   • <b>%s</b>: %v", m.DisplayLabel(), v))
		}
		if len(lines) == 0 {
			continue
		}
		n++
		blocks = append(blocks, fmt.Sprintf("%d.\n%s", n, strings.Join(lines, "\n")))
	}
	return strings.Join(blocks, "\n")
}
