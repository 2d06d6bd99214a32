// Package interview is the application layer that both interview engines
// share. It loads and persists a subject's profile and session around
// every operation, serializes operations per subject, records the turn
// history, and publishes lifecycle events.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/resume-interviewer/internal/agent"
	"github.com/nugget/resume-interviewer/internal/cv"
	"github.com/nugget/resume-interviewer/internal/dialog"
	"github.com/nugget/resume-interviewer/internal/events"
	"github.com/nugget/resume-interviewer/internal/llm"
	"github.com/nugget/resume-interviewer/internal/profile"
	"github.com/nugget/resume-interviewer/internal/schema"
	"github.com/nugget/resume-interviewer/internal/store"
)

// DefaultCarryOver lists the scalars a reset copies into the new
// profile.
var DefaultCarryOver = []string{"first_name", "last_name", "work_status", "birth_date", "phone"}

// Status of an interview step.
type Status string

const (
	StatusQuestion  Status = "question"
	StatusCompleted Status = "completed"
)

// CV states.
const (
	CVNotStarted = "not_started"
	CVIncomplete = "incomplete"
	CVCompleted  = "completed"
)

// Reply is the outcome of a deterministic interview step: either the next
// question or the finished resume.
type Reply struct {
	Status    Status         `json:"status"`
	ProfileID string         `json:"profile_id"`
	SessionID string         `json:"session_id,omitempty"`
	Prompt    *dialog.Prompt `json:"question,omitempty"`
	CV        string         `json:"cv_markdown,omitempty"`
}

// CVView is a rendered resume together with the profile it came from.
type CVView struct {
	Status    string           `json:"status"`
	ProfileID string           `json:"profile_id,omitempty"`
	Markdown  string           `json:"cv_markdown"`
	Profile   *profile.Profile `json:"-"`
}

// Agent runs one free-form conversational turn.
type Agent interface {
	Run(ctx context.Context, turn *agent.Turn) (*agent.Result, error)
}

// SchemaSource supplies the current schema.
type SchemaSource interface {
	Schema() *schema.Schema
}

// Config tunes the service.
type Config struct {
	// HistoryLimit is how many past turns the agent replays.
	HistoryLimit int
	// PreciseModel runs document extraction.
	PreciseModel string
	// CarryOver lists the scalars copied into a new profile on reset.
	CarryOver []string
}

// Service coordinates the store, the dialog engine and the agent graph.
// Operations on the same subject run one at a time; different subjects
// proceed in parallel.
type Service struct {
	store  *store.Store
	source SchemaSource
	dialog *dialog.Engine
	agent  Agent
	client llm.Client
	bus    *events.Bus
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*subjectLock
}

// New creates a Service. client is used for document extraction and may
// be nil when extraction is not needed.
func New(st *store.Store, source SchemaSource, engine *dialog.Engine, ag Agent, client llm.Client, bus *events.Bus, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.CarryOver == nil {
		cfg.CarryOver = DefaultCarryOver
	}
	return &Service{
		store:  st,
		source: source,
		dialog: engine,
		agent:  ag,
		client: client,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With("component", "interview"),
		locks:  make(map[string]*subjectLock),
	}
}

// subjectLock serializes one subject's operations. refs counts holders
// and waiters; the entry is dropped when it reaches zero.
type subjectLock struct {
	ch   chan struct{}
	refs int
}

// acquire takes the subject's lock, waiting until it is free or ctx is
// done.
func (s *Service) acquire(ctx context.Context, subject string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[subject]
	if !ok {
		l = &subjectLock{ch: make(chan struct{}, 1)}
		s.locks[subject] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			s.unref(subject, l)
		}, nil
	case <-ctx.Done():
		s.unref(subject, l)
		return nil, fmt.Errorf("wait for subject %s: %w", subject, ctx.Err())
	}
}

func (s *Service) unref(subject string, l *subjectLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, subject)
	}
}

func (s *Service) schema() (*schema.Schema, error) {
	if s.source == nil {
		return nil, dialog.ErrNoSchema
	}
	sch := s.source.Schema()
	if sch == nil {
		return nil, dialog.ErrNoSchema
	}
	return sch, nil
}

// live returns the subject's active profile and its session, creating
// either when missing.
func (s *Service) live(subject string) (*profile.Profile, *profile.Session, error) {
	p, err := s.store.ActiveProfile(subject)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p, err = s.store.CreateProfile(subject, nil)
		if err != nil {
			return nil, nil, err
		}
		s.logger.Info("profile created", "subject", subject, "profile", p.ID)
	case err != nil:
		return nil, nil, err
	}

	sess, err := s.store.ActiveSession(subject)
	switch {
	case err == nil && sess.ProfileID == p.ID:
		return p, sess, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, nil, err
	}

	sess, err = s.session(subject, p)
	if err != nil {
		return nil, nil, err
	}
	return p, sess, nil
}

func (s *Service) session(subject string, p *profile.Profile) (*profile.Session, error) {
	sess, err := s.store.SessionForProfile(p.ID)
	if errors.Is(err, store.ErrNotFound) {
		return s.store.CreateSession(subject, p)
	}
	return sess, err
}

// persist saves the profile and then the session.
func (s *Service) persist(p *profile.Profile, sess *profile.Session) error {
	if err := s.store.SaveProfile(p); err != nil {
		return err
	}
	return s.store.SaveSession(sess)
}

// Start returns the subject's current question, opening a profile when
// the subject has none. A subject whose latest profile is complete gets
// the finished resume instead.
func (s *Service) Start(ctx context.Context, subject string) (*Reply, error) {
	release, err := s.acquire(ctx, subject)
	if err != nil {
		return nil, err
	}
	defer release()

	sch, err := s.schema()
	if err != nil {
		return nil, err
	}

	latest, err := s.store.LatestProfile(subject)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if latest != nil && latest.Completed() {
		return s.completedReply(sch, latest, ""), nil
	}

	p, sess, err := s.live(subject)
	if err != nil {
		return nil, err
	}
	return s.ask(sch, sess, p.Clone())
}

// ask fetches the next prompt for a working copy of the profile, persists
// both documents, and completes the interview when nothing is left.
func (s *Service) ask(sch *schema.Schema, sess *profile.Session, p *profile.Profile) (*Reply, error) {
	prompt, err := s.dialog.Next(sess, p)
	if err != nil {
		return nil, err
	}
	if prompt == nil && !p.Completed() {
		s.complete(p, sess)
	}
	if err := s.persist(p, sess); err != nil {
		return nil, err
	}
	if prompt == nil {
		return s.completedReply(sch, p, sess.ID), nil
	}
	s.bus.Emit(events.SourceDialog, events.KindQuestion, p.Subject, map[string]any{"field": prompt.Field})
	return &Reply{Status: StatusQuestion, ProfileID: p.ID, SessionID: sess.ID, Prompt: prompt}, nil
}

func (s *Service) complete(p *profile.Profile, sess *profile.Session) {
	p.Complete()
	sess.State = profile.StateCompleted
	s.logger.Info("profile completed", "subject", p.Subject, "profile", p.ID)
	s.bus.Emit(events.SourceInterview, events.KindProfileCompleted, p.Subject, map[string]any{"profile_id": p.ID})
}

func (s *Service) completedReply(sch *schema.Schema, p *profile.Profile, sessionID string) *Reply {
	return &Reply{
		Status:    StatusCompleted,
		ProfileID: p.ID,
		SessionID: sessionID,
		CV:        cv.Markdown(sch, p),
	}
}

// Answer records the subject's answer to field and returns the next step.
// A subject without an active profile gets store.ErrNotFound.
func (s *Service) Answer(ctx context.Context, subject, field, raw string) (*Reply, error) {
	release, err := s.acquire(ctx, subject)
	if err != nil {
		return nil, err
	}
	defer release()

	sch, err := s.schema()
	if err != nil {
		return nil, err
	}
	p, err := s.store.ActiveProfile(subject)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.SessionForProfile(p.ID)
	if err != nil {
		return nil, err
	}

	next := p.Clone()
	recordsBefore := make(map[string]int, len(next.Groups))
	for gid, recs := range next.Groups {
		recordsBefore[gid] = len(recs)
	}

	prompt, err := s.dialog.Answer(sess, next, field, raw)
	if err != nil {
		return nil, err
	}
	if err := s.persist(next, sess); err != nil {
		return nil, err
	}

	for gid, recs := range next.Groups {
		if len(recs) > recordsBefore[gid] {
			s.bus.Emit(events.SourceDialog, events.KindRecordAdded, subject, map[string]any{
				"group":     gid,
				"record_id": recs[len(recs)-1].ID,
			})
		}
	}
	s.recordTurns(sess.ID, raw, promptText(prompt))

	switch {
	case prompt == nil:
		s.logger.Info("profile completed", "subject", subject, "profile", next.ID)
		s.bus.Emit(events.SourceInterview, events.KindProfileCompleted, subject, map[string]any{"profile_id": next.ID})
		return s.completedReply(sch, next, sess.ID), nil
	case prompt.Rejected != "":
		s.bus.Emit(events.SourceDialog, events.KindAnswerRejected, subject, map[string]any{
			"field":   prompt.Field,
			"message": prompt.Rejected,
		})
	default:
		s.bus.Emit(events.SourceDialog, events.KindQuestion, subject, map[string]any{"field": prompt.Field})
	}
	return &Reply{Status: StatusQuestion, ProfileID: next.ID, SessionID: sess.ID, Prompt: prompt}, nil
}

func promptText(p *dialog.Prompt) string {
	if p == nil {
		return ""
	}
	return p.Text
}

// recordTurns appends an exchange to the session history. Failures are
// logged; the answer itself is already saved.
func (s *Service) recordTurns(sessionID, human, assistant string) {
	if human != "" {
		if err := s.store.AppendTurn(sessionID, profile.RoleHuman, human); err != nil {
			s.logger.Warn("turn not recorded", "session", sessionID, "error", err)
		}
	}
	if assistant != "" {
		if err := s.store.AppendTurn(sessionID, profile.RoleAssistant, assistant); err != nil {
			s.logger.Warn("turn not recorded", "session", sessionID, "error", err)
		}
	}
}

// Reset archives every live profile and session of the subject and
// starts a fresh profile seeded with the carried-over contact fields of
// the newest one.
func (s *Service) Reset(ctx context.Context, subject string) (*Reply, error) {
	release, err := s.acquire(ctx, subject)
	if err != nil {
		return nil, err
	}
	defer release()

	sch, err := s.schema()
	if err != nil {
		return nil, err
	}

	all, err := s.store.Profiles(subject)
	if err != nil {
		return nil, err
	}
	seed := make(map[string]any)
	var archived []string
	for _, p := range all {
		if p.Archived {
			continue
		}
		if len(archived) == 0 {
			for _, name := range s.cfg.CarryOver {
				if v, ok := p.Scalar(name); ok {
					seed[name] = v
				}
			}
		}
		if err := s.store.ArchiveProfile(p); err != nil {
			return nil, err
		}
		archived = append(archived, p.ID)
	}
	if err := s.store.ArchiveSessions(subject); err != nil {
		return nil, err
	}

	p, err := s.store.CreateProfile(subject, seed)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.CreateSession(subject, p)
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile reset",
		"subject", subject,
		"profile", p.ID,
		"archived", len(archived),
		"carried", len(seed),
	)
	s.bus.Emit(events.SourceInterview, events.KindProfileReset, subject, map[string]any{
		"archived_profile_ids": archived,
		"profile_id":           p.ID,
	})
	return s.ask(sch, sess, p.Clone())
}

// Continue resumes a specific live profile of the subject, returning its
// next question. Profiles of other subjects and archived profiles are
// reported as not found.
func (s *Service) Continue(ctx context.Context, subject, profileID string) (*Reply, error) {
	release, err := s.acquire(ctx, subject)
	if err != nil {
		return nil, err
	}
	defer release()

	sch, err := s.schema()
	if err != nil {
		return nil, err
	}
	p, err := s.store.Profile(profileID)
	if err != nil {
		return nil, err
	}
	if p.Subject != subject || p.Archived {
		return nil, fmt.Errorf("profile %s for %s: %w", profileID, subject, store.ErrNotFound)
	}
	sess, err := s.session(subject, p)
	if err != nil {
		return nil, err
	}
	if p.Completed() {
		return s.completedReply(sch, p, sess.ID), nil
	}
	return s.ask(sch, sess, p.Clone())
}

// CV renders the subject's latest live profile.
func (s *Service) CV(ctx context.Context, subject string) (*CVView, error) {
	release, err := s.acquire(ctx, subject)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.store.LatestProfile(subject)
	if errors.Is(err, store.ErrNotFound) {
		return &CVView{Status: CVNotStarted, Markdown: cv.NotStarted}, nil
	}
	if err != nil {
		return nil, err
	}

	status := CVIncomplete
	if p.Completed() {
		status = CVCompleted
	}
	return &CVView{
		Status:    status,
		ProfileID: p.ID,
		Markdown:  cv.Markdown(s.source.Schema(), p),
		Profile:   p,
	}, nil
}
