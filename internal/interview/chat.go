package interview

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nugget/resume-interviewer/internal/agent"
	"github.com/nugget/resume-interviewer/internal/llm"
	"github.com/nugget/resume-interviewer/internal/profile"
	"github.com/nugget/resume-interviewer/internal/schema"
	"github.com/nugget/resume-interviewer/internal/selector"
	"github.com/nugget/resume-interviewer/internal/store"
	"github.com/nugget/resume-interviewer/internal/tools"
)

// ChatReply is the outcome of a conversational turn.
type ChatReply struct {
	Reply     string `json:"reply"`
	ProfileID string `json:"profile_id"`
	Flagged   bool   `json:"flagged,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// turnTarget is the profile a chat turn mutates. Tools commit through
// it, and the prompts read the latest committed state from it.
type turnTarget struct {
	store  *store.Store
	schema *schema.Schema
	p      *profile.Profile
}

func (t *turnTarget) Profile() *profile.Profile { return t.p }

func (t *turnTarget) Commit(_ context.Context, next *profile.Profile) error {
	if err := t.store.SaveProfile(next); err != nil {
		return err
	}
	t.p = next
	return nil
}

// profileView is the profile as the model sees it.
type profileView struct {
	Fields   map[string]any              `json:"fields"`
	Lists    map[string][]profile.Record `json:"lists"`
	Insights []string                    `json:"insights"`
}

func (t *turnTarget) Documents() (string, string, error) {
	sch, err := json.MarshalIndent(t.schema.Descriptor(), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode schema: %w", err)
	}
	view := profileView{Fields: t.p.Scalars, Lists: t.p.Groups, Insights: t.p.Insights}
	if view.Insights == nil {
		view.Insights = []string{}
	}
	doc, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode profile: %w", err)
	}
	return string(sch), string(doc), nil
}

// Chat runs one conversational turn for the subject. Tool writes are
// saved as they happen; the exchange is appended to the history unless
// the safety screen refused it. When the turn leaves nothing unanswered
// the profile is completed.
func (s *Service) Chat(ctx context.Context, subject, message string) (*ChatReply, error) {
	release, err := s.acquire(ctx, subject)
	if err != nil {
		return nil, err
	}
	defer release()

	sch, err := s.schema()
	if err != nil {
		return nil, err
	}
	p, sess, err := s.live(subject)
	if err != nil {
		return nil, err
	}

	turns, err := s.store.RecentTurns(sess.ID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	target := &turnTarget{store: s.store, schema: sch, p: p}
	res, err := s.agent.Run(tools.WithTarget(ctx, target), &agent.Turn{
		ID:      uuid.NewString(),
		Subject: subject,
		Message: message,
		History: historyMessages(turns),
		Docs:    target,
	})
	if err != nil {
		return nil, err
	}

	if !res.Flagged {
		s.recordTurns(sess.ID, message, res.Reply)
	}

	reply := &ChatReply{Reply: res.Reply, ProfileID: target.p.ID, Flagged: res.Flagged}
	if !target.p.Completed() && selector.Remaining(sch, target.p) == 0 {
		done := target.p.Clone()
		s.complete(done, sess)
		if err := s.persist(done, sess); err != nil {
			return nil, err
		}
		reply.Completed = true
	}
	return reply, nil
}

func historyMessages(turns []profile.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == profile.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return msgs
}
