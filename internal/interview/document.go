package interview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nugget/resume-interviewer/internal/agent"
	"github.com/nugget/resume-interviewer/internal/events"
	"github.com/nugget/resume-interviewer/internal/llm"
	"github.com/nugget/resume-interviewer/internal/prompts"
	"github.com/nugget/resume-interviewer/internal/schema"
	"github.com/nugget/resume-interviewer/internal/selector"
	"github.com/nugget/resume-interviewer/internal/validate"
)

// DocumentMarker is stored in the opt-out field once a document has been
// merged, so the upload question is not asked again.
const DocumentMarker = "Загружен PDF"

// maxDocumentChars bounds the text sent for extraction.
const maxDocumentChars = 60000

// ErrEmptyDocument is returned for a document with no text.
var ErrEmptyDocument = errors.New("empty document")

// MergeExtracted folds data extracted from an uploaded document into the
// subject's active profile. Lists are appended and empty scalars filled;
// answered scalars are kept. Keys outside the catalog and values that
// fail field validation are dropped before merging. The reply is the finished resume when the
// merge leaves nothing to ask, otherwise the next question.
func (s *Service) MergeExtracted(ctx context.Context, subject string, extracted map[string]any) (*Reply, error) {
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

	extracted, dropped := admissible(sch, extracted)
	if len(dropped) > 0 {
		s.logger.Warn("extracted values dropped", "subject", subject, "keys", dropped)
	}

	next := p.Clone()
	written := next.Merge(extracted, groupMembers(sch))
	if next.ScalarString(selector.OptOutField) == "" {
		next.SetScalar(selector.OptOutField, DocumentMarker)
	}

	s.logger.Info("document merged", "subject", subject, "profile", next.ID, "written", written)
	s.bus.Emit(events.SourceInterview, events.KindDocumentMerged, subject, map[string]any{
		"profile_id": next.ID,
		"fields":     written,
	})

	if selector.Remaining(sch, next) == 0 {
		s.complete(next, sess)
		if err := s.persist(next, sess); err != nil {
			return nil, err
		}
		return s.completedReply(sch, next, sess.ID), nil
	}
	return s.ask(sch, sess, next)
}

// ExtractDocument asks the precise model to pull resume data out of
// free text, such as a parsed PDF or a voice transcript, and merges the
// result into the subject's profile.
func (s *Service) ExtractDocument(ctx context.Context, subject, text string) (*Reply, error) {
	if s.client == nil {
		return nil, fmt.Errorf("%w: no model configured for extraction", agent.ErrUpstream)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyDocument
	}
	if r := []rune(text); len(r) > maxDocumentChars {
		text = string(r[:maxDocumentChars])
	}

	sch, err := s.schema()
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Chat(ctx, &llm.Request{
		Model: s.cfg.PreciseModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.ExtractionPrompt(fieldCatalog(sch))},
			{Role: llm.RoleUser, Content: text},
		},
		Temperature:    llm.Temperature(0),
		ResponseSchema: sch.ExtractionSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: extract: %w", agent.ErrUpstream, err)
	}

	var data map[string]any
	if err := resp.DecodeStructured(&data); err != nil {
		return nil, fmt.Errorf("%w: extract: %w", agent.ErrUpstream, err)
	}
	return s.MergeExtracted(ctx, subject, data)
}

// admissible keeps the extracted values that name catalog fields and
// pass validation. It returns the kept values and the sorted paths of
// everything dropped.
func admissible(sch *schema.Schema, extracted map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(extracted))
	var dropped []string
	for key, val := range extracted {
		if g, ok := sch.Group(key); ok {
			if recs := admissibleRecords(g, val, &dropped); len(recs) > 0 {
				out[key] = recs
			}
			continue
		}
		f, ok := sch.Field(key)
		if !ok || f.GroupID != "" {
			dropped = append(dropped, key)
			continue
		}
		if valid, _ := validate.Validate(key, val); !valid {
			dropped = append(dropped, key)
			continue
		}
		out[key] = val
	}
	sort.Strings(dropped)
	return out, dropped
}

// admissibleRecords filters a group value down to member fields with
// valid values. Plain items stand for the group's first member.
func admissibleRecords(g *schema.Group, val any, dropped *[]string) []any {
	var items []any
	switch t := val.(type) {
	case []any:
		items = t
	case []string:
		for _, v := range t {
			items = append(items, v)
		}
	case []map[string]any:
		for _, m := range t {
			items = append(items, m)
		}
	default:
		items = []any{val}
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		m, isRecord := item.(map[string]any)
		if !isRecord {
			first := g.Members[0].Name
			if valid, _ := validate.Validate(first, item); !valid {
				*dropped = append(*dropped, g.ID+"."+first)
				continue
			}
			out = append(out, item)
			continue
		}
		rec := make(map[string]any, len(m))
		for k, v := range m {
			if _, member := g.Member(k); !member {
				*dropped = append(*dropped, g.ID+"."+k)
				continue
			}
			if valid, _ := validate.Validate(k, v); !valid {
				*dropped = append(*dropped, g.ID+"."+k)
				continue
			}
			rec[k] = v
		}
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

func groupMembers(sch *schema.Schema) func(string) ([]string, bool) {
	return func(id string) ([]string, bool) {
		g, ok := sch.Group(id)
		if !ok {
			return nil, false
		}
		names := make([]string, len(g.Members))
		for i, m := range g.Members {
			names[i] = m.Name
		}
		return names, true
	}
}

// fieldCatalog lists the schema as "name: question" lines for the
// extraction prompt, with group members indented under their group.
func fieldCatalog(sch *schema.Schema) string {
	var b strings.Builder
	for _, n := range sch.Nodes() {
		if n.Field != nil {
			fmt.Fprintf(&b, "- %s: %s\n", n.Field.Name, schema.PlainText(n.Field.Question))
			continue
		}
		fmt.Fprintf(&b, "- %s (список записей):\n", n.Group.ID)
		for _, m := range n.Group.Members {
			fmt.Fprintf(&b, "  - %s: %s\n", m.Name, schema.PlainText(m.Question))
		}
	}
	return b.String()
}
