// Package selector picks the next unanswered question for a profile.
//
// Selection is a pure function of the schema, the profile, and an
// optional group context: it never mutates either input. Candidates are
// collected across scalars and group records and the one with the
// lowest priority wins, with schema declaration order breaking ties.
package selector

import (
	"fmt"

	"github.com/nugget/resume-interviewer/internal/profile"
	"github.com/nugget/resume-interviewer/internal/schema"
)

// OptOutField and OptOutValue form the reserved flag that lets a subject
// decline to upload a resume document without that counting as an answer.
const (
	OptOutField = "resume_pdf"
	OptOutValue = "ignored"
)

// Candidate is an unanswered question.
type Candidate struct {
	// Path addresses the field: "name" for scalars, "group.name" for the
	// first field of an empty group, "group[id].name" inside a record.
	Path     string
	Field    schema.Field
	Group    string
	RecordID string
	Question string
	Priority int
}

// IsIntro reports whether the candidate is a group's intro question.
func (c *Candidate) IsIntro() bool {
	return c.Field.IsIntro()
}

// GroupContext carries session-level group state into selection.
type GroupContext struct {
	// Confirmed groups are finished and never produce candidates.
	Confirmed map[string]bool

	// AwaitConfirmation makes a group with records but no confirmation
	// yield its intro, so the subject can add another record or confirm.
	AwaitConfirmation bool
}

// Next returns the lowest-priority unanswered question, or false when
// every field is filled.
func Next(s *schema.Schema, p *profile.Profile) (*Candidate, bool) {
	return NextInContext(s, p, GroupContext{})
}

// NextInContext is Next with session group state applied.
func NextInContext(s *schema.Schema, p *profile.Profile, gc GroupContext) (*Candidate, bool) {
	var best *Candidate
	offer := func(c Candidate) {
		if best == nil || c.Priority < best.Priority {
			cc := c
			best = &cc
		}
	}

	optedOut := p.ScalarString(OptOutField) == OptOutValue

	for _, n := range s.Nodes() {
		if n.Field != nil {
			f := *n.Field
			if f.Name == OptOutField && optedOut {
				continue
			}
			if _, filled := p.Scalar(f.Name); filled || !f.Askable() {
				continue
			}
			offer(Candidate{Path: f.Name, Field: f, Question: f.Question, Priority: f.Priority})
			continue
		}

		g := n.Group
		if gc.Confirmed[g.ID] {
			continue
		}

		records := p.Records(g.ID)
		if len(records) == 0 {
			f := g.First()
			offer(Candidate{
				Path:     g.ID + "." + f.Name,
				Field:    f,
				Group:    g.ID,
				Question: f.Question,
				Priority: f.Priority,
			})
			continue
		}

		if gc.AwaitConfirmation && g.Intro != nil {
			offer(Candidate{
				Path:     g.ID + "." + g.Intro.Name,
				Field:    *g.Intro,
				Group:    g.ID,
				Question: g.Intro.Question,
				Priority: g.Priority(),
			})
			continue
		}

		for _, rec := range records {
			for _, m := range g.Members {
				if !profile.IsEmpty(rec.Fields[m.Name]) || !m.Askable() {
					continue
				}
				offer(Candidate{
					Path:     fmt.Sprintf("%s[%s].%s", g.ID, rec.ID, m.Name),
					Field:    m,
					Group:    g.ID,
					RecordID: rec.ID,
					Question: m.Question,
					Priority: m.Priority,
				})
			}
		}
	}

	return best, best != nil
}

// Remaining counts unanswered questions, each group record member
// counted once.
func Remaining(s *schema.Schema, p *profile.Profile) int {
	count := 0
	for _, n := range s.Nodes() {
		if n.Field != nil {
			f := n.Field
			if f.Name == OptOutField && p.ScalarString(OptOutField) == OptOutValue {
				continue
			}
			if _, filled := p.Scalar(f.Name); !filled && f.Askable() {
				count++
			}
			continue
		}
		records := p.Records(n.Group.ID)
		if len(records) == 0 {
			count++
			continue
		}
		for _, rec := range records {
			for _, m := range n.Group.Members {
				if profile.IsEmpty(rec.Fields[m.Name]) && m.Askable() {
					count++
				}
			}
		}
	}
	return count
}
