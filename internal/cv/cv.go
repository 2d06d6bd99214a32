// Package cv renders a profile as a readable resume and exports it as
// HTML, a vCard contact, a QR code, or a complete email message.
package cv

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nugget/resume-interviewer/internal/dialog"
	"github.com/nugget/resume-interviewer/internal/profile"
	"github.com/nugget/resume-interviewer/internal/schema"
)

// NotStarted is shown when a subject has no profile yet.
const NotStarted = "Резюме ещё не начинали заполнять."

const header = "📄 <b>Ваше резюме</b>\n"

// confirmSuffix marks legacy group-confirmation flags stored as scalars.
const confirmSuffix = "_ok"

type entry struct {
	priority int
	name     string
	label    string
	value    any
}

// Markdown renders the profile in the chat client's markup: filled
// scalars ordered by catalog priority, then one block per group with
// records. Fields the catalog no longer knows are listed last under
// their raw names.
func Markdown(s *schema.Schema, p *profile.Profile) string {
	lines := []string{header}

	var entries []entry
	for name, v := range p.Scalars {
		if strings.HasSuffix(name, confirmSuffix) || profile.IsEmpty(v) || isList(v) {
			continue
		}
		e := entry{priority: math.MaxInt, name: name, label: name, value: v}
		if s != nil {
			if f, ok := s.Field(name); ok {
				e.priority = f.Priority
				e.label = f.DisplayLabel()
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].name < entries[j].name
	})
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("• <b>%s</b>: «%v»", e.label, e.value))
	}

	if s != nil {
		for _, n := range s.Nodes() {
			if n.Group == nil {
				continue
			}
			summary := dialog.RecordSummary(n.Group, p.Records(n.Group.ID))
			if strings.TrimSpace(summary) == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("\n• <b>%s:</b>", n.Group.Label()), summary)
		}
	}

	return strings.Join(lines, "\n")
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []map[string]any:
		return true
	}
	return false
}
