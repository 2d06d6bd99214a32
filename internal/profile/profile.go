// Package profile holds the document an interview fills: scalar answers,
// repeatable group records, and free-text insights. Values are
// runtime-typed so the question catalog can change without a redeploy;
// validation happens at the point of write, not here.
package profile

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status of a profile.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusCompleted  Status = "completed"
)

// ErrRecordNotFound is returned when a record ID does not exist in the
// named group.
var ErrRecordNotFound = errors.New("record not found")

// recordIDLen is the length of a record's short identifier.
const recordIDLen = 5

// Record is one instance of a repeatable group.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Profile is one subject's resume document.
type Profile struct {
	ID        string              `json:"id"`
	Subject   string              `json:"subject"`
	Scalars   map[string]any      `json:"scalars"`
	Groups    map[string][]Record `json:"groups"`
	Insights  []string            `json:"insights"`
	Confirmed map[string]bool     `json:"confirmed,omitempty"`
	IssuedIDs []string            `json:"issued_ids,omitempty"`
	Status    Status              `json:"status"`
	Archived  bool                `json:"archived"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// New creates an empty, incomplete profile for subject.
func New(subject string) *Profile {
	now := time.Now().UTC()
	return &Profile{
		ID:        newID(),
		Subject:   subject,
		Scalars:   make(map[string]any),
		Groups:    make(map[string][]Record),
		Confirmed: make(map[string]bool),
		Status:    StatusIncomplete,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// ensure initialises nil maps left by JSON decoding of older rows.
func (p *Profile) ensure() {
	if p.Scalars == nil {
		p.Scalars = make(map[string]any)
	}
	if p.Groups == nil {
		p.Groups = make(map[string][]Record)
	}
	if p.Confirmed == nil {
		p.Confirmed = make(map[string]bool)
	}
}

// IsEmpty reports whether v counts as unanswered: nil, a blank string,
// or an empty slice or map.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Scalar returns a scalar value and whether it is filled.
func (p *Profile) Scalar(name string) (any, bool) {
	v, ok := p.Scalars[name]
	return v, ok && !IsEmpty(v)
}

// ScalarString returns a scalar rendered as text, or "" when unset.
func (p *Profile) ScalarString(name string) string {
	v, ok := p.Scalar(name)
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// SetScalar writes a scalar value.
func (p *Profile) SetScalar(name string, value any) {
	p.ensure()
	p.Scalars[name] = value
	p.touch()
}

// Records returns the records of a group in list order.
func (p *Profile) Records(group string) []Record {
	return p.Groups[group]
}

// issueID returns a short identifier never handed out before in this
// profile.
func (p *Profile) issueID() string {
	issued := make(map[string]bool, len(p.IssuedIDs))
	for _, id := range p.IssuedIDs {
		issued[id] = true
	}
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:recordIDLen]
		if !issued[id] {
			p.IssuedIDs = append(p.IssuedIDs, id)
			return id
		}
	}
}

// AppendRecord adds a record at the end of the group's list. The dialog
// engine uses this so records appear in the order they were dictated.
func (p *Profile) AppendRecord(group string, fields map[string]any) Record {
	p.ensure()
	rec := Record{ID: p.issueID(), Fields: copyFields(fields)}
	p.Groups[group] = append(p.Groups[group], rec)
	p.touch()
	return rec
}

// PrependRecord adds a record at the head of the group's list so the
// newest entry renders first.
func (p *Profile) PrependRecord(group string, fields map[string]any) Record {
	p.ensure()
	rec := Record{ID: p.issueID(), Fields: copyFields(fields)}
	p.Groups[group] = append([]Record{rec}, p.Groups[group]...)
	p.touch()
	return rec
}

// UpdateRecord overwrites one field of a record.
func (p *Profile) UpdateRecord(group, id, field string, value any) error {
	recs := p.Groups[group]
	for i := range recs {
		if recs[i].ID == id {
			if recs[i].Fields == nil {
				recs[i].Fields = make(map[string]any)
			}
			recs[i].Fields[field] = value
			p.touch()
			return nil
		}
	}
	return fmt.Errorf("%s/%s: %w", group, id, ErrRecordNotFound)
}

// RemoveRecord deletes a record. Its ID stays issued.
func (p *Profile) RemoveRecord(group, id string) error {
	recs := p.Groups[group]
	for i := range recs {
		if recs[i].ID == id {
			p.Groups[group] = append(recs[:i:i], recs[i+1:]...)
			p.touch()
			return nil
		}
	}
	return fmt.Errorf("%s/%s: %w", group, id, ErrRecordNotFound)
}

// ClearGroup drops every record of a group and its confirmation.
func (p *Profile) ClearGroup(group string) {
	p.ensure()
	delete(p.Groups, group)
	delete(p.Confirmed, group)
	p.touch()
}

// Confirm marks a group as finished by the subject.
func (p *Profile) Confirm(group string) {
	p.ensure()
	p.Confirmed[group] = true
	p.touch()
}

// IsConfirmed reports whether the subject finished a group.
func (p *Profile) IsConfirmed(group string) bool {
	return p.Confirmed[group]
}

// AddInsight appends a "description: insight" note.
func (p *Profile) AddInsight(description, insight string) {
	p.Insights = append(p.Insights, description+": "+insight)
	p.touch()
}

// Complete marks the profile finished.
func (p *Profile) Complete() {
	p.Status = StatusCompleted
	p.touch()
}

// Completed reports whether the profile is finished.
func (p *Profile) Completed() bool {
	return p.Status == StatusCompleted
}

func (p *Profile) touch() {
	p.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy. Tools mutate a clone and commit it only when
// the save succeeds.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Scalars = make(map[string]any, len(p.Scalars))
	for k, v := range p.Scalars {
		c.Scalars[k] = cloneValue(v)
	}
	c.Groups = make(map[string][]Record, len(p.Groups))
	for g, recs := range p.Groups {
		cp := make([]Record, len(recs))
		for i, r := range recs {
			cp[i] = Record{ID: r.ID, Fields: copyFields(r.Fields)}
		}
		c.Groups[g] = cp
	}
	c.Insights = append([]string(nil), p.Insights...)
	c.IssuedIDs = append([]string(nil), p.IssuedIDs...)
	c.Confirmed = make(map[string]bool, len(p.Confirmed))
	for k, v := range p.Confirmed {
		c.Confirmed[k] = v
	}
	return &c
}

func copyFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]any:
		return copyFields(t)
	}
	return v
}
