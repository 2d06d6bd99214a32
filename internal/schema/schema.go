// Package schema models the question catalog that drives an interview.
//
// A [Schema] is an ordered set of [Field] values. Fields sharing a
// GroupID form a [Group]: a repeatable record whose members are asked in
// priority order. Schemas are immutable once built and safe to share
// between goroutines; a [Source] swaps in a fresh one when the catalog
// file changes.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// IntroSuffix marks the entry question of a group. The intro asks the
// subject whether to add, redo, or confirm the group's records.
const IntroSuffix = "_intro"

// Placeholder question texts. Fields carrying them are never asked.
const (
	placeholderEmpty = ""
	placeholderDash  = "-"
)

// ErrEmpty is returned when a catalog yields no fields.
var ErrEmpty = errors.New("schema has no fields")

// Field is one row of the question catalog.
type Field struct {
	Name           string   `yaml:"field_name" json:"field_name"`
	Label          string   `yaml:"label" json:"label,omitempty"`
	Priority       int      `yaml:"priority" json:"priority"`
	Question       string   `yaml:"template" json:"template"`
	Choices        []string `yaml:"buttons" json:"buttons,omitempty"`
	InlineKeyboard bool     `yaml:"inline_kb" json:"inline_kb,omitempty"`
	MultiSelect    bool     `yaml:"multi_select" json:"multi_select,omitempty"`
	Destination    string   `yaml:"destination" json:"destination,omitempty"`
	GroupID        string   `yaml:"group_id" json:"group_id,omitempty"`
	IsLast         bool     `yaml:"is_last" json:"is_last,omitempty"`
}

// IsIntro reports whether f is the entry question of its group.
func (f Field) IsIntro() bool {
	return f.GroupID != "" && strings.HasSuffix(f.Name, IntroSuffix)
}

// Askable reports whether the question text is a real prompt rather
// than a placeholder.
func (f Field) Askable() bool {
	q := strings.TrimSpace(f.Question)
	return q != placeholderEmpty && q != placeholderDash
}

// DisplayLabel returns the label, falling back to the field name.
func (f Field) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// Group is a repeatable record. Members are sorted by priority with
// catalog order breaking ties.
type Group struct {
	ID      string
	Intro   *Field
	Members []Field
}

// Priority is the lowest priority among all of the group's fields,
// including the intro.
func (g *Group) Priority() int {
	p := int(^uint(0) >> 1)
	if g.Intro != nil {
		p = g.Intro.Priority
	}
	for _, m := range g.Members {
		if m.Priority < p {
			p = m.Priority
		}
	}
	return p
}

// First returns the lowest-priority field of the group, intro included.
func (g *Group) First() Field {
	if g.Intro != nil && (len(g.Members) == 0 || g.Intro.Priority <= g.Members[0].Priority) {
		return *g.Intro
	}
	return g.Members[0]
}

// Member returns the named record member.
func (g *Group) Member(name string) (Field, bool) {
	for _, m := range g.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Field{}, false
}

// MemberAfter returns the first member ordered after the named one, or
// false when name is the last member.
func (g *Group) MemberAfter(name string) (Field, bool) {
	for i, m := range g.Members {
		if m.Name == name {
			if i+1 < len(g.Members) {
				return g.Members[i+1], true
			}
			return Field{}, false
		}
	}
	return Field{}, false
}

// Label is the human-readable name of the group.
func (g *Group) Label() string {
	if g.Intro != nil && g.Intro.Label != "" {
		return g.Intro.Label
	}
	return g.ID
}

// Node is one top-level entry of the schema: either a scalar field or a
// group.
type Node struct {
	Field *Field
	Group *Group
	order int
}

// Priority of the node; groups use their minimum member priority.
func (n Node) Priority() int {
	if n.Group != nil {
		return n.Group.Priority()
	}
	return n.Field.Priority
}

// Schema is an immutable, priority-ordered field catalog.
type Schema struct {
	fields []Field
	byName map[string]int
	groups map[string]*Group
	nodes  []Node
}

// New builds a schema from catalog rows. Field names must be unique
// across the catalog.
func New(fields []Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, ErrEmpty
	}

	s := &Schema{
		fields: make([]Field, len(fields)),
		byName: make(map[string]int, len(fields)),
		groups: make(map[string]*Group),
	}
	copy(s.fields, fields)
	sort.SliceStable(s.fields, func(i, j int) bool {
		return s.fields[i].Priority < s.fields[j].Priority
	})

	for i, f := range s.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("catalog row %d: field_name is empty", i+1)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		s.byName[f.Name] = i
	}

	// Catalog position keeps ties stable when nodes are sorted below.
	position := make(map[string]int, len(fields))
	for i, f := range fields {
		position[f.Name] = i
	}

	for i := range s.fields {
		f := s.fields[i]
		if f.GroupID == "" {
			s.nodes = append(s.nodes, Node{Field: &s.fields[i], order: position[f.Name]})
			continue
		}
		if _, clash := s.byName[f.GroupID]; clash {
			return nil, fmt.Errorf("group %q collides with a field name", f.GroupID)
		}
		g, ok := s.groups[f.GroupID]
		if !ok {
			g = &Group{ID: f.GroupID}
			s.groups[f.GroupID] = g
			s.nodes = append(s.nodes, Node{Group: g, order: position[f.Name]})
		}
		if f.IsIntro() {
			if g.Intro != nil {
				return nil, fmt.Errorf("group %q has more than one intro field", f.GroupID)
			}
			g.Intro = &s.fields[i]
			continue
		}
		g.Members = append(g.Members, f)
	}

	for id, g := range s.groups {
		if len(g.Members) == 0 {
			return nil, fmt.Errorf("group %q has no member fields", id)
		}
	}

	sort.SliceStable(s.nodes, func(i, j int) bool {
		pi, pj := s.nodes[i].Priority(), s.nodes[j].Priority()
		if pi != pj {
			return pi < pj
		}
		return s.nodes[i].order < s.nodes[j].order
	})

	return s, nil
}

// Fields returns all fields in priority order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Group looks up a group by ID.
func (s *Schema) Group(id string) (*Group, bool) {
	g, ok := s.groups[id]
	return g, ok
}

// GroupIDs returns the group IDs in priority order.
func (s *Schema) GroupIDs() []string {
	var ids []string
	for _, n := range s.nodes {
		if n.Group != nil {
			ids = append(ids, n.Group.ID)
		}
	}
	return ids
}

// Nodes returns the top-level scalars and groups in priority order.
func (s *Schema) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}
