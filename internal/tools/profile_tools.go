package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/resume-interviewer/internal/profile"
	"github.com/nugget/resume-interviewer/internal/schema"
	"github.com/nugget/resume-interviewer/internal/validate"
)

// Target is the profile a turn works on. Tools mutate a clone of
// Profile() and hand it to Commit; the change becomes visible only when
// Commit succeeds, so a failed save leaves the profile untouched.
type Target interface {
	Profile() *profile.Profile
	Commit(ctx context.Context, next *profile.Profile) error
}

// SchemaSource supplies the current schema.
type SchemaSource interface {
	Schema() *schema.Schema
}

// Profile tool names.
const (
	ToolUpdateField   = "update_resume_field"
	ToolCreateItem    = "create_list_item"
	ToolUpdateItem    = "update_list_item"
	ToolRemoveItem    = "remove_list_item"
	ToolSaveInsight   = "save_interview_insight"
	maxInsightLength  = 2000
	maxArgumentLength = 4000
)

type profileTools struct {
	source SchemaSource
}

// RegisterProfileTools adds the profile-mutating tools to r.
func RegisterProfileTools(r *Registry, source SchemaSource) {
	pt := &profileTools{source: source}

	r.Register(&Tool{
		Name:        ToolUpdateField,
		Description: "Save the subject's answer to a single (non-list) resume field. Call this as soon as the subject states a value.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"field_name": map[string]any{
					"type":        "string",
					"description": "Field name from the resume schema",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "Value to store",
				},
			},
			"required": []string{"field_name", "value"},
		},
		Handler: pt.handleUpdateField,
	})

	r.Register(&Tool{
		Name:        ToolCreateItem,
		Description: "Add a new record to a repeatable list (for example one job in work experience). Returns the new record's entry_id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"list_name": map[string]any{
					"type":        "string",
					"description": "Name of the list from the resume schema",
				},
				"item_fields": map[string]any{
					"type":        "object",
					"description": "Field name to value map for the record. May be omitted to create a blank record and fill it with update_list_item.",
				},
			},
			"required": []string{"list_name"},
		},
		Handler: pt.handleCreateItem,
	})

	r.Register(&Tool{
		Name:        ToolUpdateItem,
		Description: "Change one field of an existing list record identified by entry_id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"list_name":  map[string]any{"type": "string", "description": "Name of the list"},
				"entry_id":   map[string]any{"type": "string", "description": "Record ID returned by create_list_item"},
				"field_name": map[string]any{"type": "string", "description": "Field of the record to change"},
				"value":      map[string]any{"type": "string", "description": "New value"},
			},
			"required": []string{"list_name", "entry_id", "field_name", "value"},
		},
		Handler: pt.handleUpdateItem,
	})

	r.Register(&Tool{
		Name:        ToolRemoveItem,
		Description: "Delete a list record identified by entry_id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"list_name": map[string]any{"type": "string", "description": "Name of the list"},
				"entry_id":  map[string]any{"type": "string", "description": "Record ID to delete"},
			},
			"required": []string{"list_name", "entry_id"},
		},
		Handler: pt.handleRemoveItem,
	})

	r.Register(&Tool{
		Name: ToolSaveInsight,
		Description: "Record an observation about the subject that does not fit any resume field. " +
			"Never use this for information that belongs in a field or list.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{"type": "string", "description": "Short topic of the observation"},
				"insight":     map[string]any{"type": "string", "description": "The observation itself"},
			},
			"required": []string{"description", "insight"},
		},
		Handler: pt.handleSaveInsight,
	})
}

// mutate runs fn against a clone of the target profile and commits the
// clone when fn succeeds.
func (pt *profileTools) mutate(ctx context.Context, fn func(s *schema.Schema, p *profile.Profile) Result) (Result, error) {
	target := TargetFromContext(ctx)
	if target == nil {
		return Result{}, fmt.Errorf("no profile bound to context")
	}
	s := pt.source.Schema()
	if s == nil {
		return Result{}, schema.ErrEmpty
	}

	next := target.Profile().Clone()
	res := fn(s, next)
	if !res.OK() {
		return res, nil
	}
	if err := target.Commit(ctx, next); err != nil {
		return Result{}, fmt.Errorf("commit profile: %w", err)
	}
	return res, nil
}

func stringArg(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// valueArg returns a field value. Numbers pass through unchanged so the
// validators see their real type.
func valueArg(args map[string]any, name string) (any, bool) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString {
		s = strings.TrimSpace(s)
		s = truncate(s, maxArgumentLength)
		return s, s != ""
	}
	return v, true
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func requireArgs(args map[string]any, names ...string) (Result, bool) {
	for _, n := range names {
		if stringArg(args, n) == "" {
			return InvalidArgument(n, "argument %q is required", n), false
		}
	}
	return Result{}, true
}

func groupList(s *schema.Schema) string {
	return strings.Join(s.GroupIDs(), ", ")
}

func lookupGroup(s *schema.Schema, name string) (*schema.Group, Result, bool) {
	g, ok := s.Group(name)
	if !ok {
		return nil, InvalidArgument("list_name", "%q is not a list; valid lists: %s", name, groupList(s)), false
	}
	return g, Result{}, true
}

func memberList(g *schema.Group) string {
	names := make([]string, len(g.Members))
	for i, m := range g.Members {
		names[i] = m.Name
	}
	return strings.Join(names, ", ")
}

func (pt *profileTools) handleUpdateField(ctx context.Context, args map[string]any) (Result, error) {
	if res, ok := requireArgs(args, "field_name"); !ok {
		return res, nil
	}
	name := stringArg(args, "field_name")
	value, ok := valueArg(args, "value")
	if !ok {
		return InvalidArgument("value", "argument %q is required", "value"), nil
	}

	return pt.mutate(ctx, func(s *schema.Schema, p *profile.Profile) Result {
		f, known := s.Field(name)
		switch {
		case !known:
			if _, isGroup := s.Group(name); isGroup {
				return InvalidArgument("field_name", "%q is a list; use %s", name, ToolCreateItem)
			}
			return InvalidArgument("field_name", "unknown field %q", name)
		case f.GroupID != "":
			return InvalidArgument("field_name", "%q belongs to list %q; use %s or %s", name, f.GroupID, ToolCreateItem, ToolUpdateItem)
		}
		if ok, msg := validate.Validate(name, value); !ok {
			return Validation(name, msg)
		}
		p.SetScalar(name, value)
		return Success("field %s saved", name)
	})
}

// itemFields accepts item_fields as an object or as a JSON-encoded
// object, which some models send. A missing or empty value yields an
// empty map.
func itemFields(args map[string]any) (map[string]any, bool) {
	switch v := args["item_fields"].(type) {
	case nil:
		return map[string]any{}, true
	case map[string]any:
		return v, true
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, true
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, false
		}
		if m == nil {
			m = map[string]any{}
		}
		return m, true
	}
	return nil, false
}

func (pt *profileTools) handleCreateItem(ctx context.Context, args map[string]any) (Result, error) {
	if res, ok := requireArgs(args, "list_name"); !ok {
		return res, nil
	}
	list := stringArg(args, "list_name")
	fields, ok := itemFields(args)
	if !ok {
		return InvalidArgument("item_fields", "item_fields must be an object of field name to value"), nil
	}

	return pt.mutate(ctx, func(s *schema.Schema, p *profile.Profile) Result {
		g, res, ok := lookupGroup(s, list)
		if !ok {
			return res
		}
		for name, value := range fields {
			if _, member := g.Member(name); !member {
				return InvalidArgument(name, "%q is not a field of %s; valid fields: %s", name, list, memberList(g))
			}
			if ok, msg := validate.Validate(name, value); !ok {
				return Validation(name, msg)
			}
		}
		rec := p.PrependRecord(list, fields)
		res = Success("record %s created in %s", rec.ID, list)
		res.Data = map[string]any{"entry_id": rec.ID}
		return res
	})
}

func (pt *profileTools) handleUpdateItem(ctx context.Context, args map[string]any) (Result, error) {
	if res, ok := requireArgs(args, "list_name", "entry_id", "field_name"); !ok {
		return res, nil
	}
	list := stringArg(args, "list_name")
	id := stringArg(args, "entry_id")
	name := stringArg(args, "field_name")
	value, ok := valueArg(args, "value")
	if !ok {
		return InvalidArgument("value", "argument %q is required", "value"), nil
	}

	return pt.mutate(ctx, func(s *schema.Schema, p *profile.Profile) Result {
		g, res, ok := lookupGroup(s, list)
		if !ok {
			return res
		}
		if _, member := g.Member(name); !member {
			return InvalidArgument("field_name", "%q is not a field of %s; valid fields: %s", name, list, memberList(g))
		}
		if ok, msg := validate.Validate(name, value); !ok {
			return Validation(name, msg)
		}
		if err := p.UpdateRecord(list, id, name, value); err != nil {
			return NotFound("record %s not found in %s", id, list)
		}
		return Success("record %s updated", id)
	})
}

func (pt *profileTools) handleRemoveItem(ctx context.Context, args map[string]any) (Result, error) {
	if res, ok := requireArgs(args, "list_name", "entry_id"); !ok {
		return res, nil
	}
	list := stringArg(args, "list_name")
	id := stringArg(args, "entry_id")

	return pt.mutate(ctx, func(s *schema.Schema, p *profile.Profile) Result {
		if _, res, ok := lookupGroup(s, list); !ok {
			return res
		}
		if err := p.RemoveRecord(list, id); err != nil {
			return NotFound("record %s not found in %s", id, list)
		}
		return Success("record %s removed from %s", id, list)
	})
}

func (pt *profileTools) handleSaveInsight(ctx context.Context, args map[string]any) (Result, error) {
	if res, ok := requireArgs(args, "description", "insight"); !ok {
		return res, nil
	}
	desc := stringArg(args, "description")
	insight := stringArg(args, "insight")
	insight = truncate(insight, maxInsightLength)

	return pt.mutate(ctx, func(_ *schema.Schema, p *profile.Profile) Result {
		p.AddInsight(desc, insight)
		return Success("insight saved")
	})
}
