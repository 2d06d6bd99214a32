package schema

import "fmt"

// Descriptor renders the schema as a JSON-schema object. It is embedded
// in the agent's system prompt so the model knows every capture point,
// and groups appear as arrays so the model can tell them apart from
// scalars. Intro fields are omitted; they are dialog plumbing.
func (s *Schema) Descriptor() map[string]any {
	props := make(map[string]any)
	for _, n := range s.nodes {
		if n.Group != nil {
			items := make(map[string]any, len(n.Group.Members))
			for _, m := range n.Group.Members {
				items[m.Name] = fieldProperty(m)
			}
			props[n.Group.ID] = map[string]any{
				"type":        "array",
				"description": fmt.Sprintf("Повторяющаяся группа полей «%s»", n.Group.Label()),
				"items": map[string]any{
					"type":       "object",
					"properties": items,
				},
			}
			continue
		}
		props[n.Field.Name] = fieldProperty(*n.Field)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

func fieldProperty(f Field) map[string]any {
	p := map[string]any{
		"type":        "string",
		"description": PlainText(f.Question),
		"priority":    f.Priority,
	}
	if f.Label != "" {
		p["title"] = f.Label
	}
	if len(f.Choices) > 0 && !f.MultiSelect {
		p["enum"] = append([]string(nil), f.Choices...)
	}
	return p
}

// ExtractionSchema is the structured-output schema used when pulling a
// profile out of free text such as an uploaded resume. Every property is
// optional. Groups with several members become arrays of objects; a
// group with a single member becomes an array of strings.
func (s *Schema) ExtractionSchema() map[string]any {
	props := make(map[string]any)
	for _, n := range s.nodes {
		if n.Group == nil {
			props[n.Field.Name] = map[string]any{
				"type":        "string",
				"description": PlainText(n.Field.Question),
			}
			continue
		}

		if len(n.Group.Members) == 1 {
			m := n.Group.Members[0]
			props[n.Group.ID] = map[string]any{
				"type":        "array",
				"description": PlainText(m.Question),
				"items":       map[string]any{"type": "string"},
			}
			continue
		}

		items := make(map[string]any, len(n.Group.Members))
		for _, m := range n.Group.Members {
			items[m.Name] = map[string]any{
				"type":        "string",
				"description": PlainText(m.Question),
			}
		}
		props[n.Group.ID] = map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":       "object",
				"properties": items,
			},
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}
