package profile

import "fmt"

// GroupMembers resolves a group ID to its member field names. It reports
// false for names that are not groups.
type GroupMembers func(id string) ([]string, bool)

// Merge folds extracted data into the profile. Group lists are
// concatenated onto the existing records; scalars are filled only when
// currently empty and never overwritten. It returns the number of values
// written.
//
// Group values may be a list of objects (one per record) or, for groups
// with a single member, a list of plain values.
func (p *Profile) Merge(extracted map[string]any, groups GroupMembers) int {
	p.ensure()
	written := 0
	for key, val := range extracted {
		if IsEmpty(val) {
			continue
		}

		if members, ok := groups(key); ok {
			for _, item := range asList(val) {
				fields := recordFields(item, members)
				if len(fields) == 0 {
					continue
				}
				p.AppendRecord(key, fields)
				written++
			}
			continue
		}

		if _, filled := p.Scalar(key); filled {
			continue
		}
		p.SetScalar(key, val)
		written++
	}
	return written
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	}
	return []any{v}
}

func recordFields(item any, members []string) map[string]any {
	fields := make(map[string]any)
	switch t := item.(type) {
	case map[string]any:
		for k, v := range t {
			if !IsEmpty(v) {
				fields[k] = v
			}
		}
	default:
		if IsEmpty(t) || len(members) == 0 {
			return nil
		}
		fields[members[0]] = fmt.Sprint(t)
	}
	return fields
}
