package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Patch is a shallow field patch keyed by JSON field name. Present keys
// overwrite, absent keys preserve. Values arrive either typed (local
// mutations) or as decoded JSON (remote events), so application coerces.
type Patch map[string]any

// PatchFromJSON decodes a raw event payload into a patch.
func PatchFromJSON(raw json.RawMessage) (Patch, error) {
	if len(raw) == 0 {
		return Patch{}, nil
	}
	var p Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p == nil {
		// A literal JSON null decodes to a nil map; callers merge patches,
		// so hand back an empty one instead.
		p = Patch{}
	}
	return p, nil
}

// Clone returns an independent copy of the patch.
func (p Patch) Clone() Patch {
	if p == nil {
		return nil
	}
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge folds other into p; other's fields win.
func (p Patch) Merge(other Patch) {
	for k, v := range other {
		p[k] = v
	}
}

// FieldNames returns the patched field names in stable order.
func (p Patch) FieldNames() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Overlap returns the field names present in both patches, in stable order.
func (p Patch) Overlap(other Patch) []string {
	var out []string
	for k := range p {
		if _, ok := other[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Without returns a copy of p with the given fields removed.
func (p Patch) Without(fields []string) Patch {
	out := p.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Pick returns a copy of p restricted to the given fields.
func (p Patch) Pick(fields []string) Patch {
	out := make(Patch, len(fields))
	for _, f := range fields {
		if v, ok := p[f]; ok {
			out[f] = v
		}
	}
	return out
}

// ApplyToTask merges the patch into a task record.
func (p Patch) ApplyToTask(t *Task) {
	for k, v := range p {
		switch k {
		case "title":
			t.Title = asString(v)
		case "notes":
			t.Notes = asString(v)
		case "priority":
			t.Priority = asString(v)
		case "status":
			t.Status = asString(v)
		case "position":
			t.Position = asInt(v)
		case "columnId":
			t.ColumnID = asString(v)
		case "boardId":
			t.BoardID = asString(v)
		case "assigneeId":
			t.AssigneeID = asString(v)
		case "dueAt":
			t.DueAt = asInt64(v)
		case "startAt":
			t.StartAt = asInt64(v)
		case "labelIds":
			t.LabelIDs = asStringSlice(v)
		case "fields":
			t.Fields = asAnyMap(v)
		case "archived":
			t.Archived = asBool(v)
		case "createdAt":
			t.CreatedAt = asInt64(v)
		}
	}
}

// ApplyToBoard merges the patch into a board record.
func (p Patch) ApplyToBoard(b *Board) {
	for k, v := range p {
		switch k {
		case "name":
			b.Name = asString(v)
		case "orgId":
			b.OrgID = asString(v)
		case "divisionId":
			b.DivisionID = asString(v)
		case "projectId":
			b.ProjectID = asString(v)
		case "visible":
			b.Visible = asBool(v)
		case "settings":
			m := asAnyMap(v)
			if m == nil {
				continue
			}
			if wip, ok := m["wipLimitEnabled"]; ok {
				b.Settings.WIPLimitEnabled = asBool(wip)
			}
			if days, ok := m["autoArchiveDays"]; ok {
				b.Settings.AutoArchiveDays = asInt(days)
			}
		case "createdAt":
			b.CreatedAt = asInt64(v)
		}
	}
}

// ApplyToColumn merges the patch into a column record.
func (p Patch) ApplyToColumn(c *Column) {
	for k, v := range p {
		switch k {
		case "name":
			c.Name = asString(v)
		case "color":
			c.Color = asString(v)
		case "position":
			c.Position = asInt(v)
		case "type":
			c.Type = asString(v)
		case "boardId":
			c.BoardID = asString(v)
		case "wipLimit":
			c.WIPLimit = asInt(v)
		case "createdAt":
			c.CreatedAt = asInt64(v)
		}
	}
}

// ApplyToLabel merges the patch into a label record.
func (p Patch) ApplyToLabel(l *Label) {
	for k, v := range p {
		switch k {
		case "name":
			l.Name = asString(v)
		case "color":
			l.Color = asString(v)
		case "createdAt":
			l.CreatedAt = asInt64(v)
		}
	}
}

// ApplyToUser merges the patch into a user record.
func (p Patch) ApplyToUser(u *User) {
	for k, v := range p {
		switch k {
		case "name":
			u.Name = asString(v)
		case "avatarUrl":
			u.AvatarURL = asString(v)
		case "status":
			u.Status = asString(v)
		case "createdAt":
			u.CreatedAt = asInt64(v)
		}
	}
}

// DecodeEntity unmarshals a server payload into the record type named by
// entityType. The returned value is Task, Board, Column, Label or User.
func DecodeEntity(entityType string, raw json.RawMessage) (any, error) {
	switch entityType {
	case EntityTask:
		var t Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		return t, nil
	case EntityBoard:
		var b Board
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case EntityColumn:
		var c Column
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case EntityLabel:
		var l Label
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, err
		}
		return l, nil
	case EntityUser:
		var u User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, err
		}
		return u, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", entityType)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func asAnyMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
