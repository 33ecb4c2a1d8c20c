package domain

import "strings"

// FilterState narrows the projected working set. Zero value matches everything.
type FilterState struct {
	AssigneeIDs   []string `json:"assigneeIds,omitempty"`
	Priorities    []string `json:"priorities,omitempty"`
	LabelIDs      []string `json:"labelIds,omitempty"`
	DueFrom       int64    `json:"dueFrom,omitempty"`
	DueTo         int64    `json:"dueTo,omitempty"`
	Search        string   `json:"search,omitempty"`
	HideCompleted bool     `json:"hideCompleted,omitempty"`
}

// Matches reports whether the task survives every active predicate.
func (f FilterState) Matches(t Task) bool {
	if len(f.AssigneeIDs) > 0 && !contains(f.AssigneeIDs, t.AssigneeID) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, t.Priority) {
		return false
	}
	if len(f.LabelIDs) > 0 {
		found := false
		for _, id := range f.LabelIDs {
			if t.HasLabel(id) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DueFrom != 0 || f.DueTo != 0 {
		if t.DueAt == 0 {
			return false
		}
		if f.DueFrom != 0 && t.DueAt < f.DueFrom {
			return false
		}
		if f.DueTo != 0 && t.DueAt > f.DueTo {
			return false
		}
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Notes), q) {
			return false
		}
	}
	if f.HideCompleted && t.Status == StatusDone {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
