package domain

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// StatusDone is the terminal status; hide-completed filters key off it.
const StatusDone = ColumnDone

// Task is a single board item. It belongs to exactly one column at a time;
// moving a task is an atomic change of (columnId, position).
type Task struct {
	ID         string         `json:"id"`
	BoardID    string         `json:"boardId"`
	ColumnID   string         `json:"columnId"`
	Title      string         `json:"title"`
	Notes      string         `json:"notes,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	Status     string         `json:"status,omitempty"`
	Position   int            `json:"position"`
	AssigneeID string         `json:"assigneeId,omitempty"`
	DueAt      int64          `json:"dueAt,omitempty"`
	StartAt    int64          `json:"startAt,omitempty"`
	LabelIDs   []string       `json:"labelIds,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Archived   bool           `json:"archived,omitempty"`
	CreatedAt  int64          `json:"createdAt,omitempty"`
	UpdatedAt  int64          `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy so snapshots survive later in-place mutation.
func (t Task) Clone() Task {
	out := t
	if t.LabelIDs != nil {
		out.LabelIDs = append([]string(nil), t.LabelIDs...)
	}
	if t.Fields != nil {
		out.Fields = make(map[string]any, len(t.Fields))
		for k, v := range t.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// HasLabel reports whether the task carries the given label id.
func (t Task) HasLabel(id string) bool {
	for _, l := range t.LabelIDs {
		if l == id {
			return true
		}
	}
	return false
}
