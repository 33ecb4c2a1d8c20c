package domain

// Column type tags. A column's type drives the derived status of tasks
// moved into it.
const (
	ColumnBacklog    = "backlog"
	ColumnTodo       = "todo"
	ColumnInProgress = "in-progress"
	ColumnReview     = "review"
	ColumnDone       = "done"
	ColumnCustom     = "custom"
)

// Column belongs to exactly one board. Position is a dense integer unique
// within the board.
type Column struct {
	ID        string `json:"id"`
	BoardID   string `json:"boardId"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	Position  int    `json:"position"`
	Type      string `json:"type"`
	WIPLimit  int    `json:"wipLimit,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// StatusForColumn returns the task status implied by a column type. Custom
// columns imply nothing; callers keep the task's current status.
func StatusForColumn(columnType string) (string, bool) {
	switch columnType {
	case ColumnBacklog, ColumnTodo, ColumnInProgress, ColumnReview, ColumnDone:
		return columnType, true
	}
	return "", false
}
