package domain

import "testing"

func TestFilterMatches(t *testing.T) {
	task := Task{
		Title:      "Fix login Bug",
		Notes:      "session expires early",
		Priority:   PriorityUrgent,
		AssigneeID: "u1",
		LabelIDs:   []string{"l1"},
		DueAt:      500,
		Status:     ColumnInProgress,
	}

	cases := []struct {
		name   string
		filter FilterState
		want   bool
	}{
		{"zero filter matches", FilterState{}, true},
		{"assignee match", FilterState{AssigneeIDs: []string{"u1", "u2"}}, true},
		{"assignee miss", FilterState{AssigneeIDs: []string{"u3"}}, false},
		{"priority match", FilterState{Priorities: []string{PriorityUrgent}}, true},
		{"priority miss", FilterState{Priorities: []string{PriorityLow}}, false},
		{"label match", FilterState{LabelIDs: []string{"l1", "l9"}}, true},
		{"label miss", FilterState{LabelIDs: []string{"l9"}}, false},
		{"due range inside", FilterState{DueFrom: 100, DueTo: 900}, true},
		{"due range before", FilterState{DueFrom: 600}, false},
		{"due range after", FilterState{DueTo: 400}, false},
		{"search title case-insensitive", FilterState{Search: "login bug"}, true},
		{"search notes", FilterState{Search: "SESSION"}, true},
		{"search miss", FilterState{Search: "billing"}, false},
		{"hide completed keeps active", FilterState{HideCompleted: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(task); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilterDueRangeExcludesUndated(t *testing.T) {
	undated := Task{Title: "someday"}
	if (FilterState{DueFrom: 1}).Matches(undated) {
		t.Fatalf("task without due date matched a due-range filter")
	}
	if !(FilterState{}).Matches(undated) {
		t.Fatalf("task without due date failed an empty filter")
	}
}

func TestFilterHideCompleted(t *testing.T) {
	done := Task{Title: "shipped", Status: StatusDone}
	if (FilterState{HideCompleted: true}).Matches(done) {
		t.Fatalf("completed task matched hide-completed filter")
	}
	if !(FilterState{}).Matches(done) {
		t.Fatalf("completed task should match when not hidden")
	}
}
