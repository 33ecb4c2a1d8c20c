package store

import (
	"reflect"
	"sort"
	"testing"

	"boardsync/domain"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.Upsert(domain.Board{ID: "b1", Name: "Roadmap"}, 1)
	s.Upsert(domain.Column{ID: "col-a", BoardID: "b1", Name: "Todo", Type: domain.ColumnTodo, Position: 0}, 1)
	s.Upsert(domain.Column{ID: "col-b", BoardID: "b1", Name: "Done", Type: domain.ColumnDone, Position: 1}, 1)
	s.Upsert(domain.Task{ID: "a1", BoardID: "b1", ColumnID: "col-a", Title: "one", Position: 0}, 1)
	s.Upsert(domain.Task{ID: "a2", BoardID: "b1", ColumnID: "col-a", Title: "two", Position: 1}, 1)
	s.Upsert(domain.Task{ID: "a3", BoardID: "b1", ColumnID: "col-a", Title: "three", Position: 2}, 1)
	s.Upsert(domain.Task{ID: "b1t", BoardID: "b1", ColumnID: "col-b", Title: "done", Position: 0}, 1)
	return s
}

func positions(t *testing.T, s *Store, columnID string) map[string]int {
	t.Helper()
	out := map[string]int{}
	for _, task := range s.Tasks(func(task domain.Task) bool { return task.ColumnID == columnID }) {
		out[task.ID] = task.Position
	}
	return out
}

func TestUpsertReplacesWholeRecord(t *testing.T) {
	s := seed(t)
	s.Upsert(domain.Task{ID: "a1", BoardID: "b1", ColumnID: "col-a", Title: "renamed", Position: 0}, 5)

	task, ok := s.Task("a1")
	if !ok {
		t.Fatalf("task missing after upsert")
	}
	if task.Title != "renamed" || task.UpdatedAt != 5 {
		t.Fatalf("upsert result wrong: %#v", task)
	}
}

func TestTaskReturnsClone(t *testing.T) {
	s := seed(t)
	task, _ := s.Task("a1")
	task.Title = "mutated copy"

	again, _ := s.Task("a1")
	if again.Title != "one" {
		t.Fatalf("store leaked internal task state: %#v", again)
	}
}

func TestApplyPatchesFields(t *testing.T) {
	s := seed(t)
	if !s.Apply(domain.EntityTask, "a1", domain.Patch{"title": "patched", "priority": domain.PriorityHigh}, 7) {
		t.Fatalf("Apply returned false for existing task")
	}
	task, _ := s.Task("a1")
	if task.Title != "patched" || task.Priority != domain.PriorityHigh || task.UpdatedAt != 7 {
		t.Fatalf("patch result wrong: %#v", task)
	}
	if task.Position != 0 {
		t.Fatalf("untouched field changed: %#v", task)
	}
	if s.Apply(domain.EntityTask, "missing", domain.Patch{"title": "x"}, 7) {
		t.Fatalf("Apply returned true for missing task")
	}
}

func TestMoveAcrossColumns(t *testing.T) {
	s := seed(t)
	if !s.MoveTask("a2", "col-b", 0, 9) {
		t.Fatalf("MoveTask failed")
	}

	moved, _ := s.Task("a2")
	if moved.ColumnID != "col-b" || moved.Position != 0 || moved.UpdatedAt != 9 {
		t.Fatalf("moved task wrong: %#v", moved)
	}
	if moved.Status != domain.ColumnDone {
		t.Fatalf("status not derived from target column: %#v", moved)
	}

	want := map[string]int{"a1": 0, "a3": 1}
	if got := positions(t, s, "col-a"); !reflect.DeepEqual(got, want) {
		t.Fatalf("source column positions %#v, want %#v", got, want)
	}
	want = map[string]int{"a2": 0, "b1t": 1}
	if got := positions(t, s, "col-b"); !reflect.DeepEqual(got, want) {
		t.Fatalf("target column positions %#v, want %#v", got, want)
	}
}

func TestMoveWithinColumn(t *testing.T) {
	s := seed(t)
	if !s.MoveTask("a1", "col-a", 2, 9) {
		t.Fatalf("MoveTask failed")
	}
	want := map[string]int{"a2": 0, "a3": 1, "a1": 2}
	if got := positions(t, s, "col-a"); !reflect.DeepEqual(got, want) {
		t.Fatalf("positions %#v, want %#v", got, want)
	}
}

func TestMoveToCustomColumnKeepsStatus(t *testing.T) {
	s := seed(t)
	s.Upsert(domain.Column{ID: "col-c", BoardID: "b1", Name: "Icebox", Type: domain.ColumnCustom, Position: 2}, 1)
	s.Apply(domain.EntityTask, "a1", domain.Patch{"status": domain.ColumnTodo}, 1)

	s.MoveTask("a1", "col-c", 0, 9)
	task, _ := s.Task("a1")
	if task.Status != domain.ColumnTodo {
		t.Fatalf("custom column should not rewrite status: %#v", task)
	}
}

func TestReplaceIDRewritesReferences(t *testing.T) {
	s := seed(t)
	s.Upsert(domain.Label{ID: "prov-l", Name: "bug"}, 1)
	s.Apply(domain.EntityTask, "a1", domain.Patch{"labelIds": []string{"prov-l"}, "assigneeId": "prov-u"}, 2)
	s.Upsert(domain.User{ID: "prov-u", Name: "Sam"}, 1)

	s.ReplaceID(domain.EntityLabel, "prov-l", "srv-l")
	s.ReplaceID(domain.EntityUser, "prov-u", "srv-u")

	if _, ok := s.Label("prov-l"); ok {
		t.Fatalf("old label id still resolves")
	}
	if _, ok := s.Label("srv-l"); !ok {
		t.Fatalf("new label id missing")
	}
	task, _ := s.Task("a1")
	if !task.HasLabel("srv-l") || task.HasLabel("prov-l") {
		t.Fatalf("label reference not rewritten: %#v", task.LabelIDs)
	}
	if task.AssigneeID != "srv-u" {
		t.Fatalf("assignee reference not rewritten: %#v", task)
	}
}

func TestReplaceColumnIDMovesItsTasks(t *testing.T) {
	s := seed(t)
	s.ReplaceID(domain.EntityColumn, "col-a", "srv-col")

	ids := []string{}
	for _, task := range s.Tasks(func(task domain.Task) bool { return task.ColumnID == "srv-col" }) {
		ids = append(ids, task.ID)
	}
	sort.Strings(ids)
	if !reflect.DeepEqual(ids, []string{"a1", "a2", "a3"}) {
		t.Fatalf("tasks not re-pointed at renamed column: %#v", ids)
	}
}

func TestRemoveDanglingTaskRefs(t *testing.T) {
	s := seed(t)
	s.Upsert(domain.Label{ID: "l1", Name: "bug"}, 1)
	s.Apply(domain.EntityTask, "a1", domain.Patch{"labelIds": []string{"l1"}, "assigneeId": "u1"}, 2)

	s.RemoveDanglingTaskRefs(domain.EntityLabel, "l1")
	task, _ := s.Task("a1")
	if task.HasLabel("l1") {
		t.Fatalf("deleted label still referenced: %#v", task.LabelIDs)
	}

	s.RemoveDanglingTaskRefs(domain.EntityUser, "u1")
	task, _ = s.Task("a1")
	if task.AssigneeID != "" {
		t.Fatalf("deleted user still assigned: %#v", task)
	}

	s.RemoveDanglingTaskRefs(domain.EntityColumn, "col-a")
	if _, ok := s.Task("a1"); ok {
		t.Fatalf("task survived deletion of its column")
	}
}

func TestDropBoard(t *testing.T) {
	s := seed(t)
	s.DropBoard("b1")

	if _, ok := s.Board("b1"); ok {
		t.Fatalf("board survived drop")
	}
	if cols := s.Columns(nil); len(cols) != 0 {
		t.Fatalf("columns survived drop: %#v", cols)
	}
	if tasks := s.Tasks(nil); len(tasks) != 0 {
		t.Fatalf("tasks survived drop: %#v", tasks)
	}
}
