// Package view derives render-ready board projections from the entity store.
// Projections are pure reads; filters never mutate stored entities.
package view

import (
	"sort"

	"boardsync/domain"
	"boardsync/store"
)

// BoardView is a board with its columns and the tasks that survive the
// active filter, ordered for rendering.
type BoardView struct {
	Board        domain.Board       `json:"board"`
	Columns      []ColumnView       `json:"columns"`
	TotalTasks   int                `json:"totalTasks"`
	MatchedTasks int                `json:"matchedTasks"`
	Filter       domain.FilterState `json:"filter"`
}

type ColumnView struct {
	Column  domain.Column `json:"column"`
	Tasks   []domain.Task `json:"tasks"`
	Total   int           `json:"total"`
	Matched int           `json:"matched"`
}

// Project builds the filtered view of one board. Archived tasks are never
// part of a projection. The bool reports whether the board exists.
func Project(s *store.Store, boardID string, f domain.FilterState) (BoardView, bool) {
	board, ok := s.Board(boardID)
	if !ok {
		return BoardView{}, false
	}

	columns := s.Columns(func(c domain.Column) bool { return c.BoardID == boardID })
	sort.Slice(columns, func(i, j int) bool {
		if columns[i].Position != columns[j].Position {
			return columns[i].Position < columns[j].Position
		}
		return columns[i].ID < columns[j].ID
	})

	v := BoardView{Board: board, Columns: make([]ColumnView, 0, len(columns)), Filter: f}
	for _, col := range columns {
		tasks := s.Tasks(func(t domain.Task) bool {
			return t.ColumnID == col.ID && !t.Archived
		})
		sort.Slice(tasks, func(i, j int) bool {
			if tasks[i].Position != tasks[j].Position {
				return tasks[i].Position < tasks[j].Position
			}
			return tasks[i].CreatedAt < tasks[j].CreatedAt
		})

		cv := ColumnView{Column: col, Total: len(tasks)}
		for _, t := range tasks {
			if f.Matches(t) {
				cv.Tasks = append(cv.Tasks, t)
			}
		}
		cv.Matched = len(cv.Tasks)
		v.TotalTasks += cv.Total
		v.MatchedTasks += cv.Matched
		v.Columns = append(v.Columns, cv)
	}
	return v, true
}
