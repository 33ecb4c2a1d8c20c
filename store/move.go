package store

import "boardsync/domain"

// MoveTask atomically changes a task's (columnId, position) and renumbers
// siblings: tasks after the vacated slot shift down, tasks at or after the
// target slot shift up. The task's status follows the target column's type
// unless the column is custom. Reports false when task or column is missing.
func (s *Store) MoveTask(taskID, targetColumnID string, targetPos int, ts int64) bool {
	t, ok := s.tasks[taskID]
	if !ok {
		return false
	}
	col, ok := s.columns[targetColumnID]
	if !ok {
		return false
	}
	if targetPos < 0 {
		targetPos = 0
	}

	srcColumnID, srcPos := t.ColumnID, t.Position
	for id, other := range s.tasks {
		if id == taskID {
			continue
		}
		if other.ColumnID == srcColumnID && other.Position > srcPos {
			other.Position--
			s.tasks[id] = other
		}
	}
	for id, other := range s.tasks {
		if id == taskID {
			continue
		}
		if other.ColumnID == targetColumnID && other.Position >= targetPos {
			other.Position++
			s.tasks[id] = other
		}
	}

	t = t.Clone()
	t.ColumnID = targetColumnID
	t.BoardID = col.BoardID
	t.Position = targetPos
	if status, derived := domain.StatusForColumn(col.Type); derived {
		t.Status = status
	}
	if ts != 0 {
		t.UpdatedAt = ts
	}
	s.tasks[taskID] = t
	return true
}

// ReplaceID rekeys a record from a provisional id to a server-issued one and
// rewrites every reference to the old id. Replacement is total: the old id is
// gone from the store afterwards.
func (s *Store) ReplaceID(entityType, oldID, newID string) {
	if oldID == newID {
		return
	}
	switch entityType {
	case domain.EntityBoard:
		if b, ok := s.boards[oldID]; ok {
			delete(s.boards, oldID)
			b.ID = newID
			s.boards[newID] = b
		}
		for id, c := range s.columns {
			if c.BoardID == oldID {
				c.BoardID = newID
				s.columns[id] = c
			}
		}
		for id, t := range s.tasks {
			if t.BoardID == oldID {
				t.BoardID = newID
				s.tasks[id] = t
			}
		}
	case domain.EntityColumn:
		if c, ok := s.columns[oldID]; ok {
			delete(s.columns, oldID)
			c.ID = newID
			s.columns[newID] = c
		}
		for id, t := range s.tasks {
			if t.ColumnID == oldID {
				t.ColumnID = newID
				s.tasks[id] = t
			}
		}
	case domain.EntityTask:
		if t, ok := s.tasks[oldID]; ok {
			delete(s.tasks, oldID)
			t.ID = newID
			s.tasks[newID] = t
		}
	case domain.EntityLabel:
		if l, ok := s.labels[oldID]; ok {
			delete(s.labels, oldID)
			l.ID = newID
			s.labels[newID] = l
		}
		for id, t := range s.tasks {
			for i, lid := range t.LabelIDs {
				if lid == oldID {
					t = t.Clone()
					t.LabelIDs[i] = newID
					s.tasks[id] = t
					break
				}
			}
		}
	case domain.EntityUser:
		if u, ok := s.users[oldID]; ok {
			delete(s.users, oldID)
			u.ID = newID
			s.users[newID] = u
		}
		for id, t := range s.tasks {
			if t.AssigneeID == oldID {
				t.AssigneeID = newID
				s.tasks[id] = t
			}
		}
	}
}

// DropBoard removes a board and everything scoped to it. Used by resync
// before reloading authoritative state.
func (s *Store) DropBoard(boardID string) {
	delete(s.boards, boardID)
	for id, c := range s.columns {
		if c.BoardID == boardID {
			delete(s.columns, id)
		}
	}
	for id, t := range s.tasks {
		if t.BoardID == boardID {
			delete(s.tasks, id)
		}
	}
}

// RemoveDanglingTaskRefs clears references to an entity that no longer
// exists. Tasks pointing at a removed column are dropped with it; label and
// assignee references are detached in place.
func (s *Store) RemoveDanglingTaskRefs(entityType, id string) {
	switch entityType {
	case domain.EntityColumn:
		for tid, t := range s.tasks {
			if t.ColumnID == id {
				delete(s.tasks, tid)
			}
		}
	case domain.EntityLabel:
		for tid, t := range s.tasks {
			for i, lid := range t.LabelIDs {
				if lid == id {
					t = t.Clone()
					t.LabelIDs = append(t.LabelIDs[:i], t.LabelIDs[i+1:]...)
					s.tasks[tid] = t
					break
				}
			}
		}
	case domain.EntityUser:
		for tid, t := range s.tasks {
			if t.AssigneeID == id {
				t.AssigneeID = ""
				s.tasks[tid] = t
			}
		}
	case domain.EntityBoard:
		s.DropBoard(id)
	}
}
