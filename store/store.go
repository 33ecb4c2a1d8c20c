// Package store holds the normalized in-memory model of boards, columns,
// tasks, labels and users. It is the single source of truth for
// committed-or-optimistic state.
//
// The store is not safe for concurrent use; the engine serializes every
// mutation behind its own lock. Lookup misses never error.
package store

import (
	"fmt"

	"boardsync/domain"
)

// Store keeps one map per entity type, keyed by id.
type Store struct {
	boards  map[string]domain.Board
	columns map[string]domain.Column
	tasks   map[string]domain.Task
	labels  map[string]domain.Label
	users   map[string]domain.User
}

// New returns an empty store.
func New() *Store {
	return &Store{
		boards:  make(map[string]domain.Board),
		columns: make(map[string]domain.Column),
		tasks:   make(map[string]domain.Task),
		labels:  make(map[string]domain.Label),
		users:   make(map[string]domain.User),
	}
}

// Upsert replaces a record wholesale. When ts is non-zero it becomes the
// record's UpdatedAt; logical timestamps come from the caller (server payloads
// carry authoritative stamps, optimistic writes use the client clock).
func (s *Store) Upsert(record any, ts int64) error {
	switch r := record.(type) {
	case domain.Board:
		if ts != 0 {
			r.UpdatedAt = ts
		}
		s.boards[r.ID] = r
	case domain.Column:
		if ts != 0 {
			r.UpdatedAt = ts
		}
		s.columns[r.ID] = r
	case domain.Task:
		if ts != 0 {
			r.UpdatedAt = ts
		}
		s.tasks[r.ID] = r.Clone()
	case domain.Label:
		if ts != 0 {
			r.UpdatedAt = ts
		}
		s.labels[r.ID] = r
	case domain.User:
		if ts != 0 {
			r.UpdatedAt = ts
		}
		s.users[r.ID] = r
	default:
		return fmt.Errorf("store: unsupported record type %T", record)
	}
	return nil
}

// Apply merges a shallow patch into an existing record. It reports false when
// the record does not exist; patching a missing record is not an error.
func (s *Store) Apply(entityType, id string, p domain.Patch, ts int64) bool {
	switch entityType {
	case domain.EntityBoard:
		b, ok := s.boards[id]
		if !ok {
			return false
		}
		p.ApplyToBoard(&b)
		if ts != 0 {
			b.UpdatedAt = ts
		}
		s.boards[id] = b
	case domain.EntityColumn:
		c, ok := s.columns[id]
		if !ok {
			return false
		}
		p.ApplyToColumn(&c)
		if ts != 0 {
			c.UpdatedAt = ts
		}
		s.columns[id] = c
	case domain.EntityTask:
		t, ok := s.tasks[id]
		if !ok {
			return false
		}
		t = t.Clone()
		p.ApplyToTask(&t)
		if ts != 0 {
			t.UpdatedAt = ts
		}
		s.tasks[id] = t
	case domain.EntityLabel:
		l, ok := s.labels[id]
		if !ok {
			return false
		}
		p.ApplyToLabel(&l)
		if ts != 0 {
			l.UpdatedAt = ts
		}
		s.labels[id] = l
	case domain.EntityUser:
		u, ok := s.users[id]
		if !ok {
			return false
		}
		p.ApplyToUser(&u)
		if ts != 0 {
			u.UpdatedAt = ts
		}
		s.users[id] = u
	default:
		return false
	}
	return true
}

// Get returns the record for (entityType, id).
func (s *Store) Get(entityType, id string) (any, bool) {
	switch entityType {
	case domain.EntityBoard:
		r, ok := s.boards[id]
		return r, ok
	case domain.EntityColumn:
		r, ok := s.columns[id]
		return r, ok
	case domain.EntityTask:
		r, ok := s.tasks[id]
		if !ok {
			return domain.Task{}, false
		}
		return r.Clone(), true
	case domain.EntityLabel:
		r, ok := s.labels[id]
		return r, ok
	case domain.EntityUser:
		r, ok := s.users[id]
		return r, ok
	}
	return nil, false
}

// Remove deletes the record. Missing records are a no-op.
func (s *Store) Remove(entityType, id string) bool {
	switch entityType {
	case domain.EntityBoard:
		_, ok := s.boards[id]
		delete(s.boards, id)
		return ok
	case domain.EntityColumn:
		_, ok := s.columns[id]
		delete(s.columns, id)
		return ok
	case domain.EntityTask:
		_, ok := s.tasks[id]
		delete(s.tasks, id)
		return ok
	case domain.EntityLabel:
		_, ok := s.labels[id]
		delete(s.labels, id)
		return ok
	case domain.EntityUser:
		_, ok := s.users[id]
		delete(s.users, id)
		return ok
	}
	return false
}

// Board returns a board by id.
func (s *Store) Board(id string) (domain.Board, bool) {
	b, ok := s.boards[id]
	return b, ok
}

// Column returns a column by id.
func (s *Store) Column(id string) (domain.Column, bool) {
	c, ok := s.columns[id]
	return c, ok
}

// Task returns a copy of a task by id.
func (s *Store) Task(id string) (domain.Task, bool) {
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

// Label returns a label by id.
func (s *Store) Label(id string) (domain.Label, bool) {
	l, ok := s.labels[id]
	return l, ok
}

// User returns a user by id.
func (s *Store) User(id string) (domain.User, bool) {
	u, ok := s.users[id]
	return u, ok
}

// Tasks lists tasks matching the predicate; a nil predicate matches all.
func (s *Store) Tasks(pred func(domain.Task) bool) []domain.Task {
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if pred == nil || pred(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Columns lists columns matching the predicate; a nil predicate matches all.
func (s *Store) Columns(pred func(domain.Column) bool) []domain.Column {
	out := make([]domain.Column, 0, len(s.columns))
	for _, c := range s.columns {
		if pred == nil || pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// Boards lists boards matching the predicate; a nil predicate matches all.
func (s *Store) Boards(pred func(domain.Board) bool) []domain.Board {
	out := make([]domain.Board, 0, len(s.boards))
	for _, b := range s.boards {
		if pred == nil || pred(b) {
			out = append(out, b)
		}
	}
	return out
}

// Labels lists labels matching the predicate; a nil predicate matches all.
func (s *Store) Labels(pred func(domain.Label) bool) []domain.Label {
	out := make([]domain.Label, 0, len(s.labels))
	for _, l := range s.labels {
		if pred == nil || pred(l) {
			out = append(out, l)
		}
	}
	return out
}

// Users lists users matching the predicate; a nil predicate matches all.
func (s *Store) Users(pred func(domain.User) bool) []domain.User {
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		if pred == nil || pred(u) {
			out = append(out, u)
		}
	}
	return out
}
