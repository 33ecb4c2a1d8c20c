// Package presence tracks who is online, where they are working and where
// their cursors sit. It is locked separately from the entity engine so
// high-frequency cursor traffic never contends with board mutations.
package presence

import (
	"sort"
	"sync"
	"time"

	"boardsync/domain"
)

// DefaultStaleAfter is how long a user may stay silent before a sweep marks
// them offline.
const DefaultStaleAfter = 30 * time.Second

type Tracker struct {
	mu         sync.Mutex
	entries    map[string]domain.Presence
	cursors    map[string]domain.Cursor
	staleAfter time.Duration
	now        func() time.Time
}

func NewTracker(staleAfter time.Duration) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Tracker{
		entries:    make(map[string]domain.Presence),
		cursors:    make(map[string]domain.Cursor),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Apply folds a presence update into the user's entry. Absent fields keep
// their previous values; every update refreshes LastSeen.
func (t *Tracker) Apply(userID string, upd domain.PresenceUpdate, ts int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[userID]
	if !ok {
		p = domain.Presence{UserID: userID, Status: domain.UserOnline}
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.BoardID != nil {
		p.BoardID = *upd.BoardID
	}
	if upd.ColumnID != nil {
		p.ColumnID = *upd.ColumnID
	}
	if upd.TaskID != nil {
		p.TaskID = *upd.TaskID
	}
	if upd.Typing != nil {
		p.Typing = *upd.Typing
	}
	if ts != 0 {
		p.LastSeen = ts
	} else {
		p.LastSeen = t.now().UnixMilli()
	}
	t.entries[userID] = p

	if upd.Cursor != nil {
		t.cursors[userID] = *upd.Cursor
	}
	if p.Status == domain.UserOffline {
		delete(t.cursors, userID)
	}
}

// SetCursor is the cheap path for cursor-only updates.
func (t *Tracker) SetCursor(userID string, c domain.Cursor) {
	t.mu.Lock()
	t.cursors[userID] = c
	if p, ok := t.entries[userID]; ok {
		p.LastSeen = t.now().UnixMilli()
		t.entries[userID] = p
	} else {
		t.entries[userID] = domain.Presence{
			UserID:   userID,
			Status:   domain.UserOnline,
			LastSeen: t.now().UnixMilli(),
		}
	}
	t.mu.Unlock()
}

// MarkOffline forces a user offline, e.g. when their stream connection drops
// without a farewell.
func (t *Tracker) MarkOffline(userID string) {
	t.mu.Lock()
	if p, ok := t.entries[userID]; ok {
		p.Status = domain.UserOffline
		p.Typing = false
		t.entries[userID] = p
	}
	delete(t.cursors, userID)
	t.mu.Unlock()
}

// Sweep marks users silent for longer than staleAfter as offline and evicts
// their cursors. It returns the ids it transitioned.
func (t *Tracker) Sweep(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.staleAfter).UnixMilli()
	var swept []string
	for id, p := range t.entries {
		if p.Status == domain.UserOffline || p.LastSeen > cutoff {
			continue
		}
		p.Status = domain.UserOffline
		p.Typing = false
		t.entries[id] = p
		delete(t.cursors, id)
		swept = append(swept, id)
	}
	sort.Strings(swept)
	return swept
}

// OnlineUsers lists everyone not offline, ordered by user id.
func (t *Tracker) OnlineUsers() []domain.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.Presence, 0, len(t.entries))
	for _, p := range t.entries {
		if p.Status == domain.UserOffline {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Cursors returns a copy of the live cursor positions.
func (t *Tracker) Cursors() map[string]domain.Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]domain.Cursor, len(t.cursors))
	for id, c := range t.cursors {
		out[id] = c
	}
	return out
}

// Get returns a single user's presence entry.
func (t *Tracker) Get(userID string) (domain.Presence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[userID]
	return p, ok
}
