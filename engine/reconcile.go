package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"boardsync/domain"
)

// ApplyRemoteEvent folds one server event into local state. Events must be
// fed in the order they were received; the engine never reorders them.
func (e *Engine) ApplyRemoteEvent(ev domain.Event) {
	if ev.Type == domain.PresenceChanged {
		e.applyPresenceEvent(ev)
		return
	}

	e.mu.Lock()
	notices := e.applyEntityEventLocked(ev)
	jobs := e.deferredJobs
	e.deferredJobs = nil
	e.mu.Unlock()

	for _, n := range notices {
		e.broker.notify(n)
	}
	for _, job := range jobs {
		e.disp.dispatch(job)
	}
}

// applyPresenceEvent bypasses the engine lock entirely. Cursor updates
// arrive at high frequency and touch no entity state.
func (e *Engine) applyPresenceEvent(ev domain.Event) {
	var upd domain.PresenceUpdate
	if err := json.Unmarshal(ev.Data, &upd); err != nil {
		e.logger.WithError(err).Warnf("dropping malformed presence event %s", ev.ID)
		return
	}
	if upd.Cursor != nil && upd.Status == nil && upd.BoardID == nil &&
		upd.ColumnID == nil && upd.TaskID == nil && upd.Typing == nil {
		e.pres.SetCursor(ev.UserID, *upd.Cursor)
	} else {
		e.pres.Apply(ev.UserID, upd, ev.Timestamp)
	}
	e.broker.notify(Notice{Topic: TopicPresence, EntityType: domain.EntityUser, EntityID: ev.UserID})
}

func (e *Engine) applyEntityEventLocked(ev domain.Event) []Notice {
	key := entityKey{ev.EntityType, ev.EntityID}
	if _, gone := e.tombstones[key]; gone {
		// Deleted entities stay deleted; late events for them are noise.
		return nil
	}

	viewNotice := Notice{Topic: TopicView, EntityType: ev.EntityType, EntityID: ev.EntityID, BoardID: ev.BoardID}

	switch ev.Type {
	case domain.EntityCreated:
		record, err := domain.DecodeEntity(ev.EntityType, ev.Data)
		if err != nil {
			e.logger.WithError(err).Warnf("dropping malformed %s create event %s", ev.EntityType, ev.ID)
			return nil
		}
		e.store.Upsert(record, ev.Timestamp)
		return []Notice{viewNotice}

	case domain.EntityDeleted:
		return e.applyRemoteDeleteLocked(ev, key, viewNotice)

	case domain.EntityUpdated:
		patch, err := domain.PatchFromJSON(ev.Data)
		if err != nil {
			e.logger.WithError(err).Warnf("dropping malformed %s update event %s", ev.EntityType, ev.ID)
			return nil
		}
		return e.applyRemotePatchLocked(ev, key, patch, viewNotice)

	case domain.EntityMoved:
		var move domain.MoveEventData
		if err := json.Unmarshal(ev.Data, &move); err != nil {
			e.logger.WithError(err).Warnf("dropping malformed move event %s", ev.ID)
			return nil
		}
		patch := domain.Patch{"columnId": move.ColumnID, "position": move.Position}
		if op, ok := e.pending[key]; ok {
			if overlap := op.patch.Overlap(patch); len(overlap) > 0 {
				return e.raiseRemoteConflictLocked(ev, op, patch, overlap, viewNotice)
			}
		}
		e.store.MoveTask(ev.EntityID, move.ColumnID, move.Position, ev.Timestamp)
		return []Notice{viewNotice}
	}

	e.logger.Warnf("unknown event type %q (%s)", ev.Type, ev.ID)
	return nil
}

// applyRemoteDeleteLocked makes the server's delete win over everything:
// pending local work on the entity is cancelled, its conflicts closed, and
// the id tombstoned so later events and mutations bounce off.
func (e *Engine) applyRemoteDeleteLocked(ev domain.Event, key entityKey, viewNotice Notice) []Notice {
	notices := []Notice{viewNotice}
	if op, ok := e.pending[key]; ok {
		op.cancelled = true
		e.dropOpLocked(op)
		op.metrics.SetOutcome("superseded")
		op.metrics.End(nil)
		notices = append(notices, Notice{
			Topic:      TopicFailures,
			EntityType: key.entityType,
			EntityID:   key.id,
			Error:      fmt.Sprintf("%s %s was deleted remotely", key.entityType, key.id),
		})
	}
	if e.conflicts.dropEntity(key.entityType, key.id) > 0 {
		notices = append(notices, Notice{Topic: TopicConflicts, EntityType: key.entityType, EntityID: key.id})
	}
	e.tombstones[key] = ev.BoardID
	e.store.Remove(key.entityType, key.id)
	e.store.RemoveDanglingTaskRefs(key.entityType, key.id)
	return notices
}

// applyRemotePatchLocked merges a remote update around in-flight local work.
// Fields the pending op does not touch land immediately; intersecting fields
// become a conflict instead of clobbering either side.
func (e *Engine) applyRemotePatchLocked(ev domain.Event, key entityKey, patch domain.Patch, viewNotice Notice) []Notice {
	op, ok := e.pending[key]
	if !ok {
		if !e.store.Apply(key.entityType, key.id, patch, ev.Timestamp) {
			// Update for an entity we never saw; treat the payload as the
			// record if it is complete enough, otherwise drop it.
			if record, err := domain.DecodeEntity(key.entityType, ev.Data); err == nil && recordID(record) != "" {
				e.store.Upsert(record, ev.Timestamp)
			}
		}
		return []Notice{viewNotice}
	}

	overlap := op.patch.Overlap(patch)
	if len(overlap) == 0 {
		e.store.Apply(key.entityType, key.id, patch, ev.Timestamp)
		return []Notice{viewNotice}
	}

	// Disjoint fields still merge; only the contested ones are held back.
	if disjoint := patch.Without(overlap); len(disjoint) > 0 {
		e.store.Apply(key.entityType, key.id, disjoint, ev.Timestamp)
	}
	return e.raiseRemoteConflictLocked(ev, op, patch, overlap, viewNotice)
}

func (e *Engine) raiseRemoteConflictLocked(ev domain.Event, op *pendingOp, patch domain.Patch, overlap []string, viewNotice Notice) []Notice {
	c := e.conflicts.add(Conflict{
		EntityType: op.key.entityType,
		EntityID:   op.key.id,
		Fields:     overlap,
		Local:      op.patch.Pick(overlap),
		LocalTime:  op.issuedAt,
		Remote:     patch.Pick(overlap),
		RemoteTime: ev.Timestamp,
	})

	notices := []Notice{viewNotice, {Topic: TopicConflicts, EntityType: c.EntityType, EntityID: c.EntityID, BoardID: op.boardID}}
	if e.autoResolve {
		if job := e.autoResolveLocked(c); job != nil {
			// The re-issued mutation has to leave the lock scope before it
			// can be dispatched; stash it on the engine for the caller.
			e.deferredJobs = append(e.deferredJobs, *job)
		}
	}
	return notices
}

// optimisticOverlay captures local unconfirmed state so a resync can replay
// it over the fresh snapshot.
type optimisticOverlay struct {
	op     *pendingOp
	record any
}

// Resync replaces the given boards' state with authoritative snapshots,
// re-applying pending local mutations on top. It is the recovery path after
// a stream gap or reconnect.
func (e *Engine) Resync(ctx context.Context, boardIDs ...string) error {
	for _, boardID := range boardIDs {
		fetchCtx, cancel := context.WithTimeout(ctx, e.resyncTimeout)
		snap, err := e.api.FetchBoard(fetchCtx, boardID)
		cancel()
		if err != nil {
			return fmt.Errorf("resync board %s: %w", boardID, err)
		}
		e.applySnapshot(boardID, snap)
	}
	return nil
}

// ResyncAll refreshes every board the engine currently knows about.
func (e *Engine) ResyncAll(ctx context.Context) error {
	e.mu.Lock()
	seen := make(map[string]struct{})
	for _, b := range e.store.Boards(nil) {
		seen[b.ID] = struct{}{}
	}
	for _, op := range e.pending {
		if op.boardID != "" {
			seen[op.boardID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	return e.Resync(ctx, ids...)
}

func (e *Engine) applySnapshot(boardID string, snap domain.BoardSnapshot) {
	e.mu.Lock()

	// Preserve unconfirmed local work before dropping the board's state.
	var overlays []optimisticOverlay
	for _, op := range e.pending {
		if op.boardID != boardID {
			continue
		}
		ov := optimisticOverlay{op: op}
		if op.kind == opCreate {
			if record, ok := e.store.Get(op.key.entityType, op.key.id); ok {
				ov.record = record
			}
		}
		overlays = append(overlays, ov)
	}

	e.store.DropBoard(boardID)

	// The snapshot is authoritative for the whole board: entities absent
	// from it are simply absent, so the board's tombstones can go too.
	for k, bid := range e.tombstones {
		if bid == boardID {
			delete(e.tombstones, k)
		}
	}

	// Anything the server still returns is alive again.
	delete(e.tombstones, entityKey{domain.EntityBoard, snap.Board.ID})
	e.store.Upsert(snap.Board, 0)
	for _, c := range snap.Columns {
		delete(e.tombstones, entityKey{domain.EntityColumn, c.ID})
		e.store.Upsert(c, 0)
	}
	for _, t := range snap.Tasks {
		delete(e.tombstones, entityKey{domain.EntityTask, t.ID})
		e.store.Upsert(t, 0)
	}
	for _, l := range snap.Labels {
		delete(e.tombstones, entityKey{domain.EntityLabel, l.ID})
		e.store.Upsert(l, 0)
	}
	for _, u := range snap.Users {
		delete(e.tombstones, entityKey{domain.EntityUser, u.ID})
		e.store.Upsert(u, 0)
	}

	for _, ov := range overlays {
		op := ov.op
		switch op.kind {
		case opCreate:
			if ov.record != nil {
				e.store.Upsert(ov.record, 0)
			}
		case opDelete:
			e.store.Remove(op.key.entityType, op.key.id)
		case opMove:
			e.store.MoveTask(op.key.id, op.move.ColumnID, op.move.Position, op.issuedAt)
			if rest := op.patch.Without([]string{"columnId", "position"}); len(rest) > 0 {
				e.store.Apply(op.key.entityType, op.key.id, rest, op.issuedAt)
			}
		default:
			e.store.Apply(op.key.entityType, op.key.id, op.patch, op.issuedAt)
		}
	}
	e.mu.Unlock()

	e.broker.notify(Notice{Topic: TopicView, BoardID: boardID})
}
