package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"boardsync/client"
	"boardsync/domain"
)

// Operation kinds.
const (
	opCreate = "create"
	opUpdate = "update"
	opMove   = "move"
	opDelete = "delete"
)

type entityKey struct {
	entityType string
	id         string
}

// pendingIntent is a mutation queued behind an in-flight operation on the
// same entity. It becomes a fresh pending operation once the first resolves.
type pendingIntent struct {
	kind  string
	patch domain.Patch
	move  domain.MoveEventData
	force bool
}

// pendingOp is a local mutation not yet confirmed by the server. At most one
// exists per (entityType, id); later mutations coalesce into it.
type pendingOp struct {
	id             string
	key            entityKey
	boardID        string
	kind           string
	patch          domain.Patch
	move           domain.MoveEventData
	payload        any
	force          bool
	idempotencyKey string
	issuedAt       int64
	attempts       int
	cancelled      bool
	next           *pendingIntent

	snapshot      any
	moveSnapshots []domain.Task
	metrics       *mutationMetrics
}

func errConflictNotFound(id string) error { return fmt.Errorf("conflict %s not found", id) }
func errConflictResolved(id string) error { return fmt.Errorf("conflict %s already resolved", id) }

// BeginCreate writes a provisional entity under a provisional id, registers a
// pending operation and fires the network create. The returned id is valid
// for reads and further mutations until commit replaces it.
func (e *Engine) BeginCreate(entityType string, patch domain.Patch) (string, error) {
	e.mu.Lock()
	tempID, job, err := e.beginCreateLocked(entityType, patch)
	e.mu.Unlock()
	if err != nil {
		return "", err
	}
	e.broker.notify(Notice{Topic: TopicView, EntityType: entityType, EntityID: tempID})
	e.disp.dispatch(*job)
	return tempID, nil
}

func (e *Engine) beginCreateLocked(entityType string, patch domain.Patch) (string, *dispatchJob, error) {
	if patch == nil {
		patch = domain.Patch{}
	}
	ts := e.now()
	tempID := domain.NewProvisionalID()
	record, err := recordFromPatch(entityType, tempID, patch, ts)
	if err != nil {
		return "", nil, &client.ValidationError{Message: err.Error()}
	}
	if err := e.store.Upsert(record, ts); err != nil {
		return "", nil, &client.ValidationError{Message: err.Error()}
	}

	op := &pendingOp{
		id:             uuid.NewString(),
		key:            entityKey{entityType, tempID},
		boardID:        boardIDOf(record),
		kind:           opCreate,
		patch:          patch.Clone(),
		payload:        record,
		idempotencyKey: uuid.NewString(),
		issuedAt:       ts,
		metrics:        newMutationMetrics(context.Background(), e.logger, opCreate, entityType, tempID),
	}
	e.registerLocked(op)
	job := op.job()
	return tempID, &job, nil
}

// BeginUpdate applies the patch optimistically and registers (or coalesces
// into) the pending operation for the entity.
func (e *Engine) BeginUpdate(entityType, id string, patch domain.Patch) error {
	e.mu.Lock()
	ts := e.now()
	key := entityKey{entityType, id}
	if _, gone := e.tombstones[key]; gone {
		e.mu.Unlock()
		return &client.StaleReferenceError{EntityType: entityType, EntityID: id}
	}
	if _, ok := e.store.Get(entityType, id); !ok {
		e.mu.Unlock()
		return &client.StaleReferenceError{EntityType: entityType, EntityID: id}
	}
	job := e.enqueuePatchLocked(entityType, id, patch, false, ts)
	e.mu.Unlock()

	e.broker.notify(Notice{Topic: TopicView, EntityType: entityType, EntityID: id})
	if job != nil {
		e.disp.dispatch(*job)
	}
	return nil
}

// enqueuePatchLocked makes a patch visible in the store and either starts a
// new pending op (returning its job) or coalesces into the existing one
// (returning nil — no second concurrent request).
func (e *Engine) enqueuePatchLocked(entityType, id string, patch domain.Patch, force bool, ts int64) *dispatchJob {
	if patch == nil {
		patch = domain.Patch{}
	}
	key := entityKey{entityType, id}
	snapshot, _ := e.store.Get(entityType, id)
	e.store.Apply(entityType, id, patch, ts)

	if op, ok := e.pending[key]; ok {
		op.patch.Merge(patch)
		op.force = op.force || force
		if op.next == nil {
			op.next = &pendingIntent{kind: opUpdate, patch: patch.Clone(), force: force}
		} else {
			op.next.patch.Merge(patch)
			op.next.force = op.next.force || force
		}
		op.metrics.SetCoalesced()
		return nil
	}

	op := &pendingOp{
		id:             uuid.NewString(),
		key:            key,
		boardID:        boardIDOfStored(snapshot),
		kind:           opUpdate,
		patch:          patch.Clone(),
		force:          force,
		idempotencyKey: uuid.NewString(),
		issuedAt:       ts,
		snapshot:       snapshot,
		metrics:        newMutationMetrics(context.Background(), e.logger, opUpdate, entityType, id),
	}
	e.registerLocked(op)
	job := op.job()
	return &job
}

// BeginMoveTask atomically changes a task's (columnId, position), shifting
// siblings and deriving status from the target column's type.
func (e *Engine) BeginMoveTask(taskID, targetColumnID string, targetPos int) error {
	e.mu.Lock()
	job, err := e.beginMoveLocked(taskID, targetColumnID, targetPos)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.broker.notify(Notice{Topic: TopicView, EntityType: domain.EntityTask, EntityID: taskID})
	if job != nil {
		e.disp.dispatch(*job)
	}
	return nil
}

func (e *Engine) beginMoveLocked(taskID, targetColumnID string, targetPos int) (*dispatchJob, error) {
	key := entityKey{domain.EntityTask, taskID}
	if _, gone := e.tombstones[key]; gone {
		return nil, &client.StaleReferenceError{EntityType: domain.EntityTask, EntityID: taskID}
	}
	task, ok := e.store.Task(taskID)
	if !ok {
		return nil, &client.StaleReferenceError{EntityType: domain.EntityTask, EntityID: taskID}
	}
	if _, ok := e.store.Column(targetColumnID); !ok {
		return nil, &client.StaleReferenceError{EntityType: domain.EntityColumn, EntityID: targetColumnID}
	}

	// Snapshot every task in the source and target columns so rollback can
	// rewind the sibling renumbering too.
	snapshots := e.store.Tasks(func(t domain.Task) bool {
		return t.ColumnID == task.ColumnID || t.ColumnID == targetColumnID
	})

	ts := e.now()
	e.store.MoveTask(taskID, targetColumnID, targetPos, ts)
	move := domain.MoveEventData{ColumnID: targetColumnID, Position: targetPos}
	movePatch := domain.Patch{"columnId": targetColumnID, "position": targetPos}

	if op, ok := e.pending[key]; ok {
		op.patch.Merge(movePatch)
		op.moveSnapshots = mergeSnapshots(op.moveSnapshots, snapshots)
		if op.next == nil {
			op.next = &pendingIntent{kind: opMove, move: move, patch: movePatch.Clone()}
		} else {
			op.next.kind = opMove
			op.next.move = move
			op.next.patch.Merge(movePatch)
		}
		op.metrics.SetCoalesced()
		return nil, nil
	}

	op := &pendingOp{
		id:             uuid.NewString(),
		key:            key,
		boardID:        task.BoardID,
		kind:           opMove,
		patch:          movePatch,
		move:           move,
		idempotencyKey: uuid.NewString(),
		issuedAt:       ts,
		snapshot:       task,
		moveSnapshots:  snapshots,
		metrics:        newMutationMetrics(context.Background(), e.logger, opMove, domain.EntityTask, taskID),
	}
	e.registerLocked(op)
	job := op.job()
	return &job, nil
}

// BeginDelete removes the entity optimistically; the record is restorable
// until the server confirms.
func (e *Engine) BeginDelete(entityType, id string) error {
	e.mu.Lock()
	job, err := e.beginDeleteLocked(entityType, id)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.broker.notify(Notice{Topic: TopicView, EntityType: entityType, EntityID: id})
	if job != nil {
		e.disp.dispatch(*job)
	}
	return nil
}

func (e *Engine) beginDeleteLocked(entityType, id string) (*dispatchJob, error) {
	key := entityKey{entityType, id}
	if _, gone := e.tombstones[key]; gone {
		return nil, &client.StaleReferenceError{EntityType: entityType, EntityID: id}
	}
	snapshot, ok := e.store.Get(entityType, id)
	if !ok {
		return nil, &client.StaleReferenceError{EntityType: entityType, EntityID: id}
	}
	e.store.Remove(entityType, id)

	if op, ok := e.pending[key]; ok {
		op.next = &pendingIntent{kind: opDelete}
		op.metrics.SetCoalesced()
		return nil, nil
	}

	op := &pendingOp{
		id:             uuid.NewString(),
		key:            key,
		boardID:        boardIDOfStored(snapshot),
		kind:           opDelete,
		patch:          domain.Patch{},
		idempotencyKey: uuid.NewString(),
		issuedAt:       e.now(),
		snapshot:       snapshot,
		metrics:        newMutationMetrics(context.Background(), e.logger, opDelete, entityType, id),
	}
	e.registerLocked(op)
	job := op.job()
	return &job, nil
}

func (e *Engine) registerLocked(op *pendingOp) {
	e.pending[op.key] = op
	e.ops[op.id] = op
}

func (e *Engine) dropOpLocked(op *pendingOp) {
	delete(e.ops, op.id)
	if cur, ok := e.pending[op.key]; ok && cur == op {
		delete(e.pending, op.key)
	}
}

func (op *pendingOp) job() dispatchJob {
	return dispatchJob{
		opID:           op.id,
		kind:           op.kind,
		entityType:     op.key.entityType,
		entityID:       op.key.id,
		payload:        op.payload,
		patch:          op.patch.Clone(),
		move:           op.move,
		idempotencyKey: op.idempotencyKey,
		force:          op.force,
	}
}

// finishOp is the dispatcher's completion callback. It routes the result to
// commit, conflict or rollback under the engine lock and fans out notices
// after releasing it.
func (e *Engine) finishOp(opID string, raw json.RawMessage, attempts int, err error) {
	e.mu.Lock()
	op, ok := e.ops[opID]
	if !ok || op.cancelled {
		e.mu.Unlock()
		return
	}
	op.attempts += attempts
	op.metrics.SetAttempts(op.attempts)

	var notices []Notice
	var followJob *dispatchJob
	if err == nil {
		followJob, notices = e.commitLocked(op, raw)
	} else {
		var conflictErr *client.ConflictError
		if errors.As(err, &conflictErr) {
			followJob, notices = e.conflictLocked(op, conflictErr)
		} else {
			notices = e.rollbackLocked(op, err)
		}
	}
	e.mu.Unlock()

	for _, n := range notices {
		e.broker.notify(n)
	}
	if followJob != nil {
		e.disp.dispatch(*followJob)
	}
}

// commitLocked finalizes a confirmed operation: provisional ids are replaced
// everywhere, server-authoritative fields land over the optimistic ones, and
// any queued follow-up becomes a fresh pending operation.
func (e *Engine) commitLocked(op *pendingOp, raw json.RawMessage) (*dispatchJob, []Notice) {
	e.dropOpLocked(op)
	entityType := op.key.entityType
	entityID := op.key.id

	switch op.kind {
	case opDelete:
		e.tombstones[op.key] = op.boardID
		e.conflicts.dropEntity(entityType, entityID)
	default:
		if len(raw) > 0 {
			record, err := domain.DecodeEntity(entityType, raw)
			if err != nil {
				e.logger.WithError(err).Errorf("malformed server record for %s %s, keeping optimistic state", entityType, entityID)
			} else {
				serverID := recordID(record)
				if op.kind == opCreate && serverID != "" && serverID != entityID {
					e.store.ReplaceID(entityType, entityID, serverID)
					entityID = serverID
				}
				e.store.Upsert(record, 0)
			}
		}
	}

	op.metrics.SetOutcome("committed")
	op.metrics.End(nil)

	notices := []Notice{{Topic: TopicView, EntityType: entityType, EntityID: entityID, BoardID: op.boardID}}

	next := op.next
	if next == nil || next.kind == "" {
		return nil, notices
	}

	// The follow-up was already applied optimistically; re-apply it over the
	// server record and dispatch it as its own operation.
	key := entityKey{entityType, entityID}
	snapshot, _ := e.store.Get(entityType, entityID)
	if len(next.patch) > 0 {
		e.store.Apply(entityType, entityID, next.patch, op.issuedAt)
	}
	if next.kind == opDelete {
		e.store.Remove(entityType, entityID)
	}
	newOp := &pendingOp{
		id:             uuid.NewString(),
		key:            key,
		boardID:        op.boardID,
		kind:           next.kind,
		patch:          next.patch.Clone(),
		move:           next.move,
		force:          next.force,
		idempotencyKey: uuid.NewString(),
		issuedAt:       e.now(),
		snapshot:       snapshot,
		metrics:        newMutationMetrics(context.Background(), e.logger, next.kind, entityType, entityID),
	}
	if newOp.patch == nil {
		newOp.patch = domain.Patch{}
	}
	e.registerLocked(newOp)
	job := newOp.job()
	return &job, notices
}

// conflictLocked routes a stale-version response to the conflict queue. Local
// optimistic state stays in place; nothing is silently discarded.
func (e *Engine) conflictLocked(op *pendingOp, cerr *client.ConflictError) (*dispatchJob, []Notice) {
	e.dropOpLocked(op)

	remote, err := domain.PatchFromJSON(cerr.Remote)
	if err != nil {
		e.logger.WithError(err).Errorf("malformed conflict payload for %s %s", op.key.entityType, op.key.id)
		remote = domain.Patch{}
	}
	fields := op.patch.FieldNames()
	c := e.conflicts.add(Conflict{
		EntityType: op.key.entityType,
		EntityID:   op.key.id,
		Fields:     fields,
		Local:      op.patch.Clone(),
		LocalTime:  op.issuedAt,
		Remote:     remote.Pick(fields),
		RemoteTime: remoteTimestamp(remote),
	})

	op.metrics.SetOutcome("conflict")
	op.metrics.End(nil)

	notices := []Notice{{Topic: TopicConflicts, EntityType: c.EntityType, EntityID: c.EntityID, BoardID: op.boardID}}

	// A coalesced update is already covered by the op's own patch and lives
	// on in the conflict record, but a queued delete or move would vanish
	// with the contested request. Promote it to its own operation.
	if followJob := e.promoteNextLocked(op); followJob != nil {
		return followJob, notices
	}

	if e.autoResolve {
		job := e.autoResolveLocked(c)
		notices = append(notices, Notice{Topic: TopicView, EntityType: c.EntityType, EntityID: c.EntityID})
		return job, notices
	}
	return nil, notices
}

// promoteNextLocked registers a queued delete or move intent as a fresh
// pending operation. The store already reflects the intent; only the network
// call is outstanding. Rollback restores the op's original snapshot, which is
// the state the user saw before the whole coalesced sequence began.
func (e *Engine) promoteNextLocked(op *pendingOp) *dispatchJob {
	next := op.next
	if next == nil || (next.kind != opDelete && next.kind != opMove) {
		return nil
	}
	newOp := &pendingOp{
		id:             uuid.NewString(),
		key:            op.key,
		boardID:        op.boardID,
		kind:           next.kind,
		patch:          next.patch.Clone(),
		move:           next.move,
		force:          next.force,
		idempotencyKey: uuid.NewString(),
		issuedAt:       e.now(),
		snapshot:       op.snapshot,
		moveSnapshots:  op.moveSnapshots,
		metrics:        newMutationMetrics(context.Background(), e.logger, next.kind, op.key.entityType, op.key.id),
	}
	if newOp.patch == nil {
		newOp.patch = domain.Patch{}
	}
	e.registerLocked(newOp)
	job := newOp.job()
	return &job
}

// autoResolveLocked applies last-writer-wins. Off by default: silent data
// loss is unacceptable for collaborative editing, so the policy must be
// opted into explicitly at construction.
func (e *Engine) autoResolveLocked(c *Conflict) *dispatchJob {
	strategy := KeepRemote
	if c.LocalTime >= c.RemoteTime {
		strategy = KeepLocal
	}
	job, err := e.applyResolutionLocked(c, strategy, nil)
	if err != nil {
		e.logger.WithError(err).Error("auto-resolve failed")
		return nil
	}
	return job
}

// rollbackLocked restores the pre-mutation snapshot and surfaces the error.
func (e *Engine) rollbackLocked(op *pendingOp, opErr error) []Notice {
	e.dropOpLocked(op)

	// Rewind sibling renumbering before the entity's own snapshot so the
	// final state matches the store as it was before the mutation began.
	for _, t := range op.moveSnapshots {
		e.store.Upsert(t, 0)
	}
	switch op.kind {
	case opCreate:
		e.store.Remove(op.key.entityType, op.key.id)
	default:
		if op.snapshot != nil {
			e.store.Upsert(op.snapshot, 0)
		}
	}

	var staleErr *client.StaleReferenceError
	if errors.As(opErr, &staleErr) {
		e.store.Remove(op.key.entityType, op.key.id)
		e.store.RemoveDanglingTaskRefs(op.key.entityType, op.key.id)
		e.tombstones[op.key] = op.boardID
	}

	op.metrics.SetOutcome("rolled-back")
	op.metrics.End(opErr)

	return []Notice{
		{Topic: TopicView, EntityType: op.key.entityType, EntityID: op.key.id, BoardID: op.boardID},
		{Topic: TopicFailures, EntityType: op.key.entityType, EntityID: op.key.id, Error: opErr.Error()},
	}
}

// recordFromPatch builds a fresh record of the given type from a creation
// patch, stamping the provisional id and creation time.
func recordFromPatch(entityType, id string, patch domain.Patch, ts int64) (any, error) {
	switch entityType {
	case domain.EntityTask:
		var t domain.Task
		patch.ApplyToTask(&t)
		t.ID = id
		t.CreatedAt = ts
		t.UpdatedAt = ts
		return t, nil
	case domain.EntityBoard:
		var b domain.Board
		patch.ApplyToBoard(&b)
		b.ID = id
		b.CreatedAt = ts
		b.UpdatedAt = ts
		return b, nil
	case domain.EntityColumn:
		var c domain.Column
		patch.ApplyToColumn(&c)
		c.ID = id
		c.CreatedAt = ts
		c.UpdatedAt = ts
		return c, nil
	case domain.EntityLabel:
		var l domain.Label
		patch.ApplyToLabel(&l)
		l.ID = id
		l.CreatedAt = ts
		l.UpdatedAt = ts
		return l, nil
	case domain.EntityUser:
		var u domain.User
		patch.ApplyToUser(&u)
		u.ID = id
		u.CreatedAt = ts
		u.UpdatedAt = ts
		return u, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", entityType)
}

func recordID(record any) string {
	switch r := record.(type) {
	case domain.Task:
		return r.ID
	case domain.Board:
		return r.ID
	case domain.Column:
		return r.ID
	case domain.Label:
		return r.ID
	case domain.User:
		return r.ID
	}
	return ""
}

func boardIDOf(record any) string {
	switch r := record.(type) {
	case domain.Task:
		return r.BoardID
	case domain.Column:
		return r.BoardID
	case domain.Board:
		return r.ID
	}
	return ""
}

func boardIDOfStored(record any) string {
	if record == nil {
		return ""
	}
	return boardIDOf(record)
}

func remoteTimestamp(remote domain.Patch) int64 {
	if v, ok := remote["updatedAt"]; ok {
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int64:
			return n
		}
	}
	return 0
}

func mergeSnapshots(existing, extra []domain.Task) []domain.Task {
	seen := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		seen[t.ID] = struct{}{}
	}
	for _, t := range extra {
		if _, ok := seen[t.ID]; !ok {
			existing = append(existing, t)
		}
	}
	return existing
}
