// Package engine is the collaborative board state engine: it applies user
// mutations optimistically ahead of server confirmation, reconciles inbound
// real-time events against in-flight mutations, queues conflicts instead of
// silently overwriting, and projects filtered board views.
//
// All store mutations are serialized behind a single lock: no two mutations
// interleave mid-write, and asynchronous completions re-enter through the
// same lock before touching state.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/presence"
	"boardsync/store"
	"boardsync/view"
)

// API is the network collaborator contract. Implementations return errors
// from the client taxonomy so the engine can classify outcomes.
type API interface {
	CreateEntity(ctx context.Context, entityType string, payload any, idempotencyKey string) (json.RawMessage, error)
	UpdateEntity(ctx context.Context, entityType, id string, patch domain.Patch, idempotencyKey string, force bool) (json.RawMessage, error)
	MoveTask(ctx context.Context, id, targetColumnID string, targetPosition int, idempotencyKey string) (json.RawMessage, error)
	DeleteEntity(ctx context.Context, entityType, id, idempotencyKey string) error
	FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Config carries engine construction parameters. Zero values get defaults.
type Config struct {
	API      API
	Logger   *log.Logger
	Presence *presence.Tracker

	Workers        int
	Buffer         int
	OpTimeout      time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	MaxAttempts    int
	ResyncTimeout  time.Duration
	AutoResolveLWW bool
}

// Engine owns the entity store and every piece of unconfirmed local state.
type Engine struct {
	mu        sync.Mutex
	store     *store.Store
	pres      *presence.Tracker
	api       API
	logger    *log.Logger
	broker    *Broker
	disp      *dispatcher
	pending   map[entityKey]*pendingOp
	ops       map[string]*pendingOp
	conflicts *conflictQueue
	// tombstones maps deleted entities to their board so a board resync can
	// prune every tombstone the board accumulated, not just the ids the
	// server still returns.
	tombstones map[entityKey]string

	// deferredJobs holds mutations produced while the lock is held (e.g.
	// auto-resolved conflicts); they are dispatched after it is released.
	deferredJobs []dispatchJob

	autoResolve   bool
	resyncTimeout time.Duration
	now           func() int64
}

// New constructs an engine and starts its dispatcher workers. Callers must
// Close it to stop them.
func New(cfg Config) *Engine {
	if cfg.API == nil {
		panic("engine: API is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	pres := cfg.Presence
	if pres == nil {
		pres = presence.NewTracker(presence.DefaultStaleAfter)
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = 30 * time.Second
	}

	e := &Engine{
		store:         store.New(),
		pres:          pres,
		api:           cfg.API,
		logger:        logger,
		broker:        newBroker(),
		pending:       make(map[entityKey]*pendingOp),
		ops:           make(map[string]*pendingOp),
		conflicts:     newConflictQueue(),
		tombstones:    make(map[entityKey]string),
		autoResolve:   cfg.AutoResolveLWW,
		resyncTimeout: cfg.ResyncTimeout,
		now:           nextTimestamp,
	}
	e.disp = newDispatcher(dispatcherConfig{
		workers:      cfg.Workers,
		buffer:       cfg.Buffer,
		opTimeout:    cfg.OpTimeout,
		retryInitial: cfg.RetryInitial,
		retryMax:     cfg.RetryMax,
		maxAttempts:  cfg.MaxAttempts,
	}, cfg.API, logger, e.finishOp)
	e.disp.start()
	return e
}

// Close stops the dispatcher workers. In-flight results after Close are
// dropped; optimistic state is process-local anyway.
func (e *Engine) Close() {
	e.disp.stop()
}

// Subscribe registers for change notices. See Broker.
func (e *Engine) Subscribe() chan Notice { return e.broker.Subscribe() }

// Unsubscribe removes a notice subscriber.
func (e *Engine) Unsubscribe(ch chan Notice) { e.broker.Unsubscribe(ch) }

// BoardView projects the filtered, ordered working set of one board.
func (e *Engine) BoardView(boardID string, f domain.FilterState) (view.BoardView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return view.Project(e.store, boardID, f)
}

// Task returns one task by id.
func (e *Engine) Task(id string) (domain.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Task(id)
}

// Boards lists all known boards.
func (e *Engine) Boards() []domain.Board {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Boards(nil)
}

// Conflicts returns the open conflict queue in raise order.
func (e *Engine) Conflicts() []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflicts.open()
}

// AllConflicts returns every conflict including resolved ones.
func (e *Engine) AllConflicts() []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflicts.all()
}

// PendingCount reports the number of outstanding pending operations.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Presence exposes the presence tracker. It has its own lock; cursor traffic
// never contends with store mutations.
func (e *Engine) Presence() *presence.Tracker { return e.pres }

// Resolve applies a resolution strategy to an open conflict. The chooser is
// required for merge-fields and ignored otherwise.
func (e *Engine) Resolve(conflictID, strategy string, chooser FieldChooser) error {
	e.mu.Lock()
	c, ok := e.conflicts.get(conflictID)
	if !ok {
		e.mu.Unlock()
		return errConflictNotFound(conflictID)
	}
	if c.Resolved {
		e.mu.Unlock()
		return errConflictResolved(conflictID)
	}
	job, err := e.applyResolutionLocked(c, strategy, chooser)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.broker.notify(Notice{Topic: TopicConflicts, EntityType: c.EntityType, EntityID: c.EntityID})
	e.broker.notify(Notice{Topic: TopicView, EntityType: c.EntityType, EntityID: c.EntityID})
	if job != nil {
		e.disp.dispatch(*job)
	}
	return nil
}

// applyResolutionLocked mutates store state for the chosen strategy and
// returns a dispatch job when the resolution re-issues a forced mutation.
func (e *Engine) applyResolutionLocked(c *Conflict, strategy string, chooser FieldChooser) (*dispatchJob, error) {
	winner, err := resolveWinner(c, strategy, chooser)
	if err != nil {
		return nil, err
	}
	var job *dispatchJob
	switch strategy {
	case KeepRemote:
		e.applyWinnerLocked(c.EntityType, c.EntityID, winner, c.RemoteTime)
	default:
		// keep-local and merge-fields re-issue the winning value as a fresh
		// forced mutation so the server converges on it.
		ts := e.now()
		e.applyWinnerLocked(c.EntityType, c.EntityID, winner, ts)
		job = e.enqueuePatchLocked(c.EntityType, c.EntityID, winner, true, ts)
	}
	c.Resolved = true
	c.Strategy = strategy
	c.Winner = winner
	return job, nil
}

// applyWinnerLocked lands a winning patch in the store. A task winner that
// repositions the task goes through MoveTask so sibling positions stay dense
// and unique; a plain field apply would write the raw pair and could leave
// two tasks sharing a position.
func (e *Engine) applyWinnerLocked(entityType, id string, winner domain.Patch, ts int64) {
	if entityType == domain.EntityTask {
		if col, pos, ok := e.taskMoveFromPatch(id, winner); ok {
			e.store.MoveTask(id, col, pos, ts)
			if rest := winner.Without([]string{"columnId", "position"}); len(rest) > 0 {
				e.store.Apply(entityType, id, rest, ts)
			}
			return
		}
	}
	e.store.Apply(entityType, id, winner, ts)
}

// taskMoveFromPatch extracts the move target from a patch, filling whichever
// half is absent from the task's current placement. Values may arrive typed
// or as decoded JSON numbers.
func (e *Engine) taskMoveFromPatch(id string, p domain.Patch) (string, int, bool) {
	colV, hasCol := p["columnId"]
	posV, hasPos := p["position"]
	if !hasCol && !hasPos {
		return "", 0, false
	}
	cur, ok := e.store.Task(id)
	if !ok {
		return "", 0, false
	}
	col := cur.ColumnID
	if hasCol {
		if s, ok := colV.(string); ok {
			col = s
		}
	}
	pos := cur.Position
	if hasPos {
		switch n := posV.(type) {
		case int:
			pos = n
		case int64:
			pos = int(n)
		case float64:
			pos = int(n)
		}
	}
	return col, pos, true
}
