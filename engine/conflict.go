package engine

import (
	"fmt"

	"github.com/google/uuid"

	"boardsync/domain"
)

// Resolution strategies. The set is closed; merge-fields additionally needs a
// caller-supplied chooser.
const (
	KeepLocal   = "keep-local"
	KeepRemote  = "keep-remote"
	MergeFields = "merge-fields"
)

// FieldChooser picks the winning value for one disputed field.
type FieldChooser func(field string, local, remote any) any

// Conflict is a detected disagreement between an unconfirmed local value and
// an authoritative remote value for the same fields.
type Conflict struct {
	ID         string       `json:"id"`
	EntityType string       `json:"entityType"`
	EntityID   string       `json:"entityId"`
	Fields     []string     `json:"fields"`
	Local      domain.Patch `json:"local"`
	LocalTime  int64        `json:"localTime"`
	Remote     domain.Patch `json:"remote"`
	RemoteTime int64        `json:"remoteTime"`
	Resolved   bool         `json:"resolved"`
	Strategy   string       `json:"strategy,omitempty"`
	Winner     domain.Patch `json:"winner,omitempty"`
}

// conflictQueue holds conflicts in raise order. Resolved entries are kept for
// inspection; Open filters them out. Access is serialized by the engine lock.
type conflictQueue struct {
	order []string
	byID  map[string]*Conflict
}

func newConflictQueue() *conflictQueue {
	return &conflictQueue{byID: make(map[string]*Conflict)}
}

func (q *conflictQueue) add(c Conflict) *Conflict {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := c
	q.byID[cp.ID] = &cp
	q.order = append(q.order, cp.ID)
	return &cp
}

func (q *conflictQueue) get(id string) (*Conflict, bool) {
	c, ok := q.byID[id]
	return c, ok
}

// open returns unresolved conflicts in raise order.
func (q *conflictQueue) open() []Conflict {
	out := make([]Conflict, 0, len(q.order))
	for _, id := range q.order {
		if c := q.byID[id]; c != nil && !c.Resolved {
			out = append(out, *c)
		}
	}
	return out
}

// all returns every conflict, resolved included, in raise order.
func (q *conflictQueue) all() []Conflict {
	out := make([]Conflict, 0, len(q.order))
	for _, id := range q.order {
		if c := q.byID[id]; c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// openForEntity returns unresolved conflicts for one entity.
func (q *conflictQueue) openForEntity(entityType, id string) []*Conflict {
	var out []*Conflict
	for _, cid := range q.order {
		c := q.byID[cid]
		if c != nil && !c.Resolved && c.EntityType == entityType && c.EntityID == id {
			out = append(out, c)
		}
	}
	return out
}

// dropEntity discards unresolved conflicts for a deleted entity (tombstone
// priority: deletion is terminal, there is nothing left to resolve).
func (q *conflictQueue) dropEntity(entityType, id string) int {
	dropped := 0
	for _, cid := range q.order {
		c := q.byID[cid]
		if c != nil && !c.Resolved && c.EntityType == entityType && c.EntityID == id {
			c.Resolved = true
			c.Strategy = KeepRemote
			dropped++
		}
	}
	return dropped
}

// resolveWinner computes the winning patch for a strategy without applying it.
func resolveWinner(c *Conflict, strategy string, chooser FieldChooser) (domain.Patch, error) {
	switch strategy {
	case KeepLocal:
		return c.Local.Clone(), nil
	case KeepRemote:
		return c.Remote.Clone(), nil
	case MergeFields:
		if chooser == nil {
			return nil, fmt.Errorf("merge-fields requires a field chooser")
		}
		winner := make(domain.Patch, len(c.Fields))
		for _, f := range c.Fields {
			winner[f] = chooser(f, c.Local[f], c.Remote[f])
		}
		return winner, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", strategy)
}
