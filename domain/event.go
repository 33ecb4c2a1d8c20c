package domain

import "encoding/json"

// Entity type names used across events, commands and the store.
const (
	EntityBoard  = "board"
	EntityColumn = "column"
	EntityTask   = "task"
	EntityLabel  = "label"
	EntityUser   = "user"
)

// Real-time event types delivered by the transport.
const (
	EntityCreated   = "entity-created"
	EntityUpdated   = "entity-updated"
	EntityMoved     = "entity-moved"
	EntityDeleted   = "entity-deleted"
	PresenceChanged = "presence-changed"
)

// Event is a single inbound real-time message. Events are causally ordered
// per connection; the stream may drop or duplicate across reconnects.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EntityType string          `json:"entityType,omitempty"`
	EntityID   string          `json:"entityId,omitempty"`
	BoardID    string          `json:"boardId,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// MoveEventData is the payload of an entity-moved event.
type MoveEventData struct {
	ColumnID string `json:"columnId"`
	Position int    `json:"position"`
}
