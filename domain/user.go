package domain

// User statuses.
const (
	UserOnline  = "online"
	UserAway    = "away"
	UserOffline = "offline"
)

// User is the durable identity record, distinct from ephemeral presence.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// Cursor is a screen coordinate pair. Cursor updates are the highest-frequency
// inbound event type and are kept out of the entity store entirely.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Presence is ephemeral per-user liveness and location state. Entries whose
// LastSeen exceeds the staleness window are swept to offline.
type Presence struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	BoardID  string `json:"boardId,omitempty"`
	ColumnID string `json:"columnId,omitempty"`
	TaskID   string `json:"taskId,omitempty"`
	Typing   bool   `json:"typing,omitempty"`
	LastSeen int64  `json:"lastSeen"`
}

// PresenceUpdate carries the optional fields of a presence-changed event.
// Nil fields leave the current value untouched.
type PresenceUpdate struct {
	Status   *string `json:"status,omitempty"`
	BoardID  *string `json:"boardId,omitempty"`
	ColumnID *string `json:"columnId,omitempty"`
	TaskID   *string `json:"taskId,omitempty"`
	Typing   *bool   `json:"typing,omitempty"`
	Cursor   *Cursor `json:"cursor,omitempty"`
}
