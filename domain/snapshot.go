package domain

// BoardSnapshot is the full authoritative state of one board, fetched after a
// stream reconnect instead of trusting possibly-stale buffered events.
type BoardSnapshot struct {
	Board   Board    `json:"board"`
	Columns []Column `json:"columns"`
	Tasks   []Task   `json:"tasks"`
	Labels  []Label  `json:"labels"`
	Users   []User   `json:"users"`
}
