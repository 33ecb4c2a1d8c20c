package domain

// BoardSettings holds per-board behaviour toggles.
type BoardSettings struct {
	WIPLimitEnabled bool `json:"wipLimitEnabled,omitempty"`
	AutoArchiveDays int  `json:"autoArchiveDays,omitempty"`
}

// Board is the top-level container for columns and tasks. Columns reference
// the board by id only; the board never holds references back.
type Board struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	OrgID      string        `json:"orgId,omitempty"`
	DivisionID string        `json:"divisionId,omitempty"`
	ProjectID  string        `json:"projectId,omitempty"`
	Visible    bool          `json:"visible"`
	Settings   BoardSettings `json:"settings"`
	CreatedAt  int64         `json:"createdAt,omitempty"`
	UpdatedAt  int64         `json:"updatedAt,omitempty"`
}
