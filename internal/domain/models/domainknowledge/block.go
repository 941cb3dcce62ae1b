package domainknowledge

import "time"

// Block is a user-scoped domain-knowledge block injected into the system
// prompt by the domain-knowledge trinket when enabled. At most one block
// may be enabled per user at any time (§3 invariant).
type Block struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Label       string    `json:"label"` // snake_case
	Description string    `json:"description"`
	Enabled     bool      `json:"enabled"`
	CachedValue string    `json:"cached_value"`
	SyncedAt    time.Time `json:"synced_at"`
	AgentRef    string    `json:"agent_ref"`
	CreatedAt   time.Time `json:"created_at"`
}
