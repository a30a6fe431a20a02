package domain

import "time"

// Turn roles. A stored conversation alternates user and assistant turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single persisted conversation turn. Turns are immutable once
// written and are removed only by the store's TTL mechanism, never by this
// service.
type Turn struct {
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}
