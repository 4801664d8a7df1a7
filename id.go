package aiflow

import "github.com/google/uuid"

// NewMessageID mints a time-ordered identifier for a freshly created
// assistant message, satisfying the "identifiers are unique per session
// and time-ordered" invariant (§3) via UUIDv7's embedded timestamp.
func NewMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}
