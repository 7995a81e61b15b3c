package domain

import "time"

// Event is one fire-and-forget security telemetry event (login, MFA outcome,
// key rotation). Org/user fields are optional depending on the event.
type Event struct {
	OrgID     string
	UserID    string
	EventType string
	Source    string
	Metadata  []byte // JSON
	CreatedAt time.Time
}
