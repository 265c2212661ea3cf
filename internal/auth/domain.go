package auth

import "time"

// User represents an authenticated user account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EventKind enumerates auth-state stream events.
type EventKind uint8

const (
	EventSignedIn EventKind = iota
	EventSignedOut
	EventTokenRefreshed
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventTokenRefreshed:
		return "token_refreshed"
	}
	return "unknown"
}

// Event is a single auth-state transition emitted by the backend.
type Event struct {
	Kind        EventKind
	PrincipalID string
}

// Transition identifies an observed state change. Compared structurally
// for de-duplication.
type Transition struct {
	Kind        EventKind
	PrincipalID string
}
