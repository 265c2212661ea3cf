package notify

import "time"

// TypeSecurity marks notifications produced by security events.
const TypeSecurity = "security"

// Notification is a row in the notifications table, read by clients
// through a change subscription.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      string
	IsRead    bool
	CreatedAt time.Time
}
