package domain

import "time"

// AuditLog represents a security audit event.
type AuditLog struct {
	ID        string
	AccountID string // empty when the principal is unknown (e.g. sign-in with an unknown email)
	SessionID string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
