package domain

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Type values used by this service. Other components may create notifications with their own types.
const (
	TypeGeneral   = "general"
	TypeAdmin     = "admin"
	TypeBroadcast = "broadcast"
	TypeSecurity  = "security"
)

// Notification is one entry of an account's inbox.
type Notification struct {
	ID                 string     `json:"id"`
	RecipientAccountID string     `json:"recipientAccountId"`
	SenderAccountID    string     `json:"senderAccountId,omitempty"` // empty for system notifications
	Title              string     `json:"title"`
	Message            string     `json:"message"`
	Type               string     `json:"type"`
	IsRead             bool       `json:"isRead"`
	CreatedAt          time.Time  `json:"createdAt"`
	ReadAt             *time.Time `json:"readAt,omitempty"`
}

// Validate checks the notification for persistence and defaults Type.
func (n *Notification) Validate() error {
	if n.Type == "" {
		n.Type = TypeGeneral
	}
	return validation.ValidateStruct(n,
		validation.Field(&n.RecipientAccountID, validation.Required),
		validation.Field(&n.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&n.Message, validation.Required, validation.Length(1, 4000)),
		validation.Field(&n.Type, validation.Length(1, 50)),
	)
}

// Clone returns a deep copy of n.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	return &c
}
