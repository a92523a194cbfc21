// Package broadcast fans account and moderation events out to live sessions.
package broadcast

import (
	"encoding/json"
	"time"
)

// Event types pushed to sessions.
const (
	TypeForceSignout          = "force_signout"
	TypeUserUpdate            = "user_update"
	TypeAdminUpdate           = "admin_update"
	TypeAccountSuspended      = "account_suspended"
	TypeNotificationCreated   = "notificationCreated"
	TypeUnreadCountChanged    = "unreadCountChanged"
	TypeAllNotificationsRead  = "allNotificationsMarkedAsRead"
	TypeManagementGateWarning = "management_gate_warning"
)

// Delta kinds carried by user_update and admin_update.
const (
	DeltaAdd    = "add"
	DeltaUpdate = "update"
	DeltaDelete = "delete"
)

// TopicModeration is shared by every admin session.
const TopicModeration = "moderation"

// AccountTopic is the per-account topic.
func AccountTopic(accountID string) string { return "account:" + accountID }

// Event is one pushed message. UserID or AdminID always names the account the event is about, so
// clients can drop events that are not theirs.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	UserID  string          `json:"userId,omitempty"`
	AdminID string          `json:"adminId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	// Origin is the instance that published the event; the Kafka bridge uses it to skip its own echoes.
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

// ForceSignout is the payload of force_signout.
type ForceSignout struct {
	UserID  string `json:"userId"`
	Action  string `json:"action"`
	Message string `json:"message"`
	// Reauth is true when the sign-out only refreshes privileges.
	Reauth bool `json:"reauth"`
}

// Delta is the payload of user_update and admin_update.
type Delta struct {
	Type    string `json:"type"`
	Account any    `json:"account"`
}
