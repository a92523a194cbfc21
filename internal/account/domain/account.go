package domain

import (
	"errors"
	"strings"
	"time"
)

// Account is the authorization record of one principal.
type Account struct {
	ID                  string
	Email               string
	Name                string
	Phone               string
	PasswordHash        string
	Role                Role
	IsDefaultAdmin      bool
	AdminApprovalStatus ApprovalStatus
	Status              Status
	BanState            BanState
	FailedLoginCount    int
	LockoutUntil        *time.Time // nil when not locked
	// Version is the compare-and-swap stamp; every committed write increments it.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleRootAdmin Role = "rootadmin"
)

// IsAdmin reports whether r grants access to admin surfaces.
func (r Role) IsAdmin() bool { return r == RoleAdmin || r == RoleRootAdmin }

type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = "none"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

type BanState string

const (
	BanNone       BanState = "none"
	BanSoftbanned BanState = "softbanned"
	BanPurged     BanState = "purged"
)

// Validate checks the account for persistence and fills zero-valued enums with defaults.
func (a *Account) Validate() error {
	if strings.TrimSpace(a.Email) == "" {
		return errors.New("email is required")
	}
	if a.Role == "" {
		a.Role = RoleUser
	}
	if a.AdminApprovalStatus == "" {
		a.AdminApprovalStatus = ApprovalNone
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	if a.BanState == "" {
		a.BanState = BanNone
	}
	if a.IsDefaultAdmin && a.Role != RoleRootAdmin {
		return errors.New("default admin must have role rootadmin")
	}
	return nil
}

// Visible reports whether the account is neither soft-banned nor purged.
func (a *Account) Visible() bool { return a.BanState == BanNone }

// Locked reports whether sign-in is locked at now.
func (a *Account) Locked(now time.Time) bool {
	return a.LockoutUntil != nil && now.Before(*a.LockoutUntil)
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.LockoutUntil != nil {
		t := *a.LockoutUntil
		c.LockoutUntil = &t
	}
	return &c
}

// NormalizeEmail lower-cases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Actor identifies the authenticated principal performing an operation.
type Actor struct {
	ID             string
	SessionID      string
	Role           Role
	IsDefaultAdmin bool
}

// IsAdmin reports whether the actor holds an admin role.
func (a Actor) IsAdmin() bool { return a.Role.IsAdmin() }

// View is the client-facing projection of an account. It never carries the password hash.
type View struct {
	ID                  string         `json:"id"`
	Email               string         `json:"email"`
	Name                string         `json:"name,omitempty"`
	Phone               string         `json:"phone,omitempty"`
	Role                Role           `json:"role"`
	IsDefaultAdmin      bool           `json:"isDefaultAdmin"`
	AdminApprovalStatus ApprovalStatus `json:"adminApprovalStatus"`
	Status              Status         `json:"status"`
	BanState            BanState       `json:"banState"`
	Version             int64          `json:"version"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// View returns the client-facing projection of a.
func (a *Account) View() View {
	return View{
		ID:                  a.ID,
		Email:               a.Email,
		Name:                a.Name,
		Phone:               a.Phone,
		Role:                a.Role,
		IsDefaultAdmin:      a.IsDefaultAdmin,
		AdminApprovalStatus: a.AdminApprovalStatus,
		Status:              a.Status,
		BanState:            a.BanState,
		Version:             a.Version,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}
