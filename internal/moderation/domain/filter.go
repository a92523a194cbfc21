package domain

import (
	"errors"
	"time"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Filter narrows ledger list queries. Zero values mean "no constraint".
type Filter struct {
	// Q is a case-insensitive substring matched against subject email and name.
	Q     string
	Role  string
	Actor string
	From  *time.Time
	To    *time.Time
	// Roles restricts results to these subject roles. Set by the service from the viewer's
	// visibility; empty means all roles.
	Roles  []string
	Limit  int
	Offset int
}

// Normalize clamps paging and checks the date range.
func (f *Filter) Normalize() error {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return errors.New("to must not be before from")
	}
	return nil
}
