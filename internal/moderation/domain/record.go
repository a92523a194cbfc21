// Package domain holds the moderation ledger types: records, reasons, ban policies and query filters.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Action is the kind of transition a ledger record documents.
type Action string

const (
	ActionSuspend   Action = "suspend"
	ActionActivate  Action = "activate"
	ActionSoftban   Action = "softban"
	ActionRestore   Action = "restore"
	ActionPurge     Action = "purge"
	ActionPromote   Action = "promote"
	ActionDemote    Action = "demote"
	ActionReapprove Action = "reapprove"

	// ActionRequestAdmin is written by a user asking for admin access.
	ActionRequestAdmin Action = "request_admin"
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
)

// Record is one entry of the moderation ledger. Records are append-only except for the purge stamp
// written onto the latest softban record of an account.
type Record struct {
	ID        string  `json:"id"`
	AccountID string  `json:"accountId"`
	Action    Action  `json:"action"`
	ActorID   string  `json:"actorId"`
	Reason    Reason  `json:"reason"`
	Policy    *Policy `json:"policy,omitempty"` // nil when the action carries no ban policy
	// Subject snapshot taken at write time so list views survive anonymization.
	SubjectEmail string     `json:"subjectEmail"`
	SubjectName  string     `json:"subjectName"`
	SubjectRole  string     `json:"subjectRole"`
	CreatedAt    time.Time  `json:"createdAt"`
	PurgedAt     *time.Time `json:"purgedAt,omitempty"`
	PurgedBy     string     `json:"purgedBy,omitempty"`
}

// Terminal reports whether the record has been stamped by a purge.
func (r *Record) Terminal() bool { return r.PurgedAt != nil }

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Policy != nil {
		p := *r.Policy
		c.Policy = &p
	}
	if r.PurgedAt != nil {
		t := *r.PurgedAt
		c.PurgedAt = &t
	}
	return &c
}

// ReasonCategory is the enumerated part of a moderation reason.
type ReasonCategory string

const (
	ReasonPolicyViolation ReasonCategory = "policy_violation"
	ReasonSpam            ReasonCategory = "spam"
	ReasonFraud           ReasonCategory = "fraud"
	ReasonHarassment      ReasonCategory = "harassment"
	ReasonFakeListing     ReasonCategory = "fake_listing"
	ReasonInactive        ReasonCategory = "inactive"
	ReasonSelfDeleted     ReasonCategory = "self_deleted"
	ReasonRightsTransfer  ReasonCategory = "rights_transfer"
	// ReasonOther marks a free-text reason; Text carries the content.
	ReasonOther ReasonCategory = "other"
)

var knownCategories = map[ReasonCategory]bool{
	ReasonPolicyViolation: true, ReasonSpam: true, ReasonFraud: true, ReasonHarassment: true,
	ReasonFakeListing: true, ReasonInactive: true, ReasonSelfDeleted: true, ReasonRightsTransfer: true,
}

// Reason is either a known Category or Other(Text). Detail is optional context for both forms.
type Reason struct {
	Category ReasonCategory `json:"category"`
	Text     string         `json:"text,omitempty"`
	Detail   string         `json:"detail,omitempty"`
}

// CategoryReason builds the enumerated form.
func CategoryReason(c ReasonCategory, detail string) Reason {
	return Reason{Category: c, Detail: detail}
}

// OtherReason builds the free-text form.
func OtherReason(text, detail string) Reason {
	return Reason{Category: ReasonOther, Text: text, Detail: detail}
}

// UnmarshalJSON accepts the object form or a bare category string such as "spam". A string that
// is not a known category becomes Other with that text.
func (r *Reason) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if c := ReasonCategory(s); knownCategories[c] || c == "" {
			*r = Reason{Category: c}
		} else {
			*r = OtherReason(s, "")
		}
		return nil
	}
	type plain Reason
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Reason(p)
	return nil
}

// IsZero reports whether no reason was supplied.
func (r Reason) IsZero() bool { return r.Category == "" && r.Text == "" }

// String renders the reason for logs and messages.
func (r Reason) String() string {
	if r.Category == ReasonOther {
		return r.Text
	}
	return string(r.Category)
}

// Validate enforces the variant: a known category with no text, or "other" with non-empty text.
func (r Reason) Validate() error {
	if r.Category == ReasonOther {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Text, validation.Required, validation.Length(1, 500)),
			validation.Field(&r.Detail, validation.Length(0, 2000)),
		)
	}
	if !knownCategories[r.Category] {
		return errors.New("category: must be a known reason category or other")
	}
	if r.Text != "" {
		return errors.New("text: only allowed for category other")
	}
	return validation.ValidateStruct(&r, validation.Field(&r.Detail, validation.Length(0, 2000)))
}

// BanType says whether the banned identity may sign up again.
type BanType string

const (
	BanTypeAllow BanType = "allow"
	BanTypeBan   BanType = "ban"
)

// Policy is the ban policy attached to a softban record.
type Policy struct {
	Category               string  `json:"category"`
	BanType                BanType `json:"banType"`
	AllowResignupAfterDays int     `json:"allowResignupAfterDays"`
	Notes                  string  `json:"notes,omitempty"`
}

// Validate checks the policy fields.
func (p Policy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Category, validation.Length(0, 100)),
		validation.Field(&p.BanType, validation.Required, validation.In(BanTypeAllow, BanTypeBan)),
		validation.Field(&p.AllowResignupAfterDays, validation.Min(0)),
		validation.Field(&p.Notes, validation.Length(0, 2000)),
	)
}
